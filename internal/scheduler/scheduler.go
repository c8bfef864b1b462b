package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Task names.
const (
	TaskSync              = "sync"
	TaskAggregation       = "aggregation"
	TaskCleanup           = "cleanup"
	TaskNotificationRetry = "notification_retry"
)

var (
	ErrUnknownTask = errors.New("unknown task")
	ErrTaskRunning = errors.New("task already running")
)

// TaskFunc is one run of a recurring task.
type TaskFunc func(ctx context.Context) error

// TaskSpec describes a task to register.
type TaskSpec struct {
	Name        string
	Description string
	Interval    time.Duration
	Enabled     bool
	RunOnStart  bool
	Run         TaskFunc
}

type task struct {
	spec    TaskSpec
	enabled atomic.Bool
	running atomic.Bool

	mu           sync.Mutex
	lastRun      time.Time
	nextRun      time.Time
	lastDuration time.Duration
	lastErr      error
	lastRunID    string
	runs         int
	skipped      int
}

// TaskStatus is a snapshot of one task's state.
type TaskStatus struct {
	Name         string        `json:"name"`
	Description  string        `json:"description,omitempty"`
	Enabled      bool          `json:"enabled"`
	Running      bool          `json:"running"`
	Interval     time.Duration `json:"interval"`
	LastRun      *time.Time    `json:"last_run,omitempty"`
	NextRun      *time.Time    `json:"next_run,omitempty"`
	LastDuration time.Duration `json:"last_duration"`
	LastError    string        `json:"last_error,omitempty"`
	LastRunID    string        `json:"last_run_id,omitempty"`
	Runs         int           `json:"runs"`
	Skipped      int           `json:"skipped"`
}

// SchedulerService runs registered tasks on fixed intervals. Each task is
// single-flight: a tick that arrives while the task is still running is
// dropped and counted as skipped.
type SchedulerService struct {
	logger *zap.Logger
	now    func() time.Time

	mu      sync.RWMutex
	tasks   map[string]*task
	order   []string
	started bool

	stop     chan struct{}
	stopOnce sync.Once
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func NewService(logger *zap.Logger) *SchedulerService {
	return &SchedulerService{
		logger: logger.Named("scheduler"),
		now:    time.Now,
		tasks:  make(map[string]*task),
		stop:   make(chan struct{}),
	}
}

// Register adds a task. It must be called before Start.
func (s *SchedulerService) Register(spec TaskSpec) error {
	if spec.Name == "" || spec.Run == nil {
		return fmt.Errorf("task needs a name and a run function")
	}
	if spec.Interval <= 0 {
		return fmt.Errorf("task %s: interval must be positive", spec.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("task %s: scheduler already started", spec.Name)
	}
	if _, exists := s.tasks[spec.Name]; exists {
		return fmt.Errorf("task %s already registered", spec.Name)
	}

	t := &task{spec: spec}
	t.enabled.Store(spec.Enabled)
	s.tasks[spec.Name] = t
	s.order = append(s.order, spec.Name)
	return nil
}

// Start launches one ticker loop per task. Loops exit when ctx is done or
// Stop is called. Scheduled runs get a context that Stop cancels.
func (s *SchedulerService) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	s.started = true
	s.cancel = cancel
	tasks := make([]*task, 0, len(s.order))
	for _, name := range s.order {
		tasks = append(tasks, s.tasks[name])
	}
	s.mu.Unlock()

	for _, t := range tasks {
		t.mu.Lock()
		if t.spec.RunOnStart {
			t.nextRun = s.now()
		} else {
			t.nextRun = s.now().Add(t.spec.Interval)
		}
		t.mu.Unlock()

		s.wg.Add(1)
		go s.loop(ctx, t)
	}

	s.logger.Info("scheduler started", zap.Int("tasks", len(tasks)))
}

func (s *SchedulerService) loop(ctx context.Context, t *task) {
	defer s.wg.Done()

	if t.spec.RunOnStart {
		s.tick(ctx, t)
	}

	ticker := time.NewTicker(t.spec.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.tick(ctx, t)
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		}
	}
}

// tick starts a background run unless the task is disabled or still running.
func (s *SchedulerService) tick(ctx context.Context, t *task) {
	t.mu.Lock()
	t.nextRun = s.now().Add(t.spec.Interval)
	t.mu.Unlock()

	if !t.enabled.Load() {
		return
	}
	if !t.running.CompareAndSwap(false, true) {
		t.mu.Lock()
		t.skipped++
		t.mu.Unlock()
		s.logger.Warn("task still running, tick skipped", zap.String("task", t.spec.Name))
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_ = s.execute(ctx, t)
	}()
}

// execute runs t once. The caller must have set t.running.
func (s *SchedulerService) execute(ctx context.Context, t *task) error {
	defer t.running.Store(false)

	runID := uuid.NewString()
	log := s.logger.With(zap.String("task", t.spec.Name), zap.String("run_id", runID))
	log.Info("task started")

	start := s.now()
	err := t.spec.Run(ctx)
	elapsed := s.now().Sub(start)

	t.mu.Lock()
	t.lastRun = start
	t.lastDuration = elapsed
	t.lastErr = err
	t.lastRunID = runID
	t.runs++
	t.mu.Unlock()

	if err != nil {
		log.Error("task failed", zap.Duration("duration", elapsed), zap.Error(err))
		return err
	}
	log.Info("task finished", zap.Duration("duration", elapsed))
	return nil
}

func (s *SchedulerService) get(name string) (*task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}
	return t, nil
}

// TriggerNow runs the named task synchronously, regardless of its enabled
// flag, and returns the run's error.
func (s *SchedulerService) TriggerNow(ctx context.Context, name string) error {
	t, err := s.get(name)
	if err != nil {
		return err
	}
	if !t.running.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: %s", ErrTaskRunning, name)
	}

	s.wg.Add(1)
	defer s.wg.Done()
	return s.execute(ctx, t)
}

// SetEnabled turns scheduled runs of the named task on or off.
func (s *SchedulerService) SetEnabled(name string, enabled bool) error {
	t, err := s.get(name)
	if err != nil {
		return err
	}
	t.enabled.Store(enabled)
	s.logger.Info("task toggled", zap.String("task", name), zap.Bool("enabled", enabled))
	return nil
}

// Status returns every task in registration order.
func (s *SchedulerService) Status() []TaskStatus {
	s.mu.RLock()
	tasks := make([]*task, 0, len(s.order))
	for _, name := range s.order {
		tasks = append(tasks, s.tasks[name])
	}
	s.mu.RUnlock()

	out := make([]TaskStatus, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.status())
	}
	return out
}

func (t *task) status() TaskStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := TaskStatus{
		Name:         t.spec.Name,
		Description:  t.spec.Description,
		Enabled:      t.enabled.Load(),
		Running:      t.running.Load(),
		Interval:     t.spec.Interval,
		LastDuration: t.lastDuration,
		LastRunID:    t.lastRunID,
		Runs:         t.runs,
		Skipped:      t.skipped,
	}
	if !t.lastRun.IsZero() {
		lr := t.lastRun
		st.LastRun = &lr
	}
	if !t.nextRun.IsZero() {
		nr := t.nextRun
		st.NextRun = &nr
	}
	if t.lastErr != nil {
		st.LastError = t.lastErr.Error()
	}
	return st
}

// Stop ends the ticker loops, cancels in-flight scheduled runs and waits for
// them to return until ctx is done.
func (s *SchedulerService) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() {
		close(s.stop)
		s.mu.RLock()
		if s.cancel != nil {
			s.cancel()
		}
		s.mu.RUnlock()
	})

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		s.logger.Warn("scheduler stop timed out with runs still in flight", zap.Error(ctx.Err()))
		return ctx.Err()
	}
}
