package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"coinpulse/internal/aggregate"
	"coinpulse/internal/domain"
	"coinpulse/internal/scheduler"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Scheduler is the control surface of the task scheduler.
type Scheduler interface {
	Status() []scheduler.TaskStatus
	TriggerNow(ctx context.Context, name string) error
	SetEnabled(name string, enabled bool) error
}

// Store is the read side of the store adapter the API serves from.
type Store interface {
	IsHealthy(ctx context.Context) bool
	ListNotifications(ctx context.Context, q domain.NotificationQuery) ([]domain.AlertNotification, error)
	QueryAggregatedPoints(ctx context.Context, interval domain.IntervalType, cryptoID *int64, from, to time.Time) ([]domain.AggregatedPricePoint, error)
}

// AggregationReporter exposes the last aggregation pass.
type AggregationReporter interface {
	Last() []aggregate.ClassResult
}

const (
	defaultListLimit = 50
	maxListLimit     = 500
	defaultHistory   = 30 * 24 * time.Hour
)

type Handler struct {
	scheduler  Scheduler
	store      Store
	aggregates AggregationReporter
	logger     *zap.Logger
}

func NewHandler(s Scheduler, store Store, aggregates AggregationReporter, logger *zap.Logger) *Handler {
	return &Handler{scheduler: s, store: store, aggregates: aggregates, logger: logger}
}

// Health reports whether the store is reachable.
// GET /health
func (h *Handler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if !h.store.IsHealthy(ctx) {
		fail(c, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	ok(c, http.StatusOK, gin.H{"status": "ok"})
}

// SchedulerStatus lists every task's state.
// GET /api/v1/scheduler/status
func (h *Handler) SchedulerStatus(c *gin.Context) {
	ok(c, http.StatusOK, h.scheduler.Status())
}

// TriggerTask runs a task now and waits for it.
// POST /api/v1/scheduler/tasks/:task/trigger
func (h *Handler) TriggerTask(c *gin.Context) {
	name := c.Param("task")

	err := h.scheduler.TriggerNow(c.Request.Context(), name)
	switch {
	case errors.Is(err, scheduler.ErrUnknownTask):
		fail(c, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, scheduler.ErrTaskRunning):
		fail(c, http.StatusConflict, err.Error())
		return
	case err != nil:
		h.logger.Warn("triggered task failed", zap.String("task", name), zap.Error(err))
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}

	ok(c, http.StatusOK, h.taskStatus(name))
}

// EnableTask resumes scheduled runs.
// POST /api/v1/scheduler/tasks/:task/enable
func (h *Handler) EnableTask(c *gin.Context) { h.setEnabled(c, true) }

// DisableTask pauses scheduled runs; TriggerTask still works.
// POST /api/v1/scheduler/tasks/:task/disable
func (h *Handler) DisableTask(c *gin.Context) { h.setEnabled(c, false) }

func (h *Handler) setEnabled(c *gin.Context, enabled bool) {
	name := c.Param("task")
	if err := h.scheduler.SetEnabled(name, enabled); err != nil {
		if errors.Is(err, scheduler.ErrUnknownTask) {
			fail(c, http.StatusNotFound, err.Error())
			return
		}
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	ok(c, http.StatusOK, h.taskStatus(name))
}

func (h *Handler) taskStatus(name string) *scheduler.TaskStatus {
	for _, st := range h.scheduler.Status() {
		if st.Name == name {
			st := st
			return &st
		}
	}
	return nil
}

// ListNotifications returns notification history, newest first.
// GET /api/v1/notifications?user_id=&status=&limit=
func (h *Handler) ListNotifications(c *gin.Context) {
	q := domain.NotificationQuery{Limit: defaultListLimit}

	if v := c.Query("user_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			fail(c, http.StatusBadRequest, "invalid user_id")
			return
		}
		q.UserID = id
	}

	if v := c.Query("status"); v != "" {
		status := domain.NotificationStatus(v)
		switch status {
		case domain.NotificationPending, domain.NotificationSent, domain.NotificationFailed:
			q.Status = status
		default:
			fail(c, http.StatusBadRequest, "invalid status")
			return
		}
	}

	if v := c.Query("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit <= 0 {
			fail(c, http.StatusBadRequest, "invalid limit")
			return
		}
		if limit > maxListLimit {
			limit = maxListLimit
		}
		q.Limit = limit
	}

	rows, err := h.store.ListNotifications(c.Request.Context(), q)
	if err != nil {
		h.logger.Error("failed to list notifications", zap.Error(err))
		fail(c, http.StatusInternalServerError, "failed to list notifications")
		return
	}
	if rows == nil {
		rows = []domain.AlertNotification{}
	}
	ok(c, http.StatusOK, rows)
}

// LastAggregation returns the latest result of each interval class.
// GET /api/v1/aggregation/last
func (h *Handler) LastAggregation(c *gin.Context) {
	ok(c, http.StatusOK, h.aggregates.Last())
}

// History returns aggregated points for one asset.
// GET /api/v1/history/:crypto_id?interval=1d&from=&to=
func (h *Handler) History(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("crypto_id"), 10, 64)
	if err != nil || id <= 0 {
		fail(c, http.StatusBadRequest, "invalid crypto_id")
		return
	}

	interval, err := domain.ParseIntervalType(c.DefaultQuery("interval", string(domain.IntervalDaily)))
	if err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}

	to := time.Now().UTC()
	if v := c.Query("to"); v != "" {
		if to, err = time.Parse(time.RFC3339, v); err != nil {
			fail(c, http.StatusBadRequest, "invalid to, expected RFC3339")
			return
		}
	}
	from := to.Add(-defaultHistory)
	if v := c.Query("from"); v != "" {
		if from, err = time.Parse(time.RFC3339, v); err != nil {
			fail(c, http.StatusBadRequest, "invalid from, expected RFC3339")
			return
		}
	}
	if from.After(to) {
		fail(c, http.StatusBadRequest, "from must not be after to")
		return
	}

	points, err := h.store.QueryAggregatedPoints(c.Request.Context(), interval, &id, from, to)
	if err != nil {
		h.logger.Error("failed to query history", zap.Int64("crypto_id", id), zap.Error(err))
		fail(c, http.StatusInternalServerError, "failed to query history")
		return
	}
	if points == nil {
		points = []domain.AggregatedPricePoint{}
	}
	ok(c, http.StatusOK, points)
}
