package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"coinpulse/internal/aggregate"
	"coinpulse/internal/domain"
	"coinpulse/internal/scheduler"
	"coinpulse/pkg/storage/memory"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type fakeAggregates struct{ results []aggregate.ClassResult }

func (f fakeAggregates) Last() []aggregate.ClassResult { return f.results }

type envelope struct {
	Success   bool            `json:"success"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

func setup(t *testing.T) (*gin.Engine, *memory.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := memory.NewStore(10, zap.NewNop())
	s := scheduler.NewService(zap.NewNop())
	_ = s.Register(scheduler.TaskSpec{Name: scheduler.TaskSync, Interval: time.Hour, Enabled: true, Run: func(ctx context.Context) error { return nil }})
	_ = s.Register(scheduler.TaskSpec{Name: scheduler.TaskCleanup, Interval: time.Hour, Enabled: true, Run: func(ctx context.Context) error {
		return errors.New("store unreachable")
	}})

	aggs := fakeAggregates{results: []aggregate.ClassResult{{Interval: domain.IntervalHourly, Points: 3}}}
	h := NewHandler(s, store, aggs, zap.NewNop())
	return NewRouter(h, zap.NewNop()), store
}

func do(t *testing.T, r *gin.Engine, method, path string) (int, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("%s %s: invalid envelope %q: %v", method, path, w.Body.String(), err)
	}
	if env.Timestamp.IsZero() {
		t.Errorf("%s %s: missing timestamp", method, path)
	}
	return w.Code, env
}

// go test -v --run TestHealth
func TestHealth(t *testing.T) {
	r, _ := setup(t)
	code, env := do(t, r, http.MethodGet, "/health")
	if code != http.StatusOK || !env.Success {
		t.Fatalf("unexpected health response: %d %+v", code, env)
	}
}

// go test -v --run TestSchedulerRoutes
func TestSchedulerRoutes(t *testing.T) {
	r, _ := setup(t)

	code, env := do(t, r, http.MethodPost, "/api/v1/scheduler/tasks/sync/trigger")
	if code != http.StatusOK || !env.Success {
		t.Fatalf("trigger sync: %d %+v", code, env)
	}
	var st scheduler.TaskStatus
	if err := json.Unmarshal(env.Data, &st); err != nil || st.Runs != 1 {
		t.Errorf("expected one run in status, got %+v, %v", st, err)
	}

	code, env = do(t, r, http.MethodPost, "/api/v1/scheduler/tasks/cleanup/trigger")
	if code != http.StatusInternalServerError || env.Success || env.Message != "store unreachable" {
		t.Errorf("trigger failing task: %d %+v", code, env)
	}

	code, _ = do(t, r, http.MethodPost, "/api/v1/scheduler/tasks/bogus/trigger")
	if code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown task, got %d", code)
	}

	code, env = do(t, r, http.MethodPost, "/api/v1/scheduler/tasks/sync/disable")
	if code != http.StatusOK || !env.Success {
		t.Fatalf("disable: %d %+v", code, env)
	}

	code, env = do(t, r, http.MethodGet, "/api/v1/scheduler/status")
	var all []scheduler.TaskStatus
	if err := json.Unmarshal(env.Data, &all); err != nil || code != http.StatusOK || len(all) != 2 {
		t.Fatalf("status: %d %s %v", code, env.Data, err)
	}
	if all[0].Name != scheduler.TaskSync || all[0].Enabled {
		t.Errorf("expected sync disabled, got %+v", all[0])
	}
	if all[1].LastError != "store unreachable" {
		t.Errorf("expected cleanup last error, got %+v", all[1])
	}
}

// go test -v --run TestListNotifications
func TestListNotifications(t *testing.T) {
	r, store := setup(t)
	ctx := context.Background()
	for _, uid := range []int64{1, 2, 1} {
		_ = store.InsertNotification(ctx, &domain.AlertNotification{AlertID: 1, UserID: uid, CryptoID: 1, TriggerPrice: 1, PreviousPrice: 1})
	}

	code, env := do(t, r, http.MethodGet, "/api/v1/notifications?user_id=1&status=pending&limit=10")
	var rows []domain.AlertNotification
	if err := json.Unmarshal(env.Data, &rows); err != nil || code != http.StatusOK {
		t.Fatalf("list: %d %s %v", code, env.Data, err)
	}
	if len(rows) != 2 || rows[0].ID != 3 {
		t.Errorf("expected user 1's two rows newest first, got %+v", rows)
	}

	for _, bad := range []string{"?user_id=abc", "?status=lost", "?limit=0"} {
		code, env := do(t, r, http.MethodGet, "/api/v1/notifications"+bad)
		if code != http.StatusBadRequest || env.Success {
			t.Errorf("%s: expected 400, got %d", bad, code)
		}
	}
}

// go test -v --run TestAggregationAndHistory
func TestAggregationAndHistory(t *testing.T) {
	r, store := setup(t)

	code, env := do(t, r, http.MethodGet, "/api/v1/aggregation/last")
	var last []aggregate.ClassResult
	if err := json.Unmarshal(env.Data, &last); err != nil || code != http.StatusOK || len(last) != 1 || last[0].Points != 3 {
		t.Fatalf("aggregation/last: %d %s %v", code, env.Data, err)
	}

	ts := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)
	_, _ = store.InsertAggregatedPoints(context.Background(), []domain.AggregatedPricePoint{
		{CryptoID: 1, IntervalType: domain.IntervalHourly, Timestamp: ts, Price: 10},
		{CryptoID: 2, IntervalType: domain.IntervalHourly, Timestamp: ts, Price: 20},
	})

	code, env = do(t, r, http.MethodGet, "/api/v1/history/1?interval=1h")
	var points []domain.AggregatedPricePoint
	if err := json.Unmarshal(env.Data, &points); err != nil || code != http.StatusOK {
		t.Fatalf("history: %d %s %v", code, env.Data, err)
	}
	if len(points) != 1 || points[0].Price != 10 {
		t.Errorf("expected asset 1's point only, got %+v", points)
	}

	code, _ = do(t, r, http.MethodGet, "/api/v1/history/1?interval=5m")
	if code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown interval, got %d", code)
	}

	code, _ = do(t, r, http.MethodGet, "/api/v1/nope")
	if code != http.StatusNotFound {
		t.Errorf("expected 404 envelope for unknown route, got %d", code)
	}
}
