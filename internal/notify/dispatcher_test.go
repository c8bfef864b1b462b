package notify

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"coinpulse/internal/domain"
	"coinpulse/pkg/storage/memory"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type fakeChannel struct {
	fail  bool
	sent  []string
	calls int
}

func (f *fakeChannel) Send(ctx context.Context, to, subject, body string) (string, error) {
	f.calls++
	if f.fail {
		return "", errors.New("smtp unavailable")
	}
	f.sent = append(f.sent, to+"|"+subject+"|"+body)
	return "msg-1", nil
}

func newNotification(t *testing.T, store *memory.Store, created time.Time) *domain.AlertNotification {
	t.Helper()
	pct := -6.0
	n := &domain.AlertNotification{
		AlertID: 1, UserID: 42, CryptoID: 1,
		TriggerPrice: 94, PreviousPrice: 100, PriceChangePercentage: &pct,
		CreatedAt: created,
	}
	if err := store.InsertNotification(context.Background(), n); err != nil {
		t.Fatal(err)
	}
	return n
}

// go test -v --run TestDispatcherSend
func TestDispatcherSend(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store := memory.NewStore(10, zap.NewNop())
	_, _ = store.UpsertCurrencies(ctx, []domain.CurrencyRecord{{ID: 1, Symbol: "BTC"}})

	ch := &fakeChannel{}
	d := NewDispatcher(store, ch, time.Minute, zap.NewNop()).WithClock(func() time.Time { return now })

	n := newNotification(t, store, now)
	if err := d.Send(ctx, n); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(ch.sent) != 1 || !strings.HasPrefix(ch.sent[0], "user:42|BTC price alert|BTC moved -6.00%") {
		t.Errorf("unexpected message: %v", ch.sent)
	}

	got, _ := store.GetNotification(ctx, n.ID)
	if got.Status != domain.NotificationSent || got.SentAt == nil || got.MessageID == nil || *got.MessageID != "msg-1" || got.Attempts != 1 {
		t.Errorf("unexpected stored notification: %+v", got)
	}

	// sent rows are terminal
	if err := d.Send(ctx, got); err == nil {
		t.Error("expected error re-sending a sent notification")
	}
}

// go test -v --run TestDispatcherFailureAndRetry
func TestDispatcherFailureAndRetry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store := memory.NewStore(10, zap.NewNop())

	ch := &fakeChannel{fail: true}
	d := NewDispatcher(store, ch, time.Minute, zap.NewNop()).WithClock(func() time.Time { return now })

	n := newNotification(t, store, now)
	err := d.Send(ctx, n)
	var dispatchErr *DispatchError
	if !errors.As(err, &dispatchErr) || dispatchErr.NotificationID != n.ID {
		t.Fatalf("expected DispatchError, got %v", err)
	}

	got, _ := store.GetNotification(ctx, n.ID)
	if got.Status != domain.NotificationFailed || got.ErrorMessage == nil || got.Attempts != 1 {
		t.Fatalf("unexpected stored notification: %+v", got)
	}

	// still inside the grace window
	res, err := d.RetryPending(ctx, 3, 10)
	if err != nil || res.Attempted != 0 {
		t.Fatalf("expected no retry inside grace window, got %+v, %v", res, err)
	}

	now = now.Add(2 * time.Minute)
	res, err = d.RetryPending(ctx, 2, 10)
	if err != nil || res.Attempted != 1 || res.Failed != 1 || res.Exhausted != 1 {
		t.Fatalf("unexpected retry result: %+v, %v", res, err)
	}

	res, _ = d.RetryPending(ctx, 2, 10)
	if res.Attempted != 0 {
		t.Errorf("expected exhausted row to be left alone, got %+v", res)
	}

	// a larger budget lets the row recover
	ch.fail = false
	res, _ = d.RetryPending(ctx, 3, 10)
	if res.Sent != 1 {
		t.Errorf("expected retry to send, got %+v", res)
	}
	got, _ = store.GetNotification(ctx, n.ID)
	if got.Status != domain.NotificationSent || got.Attempts != 3 {
		t.Errorf("unexpected final notification: %+v", got)
	}
}

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

// go test -v --run TestKafkaChannelSend
func TestKafkaChannelSend(t *testing.T) {
	w := &fakeWriter{}
	ch := newKafkaChannel(w, "alerts", zap.NewNop())

	id, err := ch.Send(context.Background(), "user:7", "BTC price alert", "body")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("expected one message, got %d", len(w.msgs))
	}

	msg := w.msgs[0]
	if string(msg.Key) != "user:7" {
		t.Errorf("unexpected key %q", msg.Key)
	}
	if len(msg.Headers) != 1 || string(msg.Headers[0].Value) != id {
		t.Errorf("expected message-id header %q, got %+v", id, msg.Headers)
	}

	var payload KafkaMessage
	if err := json.Unmarshal(msg.Value, &payload); err != nil {
		t.Fatalf("invalid payload: %v", err)
	}
	if payload.ID != id || payload.Subject != "BTC price alert" {
		t.Errorf("unexpected payload: %+v", payload)
	}

	w.err = errors.New("broker down")
	if _, err := ch.Send(context.Background(), "user:7", "s", "b"); err == nil {
		t.Error("expected error when the broker rejects the write")
	}
}
