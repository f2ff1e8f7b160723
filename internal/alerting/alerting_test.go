package alerting

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestRedisSinkPushesAndPublishes(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	sink := NewRedisSink(client, "alerts", "alerts:queue")

	userID := uint64(3)
	alert := Alert{
		Kind:           KindRecordingFailure,
		OrganizationID: 1,
		UserID:         &userID,
		QuotaID:        12,
		Message:        "usage recording failed for quota 12",
		Error:          "connection reset",
		OccurredAt:     time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC),
	}
	sink.Emit(context.Background(), alert)

	raw, errPop := srv.Lpop("alerts:queue")
	if errPop != nil {
		t.Fatalf("pop queued alert: %v", errPop)
	}
	var got Alert
	if errDecode := json.Unmarshal([]byte(raw), &got); errDecode != nil {
		t.Fatalf("decode alert: %v", errDecode)
	}
	if got.Kind != KindRecordingFailure || got.QuotaID != 12 || got.OrganizationID != 1 {
		t.Fatalf("unexpected alert payload: %+v", got)
	}
	if got.UserID == nil || *got.UserID != 3 {
		t.Fatalf("user id lost: %+v", got.UserID)
	}
}

func TestRedisSinkSwallowsRedisFailure(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	sink := NewRedisSink(client, "", "")
	srv.Close()

	// Emit must not panic or surface the error.
	sink.Emit(context.Background(), Alert{Kind: KindRolloverFailure, Message: "rollover failed"})
}

func TestNewRedisSinkDefaults(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	sink := NewRedisSink(client, "  ", "")
	if sink.channel != "aigov:alerts" || sink.list != "aigov:alerts:queue" {
		t.Fatalf("defaults not applied: %q %q", sink.channel, sink.list)
	}
	if NewRedisSink(nil, "a", "b") != nil {
		t.Fatalf("nil client must yield nil sink")
	}
}

func TestRetrierRetriesUntilSuccess(t *testing.T) {
	retrier := NewRetrier()
	retrier.queue = make(chan retryTask, 4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	retrier.Start(ctx)

	done := make(chan struct{})
	calls := 0
	retrier.Enqueue("test-task", func(ctx context.Context) error {
		calls++
		if calls < 2 {
			return context.DeadlineExceeded
		}
		close(done)
		return nil
	})

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatalf("task never succeeded, %d calls", calls)
	}
	if calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls)
	}
}
