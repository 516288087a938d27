package bus

import (
	"context"
	"errors"
	"testing"
	"time"

	apperrors "github.com/truelens/capture/internal/errors"
)

func TestRequestDelivers(t *testing.T) {
	b := New(3, time.Millisecond)
	b.Register("tab:1", func(ctx context.Context, msg Message) (any, error) {
		if msg.Type != "ping" || msg.TabID != 1 {
			t.Errorf("msg = %+v", msg)
		}
		return "pong", nil
	})

	resp, err := b.Request(context.Background(), "tab:1", Message{Type: "ping", TabID: 1})
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	if resp != "pong" {
		t.Errorf("resp = %v, want pong", resp)
	}
}

func TestRequestUnreachableAfterRetries(t *testing.T) {
	b := New(3, time.Millisecond)

	start := time.Now()
	_, err := b.Request(context.Background(), "tab:9", Message{Type: "ping"})
	elapsed := time.Since(start)

	if !apperrors.IsCode(err, apperrors.CodeContextUnreachable) {
		t.Errorf("Request() error = %v, want CodeContextUnreachable", err)
	}
	// Two inter-attempt delays for three attempts
	if elapsed < 2*time.Millisecond {
		t.Errorf("elapsed = %v, want at least two retry delays", elapsed)
	}
}

func TestRequestSucceedsWhenTargetAppears(t *testing.T) {
	b := New(5, 5*time.Millisecond)

	go func() {
		time.Sleep(8 * time.Millisecond)
		b.Register("tab:2", func(ctx context.Context, msg Message) (any, error) {
			return "late", nil
		})
	}()

	resp, err := b.Request(context.Background(), "tab:2", Message{Type: "ping"})
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	if resp != "late" {
		t.Errorf("resp = %v, want late", resp)
	}
}

func TestRequestHandlerErrorNotRetried(t *testing.T) {
	b := New(5, time.Millisecond)
	calls := 0
	handlerErr := errors.New("bad payload")
	b.Register("tab:1", func(ctx context.Context, msg Message) (any, error) {
		calls++
		return nil, handlerErr
	})

	_, err := b.Request(context.Background(), "tab:1", Message{Type: "ping"})
	if !errors.Is(err, handlerErr) {
		t.Errorf("Request() error = %v, want handler error", err)
	}
	if calls != 1 {
		t.Errorf("handler calls = %d, want 1 (delivered errors are responses)", calls)
	}
}

func TestRequestContextCancelled(t *testing.T) {
	b := New(10, 50*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := b.Request(ctx, "tab:9", Message{Type: "ping"})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Request() error = %v, want context.Canceled", err)
	}
}

func TestUnregister(t *testing.T) {
	b := New(2, time.Millisecond)
	b.Register("tab:1", func(ctx context.Context, msg Message) (any, error) {
		return "ok", nil
	})
	if !b.Registered("tab:1") {
		t.Error("Registered() = false after Register")
	}

	b.Unregister("tab:1")
	if b.Registered("tab:1") {
		t.Error("Registered() = true after Unregister")
	}

	_, err := b.Request(context.Background(), "tab:1", Message{Type: "ping"})
	if !apperrors.IsCode(err, apperrors.CodeContextUnreachable) {
		t.Errorf("Request() error = %v, want CodeContextUnreachable", err)
	}
}

func TestBroadcastReachesAllContexts(t *testing.T) {
	b := New(3, time.Millisecond)
	got := make(map[string]string)
	b.Register("tab:1", func(ctx context.Context, msg Message) (any, error) {
		got["tab:1"] = msg.Type
		return nil, nil
	})
	b.Register("tab:2", func(ctx context.Context, msg Message) (any, error) {
		got["tab:2"] = msg.Type
		return nil, errors.New("handler failure is not fatal")
	})

	b.Broadcast(context.Background(), Message{Type: "pipeline_started"})

	if got["tab:1"] != "pipeline_started" || got["tab:2"] != "pipeline_started" {
		t.Errorf("broadcast reached %v", got)
	}
}

func TestTabContext(t *testing.T) {
	if got := TabContext(42); got != "tab:42" {
		t.Errorf("TabContext(42) = %q, want tab:42", got)
	}
}
