package poll

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/truelens/capture/internal/api"
	apperrors "github.com/truelens/capture/internal/errors"
)

type fetchStep struct {
	res *api.Result
	err error
}

type fakeFetcher struct {
	mu    sync.Mutex
	steps []fetchStep
	calls int
	gate  chan struct{}
}

func (f *fakeFetcher) Results(ctx context.Context, sessionID string) (*api.Result, error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	if i >= len(f.steps) {
		i = len(f.steps) - 1
	}
	step := f.steps[i]
	if step.res != nil {
		cp := *step.res
		cp.SessionID = sessionID
		return &cp, step.err
	}
	return nil, step.err
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func notFound() fetchStep {
	return fetchStep{err: apperrors.New(apperrors.CodeNotFound, "results not ready")}
}

func atStage(n int) fetchStep {
	return fetchStep{res: &api.Result{Status: "processing", Stage: n}}
}

func final() fetchStep {
	return fetchStep{res: &api.Result{Status: "completed", Stage: api.StageFinal, TotalClaims: 2}}
}

func fastConfig(maxAttempts int) Config {
	return Config{
		NotReadyInterval: time.Millisecond,
		StageInterval:    time.Millisecond,
		MaxAttempts:      maxAttempts,
	}
}

func waitEvent(t *testing.T, p *Poller) Event {
	t.Helper()
	select {
	case ev := <-p.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for poll event")
		return Event{}
	}
}

func TestDeliversFinalResult(t *testing.T) {
	fetch := &fakeFetcher{steps: []fetchStep{notFound(), notFound(), atStage(2), final()}}
	p := New(fetch, fastConfig(10))

	p.Start("session_1_aaaaaa")

	ev := waitEvent(t, p)
	if ev.Type != EventProgress || ev.Stage != 2 {
		t.Fatalf("first event = %+v, want progress at stage 2", ev)
	}
	ev = waitEvent(t, p)
	if ev.Type != EventResult {
		t.Fatalf("event = %+v, want result", ev)
	}
	if ev.Result == nil || !ev.Result.Final() || ev.Result.TotalClaims != 2 {
		t.Errorf("result = %+v", ev.Result)
	}
	if _, active := p.Polling(); active {
		t.Error("poller should be idle after delivery")
	}
}

func TestGivesUpAfterMaxAttempts(t *testing.T) {
	fetch := &fakeFetcher{steps: []fetchStep{notFound()}}
	p := New(fetch, fastConfig(3))

	p.Start("session_2_bbbbbb")

	ev := waitEvent(t, p)
	if ev.Type != EventFailed {
		t.Fatalf("event = %+v, want failure", ev)
	}
	if ev.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", ev.Attempts)
	}
	if !strings.Contains(ev.Error, "not ready after 3 attempts") {
		t.Errorf("error = %q", ev.Error)
	}
	if fetch.callCount() != 3 {
		t.Errorf("fetch calls = %d, want 3", fetch.callCount())
	}
}

func TestStageResponseResetsNotReadyCounter(t *testing.T) {
	// Two misses, then a stage report, then misses again. With the
	// budget at 3 the loop must survive past the first two misses.
	fetch := &fakeFetcher{steps: []fetchStep{notFound(), notFound(), atStage(1), notFound()}}
	p := New(fetch, fastConfig(3))

	p.Start("session_3_cccccc")

	ev := waitEvent(t, p)
	if ev.Type != EventProgress || ev.Stage != 1 {
		t.Fatalf("event = %+v, want progress at stage 1", ev)
	}
	ev = waitEvent(t, p)
	if ev.Type != EventFailed {
		t.Fatalf("event = %+v, want failure after counter restarts", ev)
	}
	// 2 misses + 1 stage + 3 misses after the reset.
	if fetch.callCount() != 6 {
		t.Errorf("fetch calls = %d, want 6", fetch.callCount())
	}
}

// slowOldFetcher holds session_old's fetch until released; any other
// session completes immediately.
type slowOldFetcher struct {
	gate chan struct{}
}

func (f *slowOldFetcher) Results(ctx context.Context, sessionID string) (*api.Result, error) {
	if sessionID == "session_old" {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &api.Result{SessionID: sessionID, Status: "completed", Stage: api.StageFinal}, nil
}

func TestSupersededLoopStaysSilent(t *testing.T) {
	gate := make(chan struct{})
	p := New(&slowOldFetcher{gate: gate}, fastConfig(10))

	p.Start("session_old")
	// Replace the watched session while the first fetch is in flight.
	p.Start("session_new")
	close(gate)

	ev := waitEvent(t, p)
	if ev.Type != EventResult || ev.SessionID != "session_new" {
		t.Fatalf("event = %+v, want result for session_new", ev)
	}
	select {
	case ev := <-p.Events():
		t.Fatalf("unexpected extra event %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDuplicateStartIsNoop(t *testing.T) {
	gate := make(chan struct{})
	fetch := &fakeFetcher{steps: []fetchStep{final()}, gate: gate}
	p := New(fetch, fastConfig(10))

	p.Start("session_4_dddddd")
	p.Start("session_4_dddddd")

	id, active := p.Polling()
	if !active || id != "session_4_dddddd" {
		t.Fatalf("Polling() = %q %v", id, active)
	}
	close(gate)

	waitEvent(t, p)
	time.Sleep(20 * time.Millisecond)
	if fetch.callCount() != 1 {
		t.Errorf("fetch calls = %d, want 1 loop", fetch.callCount())
	}
}

func TestStopCancelsLoop(t *testing.T) {
	gate := make(chan struct{})
	fetch := &fakeFetcher{steps: []fetchStep{final()}, gate: gate}
	p := New(fetch, fastConfig(10))

	p.Start("session_5_eeeeee")
	p.Stop()
	close(gate)

	select {
	case ev := <-p.Events():
		t.Fatalf("unexpected event after stop: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
	if _, active := p.Polling(); active {
		t.Error("poller should be idle after Stop")
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	if cfg.NotReadyInterval != DefaultNotReadyInterval {
		t.Errorf("NotReadyInterval = %v", cfg.NotReadyInterval)
	}
	if cfg.StageInterval != DefaultStageInterval {
		t.Errorf("StageInterval = %v", cfg.StageInterval)
	}
	if cfg.MaxAttempts != DefaultMaxAttempts {
		t.Errorf("MaxAttempts = %d", cfg.MaxAttempts)
	}
}
