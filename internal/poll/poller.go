// Package poll retrieves fact-check results for finalized sessions
package poll

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/truelens/capture/internal/api"
	apperrors "github.com/truelens/capture/internal/errors"
	"github.com/truelens/capture/internal/trace"
)

// Polling cadence. Results stay 404 until the backend pipeline picks
// the session up, then report stages 1..5.
const (
	DefaultNotReadyInterval = 5 * time.Second
	DefaultStageInterval    = 2 * time.Second
	DefaultMaxAttempts      = 60

	eventBufferSize = 64
)

// Event types delivered to observers.
const (
	EventProgress = "poll_progress"
	EventResult   = "poll_result"
	EventFailed   = "poll_failed"
)

// Event reports polling progress and outcomes.
type Event struct {
	Type      string      `json:"type"`
	SessionID string      `json:"session_id"`
	Stage     int         `json:"stage,omitempty"`
	Attempts  int         `json:"attempts,omitempty"`
	Result    *api.Result `json:"result,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// ResultFetcher retrieves pipeline state for a session.
type ResultFetcher interface {
	Results(ctx context.Context, sessionID string) (*api.Result, error)
}

// Config tunes the polling loop.
type Config struct {
	NotReadyInterval time.Duration
	StageInterval    time.Duration
	MaxAttempts      int
}

// DefaultConfig returns the standard cadence.
func DefaultConfig() Config {
	return Config{
		NotReadyInterval: DefaultNotReadyInterval,
		StageInterval:    DefaultStageInterval,
		MaxAttempts:      DefaultMaxAttempts,
	}
}

func (c Config) withDefaults() Config {
	if c.NotReadyInterval <= 0 {
		c.NotReadyInterval = DefaultNotReadyInterval
	}
	if c.StageInterval <= 0 {
		c.StageInterval = DefaultStageInterval
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	return c
}

// Poller watches one session at a time. Starting a new session
// supersedes the previous loop, which exits without delivering.
type Poller struct {
	fetch ResultFetcher
	cfg   Config

	mu      sync.Mutex
	current string
	stopCh  chan struct{}

	events chan Event
}

// New creates a poller around the given fetcher.
func New(fetch ResultFetcher, cfg Config) *Poller {
	return &Poller{
		fetch:  fetch,
		cfg:    cfg.withDefaults(),
		events: make(chan Event, eventBufferSize),
	}
}

// Events exposes the progress feed for broadcast.
func (p *Poller) Events() <-chan Event {
	return p.events
}

// Polling reports the session currently being watched.
func (p *Poller) Polling() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current, p.stopCh != nil
}

// Start begins polling for a session. Starting the session already
// being watched is a no-op; a different session replaces the active
// loop.
func (p *Poller) Start(sessionID string) {
	p.mu.Lock()
	if p.current == sessionID && p.stopCh != nil {
		p.mu.Unlock()
		return
	}
	if p.stopCh != nil {
		close(p.stopCh)
	}
	stopCh := make(chan struct{})
	p.stopCh = stopCh
	p.current = sessionID
	p.mu.Unlock()

	go p.run(sessionID, stopCh)
}

// Stop cancels the active loop, if any.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopCh != nil {
		close(p.stopCh)
		p.stopCh = nil
		p.current = ""
	}
}

func (p *Poller) run(sessionID string, stopCh chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()
	ctx, _ = trace.EnsureContext(ctx)
	log := trace.Logger(ctx)
	log.Info("result polling started", "session_id", sessionID)

	notReady := 0
	for {
		res, err := p.fetch.Results(ctx, sessionID)
		var wait time.Duration
		switch {
		case err == nil && res.Final():
			if p.deliver(stopCh, Event{Type: EventResult, SessionID: sessionID, Stage: res.Stage, Result: res}) {
				log.Info("results ready",
					"session_id", sessionID,
					"total_claims", res.TotalClaims)
			}
			return
		case err == nil:
			notReady = 0
			p.progress(stopCh, Event{Type: EventProgress, SessionID: sessionID, Stage: res.Stage})
			wait = p.cfg.StageInterval
		default:
			if errors.Is(err, context.Canceled) || apperrors.IsCode(err, apperrors.CodeCancelled) {
				return
			}
			notReady++
			if notReady >= p.cfg.MaxAttempts {
				timeout := apperrors.Newf(apperrors.CodeTimeout,
					"results for %s not ready after %d attempts", sessionID, notReady)
				if p.deliver(stopCh, Event{Type: EventFailed, SessionID: sessionID, Attempts: notReady, Error: timeout.Error()}) {
					log.Warn("result polling gave up",
						"session_id", sessionID,
						"attempts", notReady)
				}
				return
			}
			wait = p.cfg.NotReadyInterval
		}

		select {
		case <-stopCh:
			return
		case <-time.After(wait):
		}
	}
}

// deliver emits a terminal event and releases the slot, unless the
// loop has been superseded, in which case it stays silent.
func (p *Poller) deliver(stopCh chan struct{}, ev Event) bool {
	p.mu.Lock()
	if p.stopCh != stopCh {
		p.mu.Unlock()
		return false
	}
	p.stopCh = nil
	p.current = ""
	p.mu.Unlock()
	p.emit(ev)
	return true
}

func (p *Poller) progress(stopCh chan struct{}, ev Event) {
	p.mu.Lock()
	active := p.stopCh == stopCh
	p.mu.Unlock()
	if active {
		p.emit(ev)
	}
}

func (p *Poller) emit(ev Event) {
	select {
	case p.events <- ev:
	default:
	}
}
