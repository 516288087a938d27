// Package bus carries messages between capture contexts
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	apperrors "github.com/truelens/capture/internal/errors"
)

// Default delivery policy
const (
	DefaultRetryCount = 3
	DefaultRetryDelay = 200 * time.Millisecond
)

// Message is one request to a named context.
type Message struct {
	Type    string
	TabID   int
	Payload any
}

// Handler consumes one message and returns a response. A handler error is
// a delivered response; only a missing target is retried.
type Handler func(ctx context.Context, msg Message) (any, error)

// Bus routes request/response messages between named contexts. A send
// either completes with a response or fails; senders retry a bounded
// number of times before treating the target as gone, at which point the
// caller surfaces a reload prompt to the user.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	retries  int
	delay    time.Duration
}

// New creates a bus with the given delivery policy. Non-positive values
// fall back to defaults.
func New(retries int, delay time.Duration) *Bus {
	if retries <= 0 {
		retries = DefaultRetryCount
	}
	if delay <= 0 {
		delay = DefaultRetryDelay
	}
	return &Bus{
		handlers: make(map[string]Handler),
		retries:  retries,
		delay:    delay,
	}
}

// TabContext names the content context for a tab.
func TabContext(tabID int) string {
	return fmt.Sprintf("tab:%d", tabID)
}

// Register attaches a context by name, replacing any previous handler.
func (b *Bus) Register(name string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[name] = h
}

// Unregister detaches a context.
func (b *Bus) Unregister(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, name)
}

// Registered reports whether a context is currently attached.
func (b *Bus) Registered(name string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.handlers[name]
	return ok
}

// Request sends msg to the named context. A missing target is retried
// with a fixed delay up to the configured attempt count; exhaustion
// returns CodeContextUnreachable.
func (b *Bus) Request(ctx context.Context, target string, msg Message) (any, error) {
	for attempt := 0; attempt < b.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(b.delay):
			}
		}

		b.mu.RLock()
		h, ok := b.handlers[target]
		b.mu.RUnlock()
		if !ok {
			slog.Debug("bus target missing", "target", target, "attempt", attempt+1, "max", b.retries)
			continue
		}
		return h(ctx, msg)
	}
	return nil, apperrors.Newf(apperrors.CodeContextUnreachable, "context %q unreachable after %d attempts", target, b.retries)
}

// Broadcast delivers msg to every registered context. Individual handler
// failures are logged, never fatal.
func (b *Bus) Broadcast(ctx context.Context, msg Message) {
	b.mu.RLock()
	handlers := make(map[string]Handler, len(b.handlers))
	for name, h := range b.handlers {
		handlers[name] = h
	}
	b.mu.RUnlock()

	for name, h := range handlers {
		if _, err := h(ctx, msg); err != nil {
			slog.Debug("broadcast handler failed", "target", name, "type", msg.Type, "error", err)
		}
	}
}
