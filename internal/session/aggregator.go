package session

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/truelens/capture/internal/api"
	apperrors "github.com/truelens/capture/internal/errors"
	"github.com/truelens/capture/internal/trace"
)

// eventBufferSize bounds the observer channel. Emission never blocks;
// slow observers lose events.
const eventBufferSize = 256

// Event types delivered to observers.
const (
	EventEntry     = "entry"
	EventAutosave  = "autosave"
	EventFinalized = "finalized"
	EventReset     = "reset"
)

// Event notifies observers of session mutations.
type Event struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Entry     *Entry `json:"entry,omitempty"`
	Trigger   bool   `json:"trigger,omitempty"`
}

// RemoteSaver persists session documents on the backend.
type RemoteSaver interface {
	SaveSession(ctx context.Context, data json.RawMessage, sessionID string, trigger bool) (*api.SaveSessionResponse, error)
}

// SnapshotStore persists session documents locally.
type SnapshotStore interface {
	Save(ctx context.Context, sessionID string, data []byte, status string) error
}

// SubtitlePayload is a transcribed audio chunk.
type SubtitlePayload struct {
	Text         string
	OriginalText string
	Language     string
	Confidence   float64
	Timestamp    string
}

// Region is one detected text region within a captured frame.
type Region struct {
	Text       string
	Confidence float64
	BBox       []float64
}

// ScreenOCRPayload is recognized text from a sampled frame. When
// Regions is non-empty each region becomes its own entry sharing the
// frame's image fields.
type ScreenOCRPayload struct {
	Text         string
	OriginalText string
	Language     string
	Confidence   float64
	Timestamp    string
	ImageID      string
	ImagePath    string
	Regions      []Region
}

// SelectionPayload is user-selected page text.
type SelectionPayload struct {
	Text string
	Meta SelectionMeta
}

// KeyframePayload is one swept video frame, optionally with OCR text.
type KeyframePayload struct {
	ImageID      string
	ImagePath    string
	Timestamp    string
	Text         string
	OriginalText string
	Language     string
	Confidence   float64
}

// Aggregator owns the active session for one capture run. Appends are
// serialized, every mutation autosaves, and a finalized session
// rejects further entries.
type Aggregator struct {
	mu      sync.Mutex
	current *Session

	remote RemoteSaver
	snaps  SnapshotStore
	events chan Event

	// OnFinalize runs after a finalize autosave when the session holds
	// at least one entry. The controller points it at the result poller.
	OnFinalize func(sessionID string)
}

// NewAggregator starts an active session immediately.
func NewAggregator(remote RemoteSaver, snaps SnapshotStore, targetLanguage string) *Aggregator {
	return &Aggregator{
		current: NewSession(targetLanguage),
		remote:  remote,
		snaps:   snaps,
		events:  make(chan Event, eventBufferSize),
	}
}

// Events exposes the mutation feed for broadcast.
func (a *Aggregator) Events() <-chan Event {
	return a.events
}

// SessionID returns the current session id.
func (a *Aggregator) SessionID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current.ID
}

// EntryCount returns the number of captured entries.
func (a *Aggregator) EntryCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.current.Entries)
}

// Snapshot returns a copy of the current session.
func (a *Aggregator) Snapshot() Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current.snapshot()
}

// AddSubtitle appends a transcribed audio chunk.
func (a *Aggregator) AddSubtitle(ctx context.Context, p SubtitlePayload) ([]Entry, error) {
	return a.appendAndSave(ctx, []Entry{{
		Type:         KindSubtitle,
		Source:       api.SourceTabAudio,
		Text:         p.Text,
		OriginalText: p.OriginalText,
		Language:     p.Language,
		Confidence:   p.Confidence,
		Timestamp:    p.Timestamp,
	}})
}

// AddScreenOCR appends recognized frame text. Multi-region results
// explode into one entry per region sharing the frame's image id.
func (a *Aggregator) AddScreenOCR(ctx context.Context, p ScreenOCRPayload) ([]Entry, error) {
	if len(p.Regions) == 0 {
		return a.appendAndSave(ctx, []Entry{{
			Type:         KindScreenOCR,
			Source:       api.SourceScreenCapture,
			Text:         p.Text,
			OriginalText: p.OriginalText,
			Language:     p.Language,
			Confidence:   p.Confidence,
			Timestamp:    p.Timestamp,
			ImageID:      p.ImageID,
			ImagePath:    p.ImagePath,
		}})
	}
	entries := make([]Entry, 0, len(p.Regions))
	for _, r := range p.Regions {
		entries = append(entries, Entry{
			Type:       KindScreenOCR,
			Source:     api.SourceScreenCapture,
			Text:       r.Text,
			Language:   p.Language,
			Confidence: r.Confidence,
			Timestamp:  p.Timestamp,
			ImageID:    p.ImageID,
			ImagePath:  p.ImagePath,
			BBox:       r.BBox,
		})
	}
	return a.appendAndSave(ctx, entries)
}

// AddSelection appends user-selected page text.
func (a *Aggregator) AddSelection(ctx context.Context, p SelectionPayload) ([]Entry, error) {
	meta := p.Meta
	return a.appendAndSave(ctx, []Entry{{
		Type:       KindSelectedText,
		Source:     api.SourceUserSelection,
		Text:       p.Text,
		Confidence: 1,
		Metadata:   &meta,
	}})
}

// AddKeyframe appends one swept video frame.
func (a *Aggregator) AddKeyframe(ctx context.Context, p KeyframePayload) ([]Entry, error) {
	return a.appendAndSave(ctx, []Entry{{
		Type:         KindKeyframe,
		Source:       api.SourceVideoKeyframe,
		Text:         p.Text,
		OriginalText: p.OriginalText,
		Language:     p.Language,
		Confidence:   p.Confidence,
		Timestamp:    p.Timestamp,
		ImageID:      p.ImageID,
		ImagePath:    p.ImagePath,
	}})
}

func (a *Aggregator) appendAndSave(ctx context.Context, entries []Entry) ([]Entry, error) {
	a.mu.Lock()
	if a.current.Status != StatusActive {
		a.mu.Unlock()
		return nil, apperrors.Newf(apperrors.CodeSessionClosed, "session %s is finalized", a.current.ID)
	}
	appended := make([]Entry, 0, len(entries))
	for _, e := range entries {
		appended = append(appended, a.current.append(e))
	}
	id := a.current.ID
	a.mu.Unlock()

	for i := range appended {
		a.emit(Event{Type: EventEntry, SessionID: id, Entry: &appended[i]})
	}
	if err := a.Autosave(ctx, false); err != nil {
		trace.Logger(ctx).Warn("autosave after append failed",
			"session_id", id,
			"error", err)
	}
	return appended, nil
}

// Autosave persists the current session, local snapshot first so the
// document survives a backend outage, then remote. Either failure is
// returned for the caller to log; the session itself is unaffected.
func (a *Aggregator) Autosave(ctx context.Context, trigger bool) error {
	a.mu.Lock()
	snap := a.current.snapshot()
	a.mu.Unlock()

	data, err := json.Marshal(&snap)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternal, "marshal session")
	}

	var firstErr error
	if err := a.snaps.Save(ctx, snap.ID, data, snap.Status); err != nil {
		trace.Logger(ctx).Warn("local snapshot failed",
			"session_id", snap.ID,
			"error", err)
		firstErr = err
	}
	if _, err := a.remote.SaveSession(ctx, data, snap.ID, trigger); err != nil {
		if firstErr == nil {
			firstErr = err
		}
		return firstErr
	}

	a.emit(Event{Type: EventAutosave, SessionID: snap.ID, Trigger: trigger})
	return firstErr
}

// Finalize closes the session, runs the triggering save, and hands a
// non-empty session to OnFinalize. Finalizing twice is a no-op.
func (a *Aggregator) Finalize(ctx context.Context) (string, int, error) {
	a.mu.Lock()
	id := a.current.ID
	count := len(a.current.Entries)
	if a.current.Status == StatusFinalized {
		a.mu.Unlock()
		return id, count, nil
	}
	a.current.Status = StatusFinalized
	a.mu.Unlock()

	err := a.Autosave(ctx, true)
	if err != nil {
		trace.Logger(ctx).Warn("finalize save failed",
			"session_id", id,
			"error", err)
	}
	a.emit(Event{Type: EventFinalized, SessionID: id})
	if count > 0 && a.OnFinalize != nil {
		a.OnFinalize(id)
	}
	return id, count, err
}

// Reset abandons the current session id and starts a fresh one. The
// empty session is autosaved immediately so the old id does not linger
// as the latest local snapshot.
func (a *Aggregator) Reset(ctx context.Context) string {
	a.mu.Lock()
	target := a.current.TargetLanguage
	a.current = NewSession(target)
	id := a.current.ID
	a.mu.Unlock()

	if err := a.Autosave(ctx, false); err != nil {
		trace.Logger(ctx).Warn("reset autosave failed",
			"session_id", id,
			"error", err)
	}
	a.emit(Event{Type: EventReset, SessionID: id})
	return id
}

func (a *Aggregator) emit(ev Event) {
	select {
	case a.events <- ev:
	default:
	}
}
