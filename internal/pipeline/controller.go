package pipeline

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/truelens/capture/internal/api"
	"github.com/truelens/capture/internal/bus"
	"github.com/truelens/capture/internal/config"
	"github.com/truelens/capture/internal/dedup"
	apperrors "github.com/truelens/capture/internal/errors"
	"github.com/truelens/capture/internal/media"
	"github.com/truelens/capture/internal/pipeline/audio"
	"github.com/truelens/capture/internal/pipeline/frame"
	"github.com/truelens/capture/internal/pipeline/keyframe"
	"github.com/truelens/capture/internal/pipeline/selection"
	"github.com/truelens/capture/internal/session"
	"github.com/truelens/capture/internal/syncx"
	"github.com/truelens/capture/internal/trace"
)

// Phase of a tab pipeline.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseStarting
	PhaseRunning
	PhaseStopping
)

var phaseNames = map[Phase]string{
	PhaseIdle:     "idle",
	PhaseStarting: "starting",
	PhaseRunning:  "running",
	PhaseStopping: "stopping",
}

func (p Phase) String() string {
	if s, ok := phaseNames[p]; ok {
		return s
	}
	return "idle"
}

// MarshalJSON renders the phase by name.
func (p Phase) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// UnmarshalJSON parses a phase name; unknown names map to idle.
func (p *Phase) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	*p = PhaseIdle
	for phase, s := range phaseNames {
		if s == name {
			*p = phase
			break
		}
	}
	return nil
}

// State describes one tab's live pipeline.
type State struct {
	TabID     int       `json:"tab_id"`
	SessionID string    `json:"session_id"`
	Options   Settings  `json:"options"`
	StartTime time.Time `json:"start_time"`
	Phase     Phase     `json:"phase"`
}

// Backend is the slice of the verification API the capture sources use.
// *api.Client satisfies it.
type Backend interface {
	OCR(ctx context.Context, req api.OCRRequest) (*api.OCRResponse, error)
	OCRBatch(ctx context.Context, req api.BatchOCRRequest) ([]api.OCRResponse, error)
	SpeechToText(ctx context.Context, req api.SpeechRequest) (*api.SpeechResponse, error)
	SaveSession(ctx context.Context, data json.RawMessage, sessionID string, trigger bool) (*api.SaveSessionResponse, error)
	SaveImage(ctx context.Context, imageB64, imageID, source string) (*api.SaveImageResponse, error)
}

// ResultWatcher begins result retrieval for a finalized session.
type ResultWatcher interface {
	Start(sessionID string)
}

// Event notifies observers of pipeline lifecycle and session mutations.
type Event struct {
	Type      string         `json:"type"`
	TabID     int            `json:"tab_id"`
	SessionID string         `json:"session_id"`
	Entry     *session.Entry `json:"entry,omitempty"`
	Trigger   bool           `json:"trigger,omitempty"`
	Entries   int            `json:"entries,omitempty"`
}

// tabRun is the live machinery behind one State.
type tabRun struct {
	state    State
	agg      *session.Aggregator
	recorder *audio.Recorder
	stopCh   chan struct{}
	cancel   context.CancelFunc

	// stopped is set synchronously at stop so in-flight capture work
	// discards its result instead of mutating a closed session.
	stopped atomic.Bool
}

// Controller is the per-tab pipeline state machine. It owns the
// tab registry and session identity, starts and stops capture sources,
// and serializes concurrent start/stop requests.
type Controller struct {
	cfg      *config.Config
	backend  Backend
	snaps    session.SnapshotStore
	streams  media.StreamProvider  // nil when audio capture is unsupported on this host
	elements media.ElementProvider // nil when no media surface is reachable
	bus      *bus.Bus
	watcher  ResultWatcher

	opMu     sync.Mutex // serializes start/stop transitions
	registry *syncx.Guard[map[int]*tabRun]
	events   chan Event
	done     chan struct{}
}

// New creates a controller. streams and elements may be nil; the
// corresponding capture sources then fail to start (audio) or are
// skipped (screen sampling, sweeps).
func New(cfg *config.Config, backend Backend, snaps session.SnapshotStore, streams media.StreamProvider, elements media.ElementProvider, b *bus.Bus, watcher ResultWatcher) *Controller {
	return &Controller{
		cfg:      cfg,
		backend:  backend,
		snaps:    snaps,
		streams:  streams,
		elements: elements,
		bus:      b,
		watcher:  watcher,
		registry: syncx.NewGuard(make(map[int]*tabRun)),
		events:   make(chan Event, eventBufferSize),
		done:     make(chan struct{}),
	}
}

// Events exposes the lifecycle and mutation feed for broadcast.
func (c *Controller) Events() <-chan Event {
	return c.events
}

// Status returns the live state for a tab.
func (c *Controller) Status(tabID int) (State, bool) {
	run := c.lookup(tabID)
	if run == nil {
		return State{TabID: tabID, Phase: PhaseIdle}, false
	}
	return run.state, true
}

// States returns every live pipeline, ordered by tab id.
func (c *Controller) States() []State {
	states := syncx.ReadValue(c.registry, func(m map[int]*tabRun) []State {
		out := make([]State, 0, len(m))
		for _, run := range m {
			out = append(out, run.state)
		}
		return out
	})
	sort.Slice(states, func(i, j int) bool { return states[i].TabID < states[j].TabID })
	return states
}

// Start brings up a capture pipeline for a tab. A tab with a live
// pipeline is fully stopped first, then the controller waits the
// restart settle delay before creating the new session. Audio stream
// acquisition failure aborts the start; the pipeline never reaches
// Running.
func (c *Controller) Start(ctx context.Context, tabID int, opts Options) (State, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	ctx, span := trace.StartSpan(ctx, "pipeline_start")
	defer span.End()
	log := trace.Logger(ctx)
	span.SetAttr("tab_id", tabID)

	if c.lookup(tabID) != nil {
		log.Info("tab already capturing, restarting", "tab_id", tabID)
		c.stopLocked(ctx, tabID)
		select {
		case <-ctx.Done():
			return State{}, ctx.Err()
		case <-time.After(c.restartSettle()):
		}
	}

	settings := opts.Normalize(c.cfg.DefaultLanguage)
	agg := session.NewAggregator(c.backend, c.snaps, settings.TargetLanguage)
	if c.watcher != nil {
		agg.OnFinalize = c.watcher.Start
	}

	runCtx, cancel := context.WithCancel(context.Background())
	runCtx = trace.WithContext(runCtx, trace.New())
	run := &tabRun{
		state: State{
			TabID:     tabID,
			SessionID: agg.SessionID(),
			Options:   settings,
			StartTime: time.Now().UTC(),
			Phase:     PhaseStarting,
		},
		agg:    agg,
		stopCh: make(chan struct{}),
		cancel: cancel,
	}
	span.SetAttr("session_id", run.state.SessionID)

	if settings.Audio {
		if c.streams == nil {
			cancel()
			return State{}, apperrors.New(apperrors.CodeStreamCapture, "no audio capture backend on this host")
		}
		stream, err := c.streams.AcquireStream(ctx, tabID)
		if err != nil {
			cancel()
			return State{}, apperrors.Wrapf(err, apperrors.CodeStreamCapture, "acquire stream for tab %d", tabID)
		}
		rec := audio.New(stream, c.backend, agg, audio.Config{
			ChunkInterval:     c.chunkInterval(),
			TargetLanguage:    settings.TargetLanguage,
			EnableTranslation: settings.Translation,
		})
		if err := rec.Start(runCtx); err != nil {
			rec.Stop()
			cancel()
			return State{}, err
		}
		run.recorder = rec
	}

	if settings.OCR {
		if element := c.activeElement(ctx, tabID); element != nil {
			sampler := frame.New(element, c.backend, c.backend, agg, dedup.New(c.cfg.DedupCapacity), frame.Config{
				SampleInterval:    seconds(c.cfg.FrameSampleSeconds),
				MaxWidth:          c.cfg.MaxFrameWidth,
				JPEGQuality:       c.cfg.JPEGQuality,
				MaxHashDistance:   c.cfg.HashMaxDistance,
				TargetLanguage:    settings.TargetLanguage,
				EnableTranslation: settings.Translation,
			})
			go sampler.Run(runCtx, run.stopCh)
		}
	}

	run.state.Phase = PhaseRunning
	syncx.UpdateValue(c.registry, func(m *map[int]*tabRun) struct{} {
		(*m)[tabID] = run
		return struct{}{}
	})
	go c.forward(run)

	c.bus.Broadcast(ctx, bus.Message{Type: MsgPipelineStarted, TabID: tabID, Payload: run.state.SessionID})
	if err := agg.Autosave(ctx, false); err != nil {
		log.Warn("initial autosave failed", "session_id", run.state.SessionID, "error", err)
	}

	log.Info("pipeline started",
		"tab_id", tabID,
		"session_id", run.state.SessionID,
		"audio", settings.Audio,
		"ocr", settings.OCR,
		"language", settings.TargetLanguage)
	c.emit(Event{Type: EventStarted, TabID: tabID, SessionID: run.state.SessionID})
	return run.state, nil
}

// Stop tears down the tab's pipeline and returns its session id, or ""
// when none was live, so callers can always attempt result retrieval.
// The recorder stop is signalled unconditionally.
func (c *Controller) Stop(ctx context.Context, tabID int) string {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	return c.stopLocked(ctx, tabID)
}

func (c *Controller) stopLocked(ctx context.Context, tabID int) string {
	ctx, span := trace.StartSpan(ctx, "pipeline_stop")
	defer span.End()
	log := trace.Logger(ctx)
	span.SetAttr("tab_id", tabID)

	run := syncx.UpdateValue(c.registry, func(m *map[int]*tabRun) *tabRun {
		r := (*m)[tabID]
		delete(*m, tabID)
		return r
	})

	if run == nil {
		// Capture contexts shut down on the announcement even when the
		// controller no longer tracked a pipeline for the tab.
		c.bus.Broadcast(ctx, bus.Message{Type: MsgPipelineStopped, TabID: tabID})
		return ""
	}

	// Guard first: anything still in flight must find the run stopped
	// before the announcement circulates.
	run.state.Phase = PhaseStopping
	run.stopped.Store(true)
	if run.recorder != nil {
		run.recorder.Stop()
	}
	close(run.stopCh)
	run.cancel()
	c.bus.Broadcast(ctx, bus.Message{Type: MsgPipelineStopped, TabID: tabID})

	id, count, err := run.agg.Finalize(ctx)
	if err != nil {
		log.Warn("finalize failed", "session_id", id, "error", err)
	}
	span.SetAttr("session_id", id)
	span.SetAttr("entries", count)
	log.Info("pipeline stopped", "tab_id", tabID, "session_id", id, "entries", count)
	c.emit(Event{Type: EventStopped, TabID: tabID, SessionID: id, Entries: count})
	return id
}

// Close stops every live pipeline and the event feed.
func (c *Controller) Close(ctx context.Context) {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	for _, tabID := range c.tabs() {
		c.stopLocked(ctx, tabID)
	}
	close(c.done)
}

// Selection captures the tab's current text selection into the live
// session. An empty selection appends nothing.
func (c *Controller) Selection(ctx context.Context, tabID int) ([]session.Entry, error) {
	run := c.lookup(tabID)
	if run == nil {
		return nil, apperrors.Newf(apperrors.CodeNotFound, "no pipeline for tab %d", tabID)
	}
	return selection.New(c.bus, run.agg).Capture(ctx, tabID)
}

// Sweep walks the tab's media timeline and appends one keyframe entry
// per interval. With keyframe OCR enabled in the run's options the
// archived frames also go through batch recognition.
func (c *Controller) Sweep(ctx context.Context, tabID int) ([]keyframe.Frame, error) {
	run := c.lookup(tabID)
	if run == nil {
		return nil, apperrors.Newf(apperrors.CodeNotFound, "no pipeline for tab %d", tabID)
	}
	element := c.activeElement(ctx, tabID)
	if element == nil {
		return nil, apperrors.Newf(apperrors.CodeStreamCapture, "no media element in tab %d", tabID)
	}
	settings := run.state.Options
	sweeper := keyframe.New(c.backend, c.backend, run.agg, keyframe.Config{
		StepSeconds:       c.cfg.KeyframeIntervalSeconds,
		SeekTimeout:       seconds(c.cfg.SeekTimeoutSeconds),
		SettleDelay:       time.Duration(c.cfg.FrameSettleMillis) * time.Millisecond,
		MaxWidth:          c.cfg.MaxFrameWidth,
		JPEGQuality:       c.cfg.JPEGQuality,
		TargetLanguage:    settings.TargetLanguage,
		EnableTranslation: settings.Translation,
		EnableOCR:         settings.KeyframeOCR,
	})
	return sweeper.Sweep(ctx, element)
}

func (c *Controller) lookup(tabID int) *tabRun {
	return syncx.ReadValue(c.registry, func(m map[int]*tabRun) *tabRun {
		return m[tabID]
	})
}

func (c *Controller) tabs() []int {
	ids := syncx.ReadValue(c.registry, func(m map[int]*tabRun) []int {
		out := make([]int, 0, len(m))
		for id := range m {
			out = append(out, id)
		}
		return out
	})
	sort.Ints(ids)
	return ids
}

// activeElement locates the tab's media surface. Absence disables
// frame capture for the run rather than failing the start.
func (c *Controller) activeElement(ctx context.Context, tabID int) media.MediaElement {
	if c.elements == nil {
		return nil
	}
	element, err := c.elements.ActiveElement(ctx, tabID)
	if err != nil {
		trace.Logger(ctx).Warn("no media element, screen sampling disabled", "tab_id", tabID, "error", err)
		return nil
	}
	return element
}

// forward relays one run's session events into the controller feed.
// The loop ends with the session's finalize event.
func (c *Controller) forward(run *tabRun) {
	for {
		select {
		case <-c.done:
			return
		case ev := <-run.agg.Events():
			switch ev.Type {
			case session.EventEntry:
				c.emit(Event{Type: EventEntry, TabID: run.state.TabID, SessionID: ev.SessionID, Entry: ev.Entry})
			case session.EventAutosave:
				c.emit(Event{Type: EventAutosave, TabID: run.state.TabID, SessionID: ev.SessionID, Trigger: ev.Trigger})
			case session.EventFinalized:
				return
			}
		}
	}
}

func (c *Controller) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
	}
}

func (c *Controller) restartSettle() time.Duration {
	if c.cfg.RestartSettleMillis <= 0 {
		return DefaultRestartSettle
	}
	return time.Duration(c.cfg.RestartSettleMillis) * time.Millisecond
}

func (c *Controller) chunkInterval() time.Duration {
	// One configuration value governs chunk rotation in every capture
	// context; see config.Config.AudioChunkSeconds.
	return seconds(c.cfg.AudioChunkSeconds)
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
