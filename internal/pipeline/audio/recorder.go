package audio

import (
	"context"
	"encoding/base64"
	"strings"
	"sync"
	"time"

	"github.com/truelens/capture/internal/api"
	apperrors "github.com/truelens/capture/internal/errors"
	"github.com/truelens/capture/internal/media"
	"github.com/truelens/capture/internal/session"
	"github.com/truelens/capture/internal/trace"
)

// Transcriber turns an encoded chunk into subtitle text.
type Transcriber interface {
	SpeechToText(ctx context.Context, req api.SpeechRequest) (*api.SpeechResponse, error)
}

// EntrySink receives finished subtitle payloads.
type EntrySink interface {
	AddSubtitle(ctx context.Context, p session.SubtitlePayload) ([]session.Entry, error)
}

// Config for the chunk recorder.
type Config struct {
	ChunkInterval     time.Duration
	TargetLanguage    string
	EnableTranslation bool
}

func (c Config) withDefaults() Config {
	if c.ChunkInterval <= 0 {
		c.ChunkInterval = DefaultChunkInterval
	}
	return c
}

// Recorder rotates a bounded recorder over one tab's audio stream.
// Every rotation flushes the finished chunk to the transcriber and
// restarts recording immediately, so audio keeps flowing while the
// chunk is in flight.
type Recorder struct {
	stream media.Stream
	stt    Transcriber
	sink   EntrySink
	cfg    Config

	mu         sync.Mutex
	rec        media.Recorder
	stopCh     chan struct{}
	stopping   bool
	started    time.Time
	chunkStart time.Time
}

// New creates a chunk recorder over an acquired stream. The recorder
// owns the stream and releases it on Stop.
func New(stream media.Stream, stt Transcriber, sink EntrySink, cfg Config) *Recorder {
	return &Recorder{
		stream: stream,
		stt:    stt,
		sink:   sink,
		cfg:    cfg.withDefaults(),
	}
}

// Start begins recording and schedules rotation. Starting an already
// running recorder is a no-op; a stopped recorder cannot restart.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopping {
		return apperrors.New(apperrors.CodeStreamCapture, "recorder already stopped")
	}
	if r.rec != nil {
		return nil
	}

	rec, err := r.stream.NewRecorder()
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeStreamCapture, "create recorder")
	}
	if err := rec.Start(); err != nil {
		return apperrors.Wrap(err, apperrors.CodeStreamCapture, "start recorder")
	}

	r.rec = rec
	r.started = time.Now()
	r.chunkStart = r.started
	r.stopCh = make(chan struct{})
	go r.rotateLoop(ctx, r.stopCh)
	return nil
}

// Stop halts rotation, discards the chunk in progress, and releases
// the stream. The stopping flag is set before the recorder is touched
// so a rotation firing concurrently flushes nothing.
func (r *Recorder) Stop() {
	r.mu.Lock()
	if r.stopping {
		r.mu.Unlock()
		return
	}
	r.stopping = true
	rec := r.rec
	r.rec = nil
	stopCh := r.stopCh
	r.stopCh = nil
	r.mu.Unlock()

	if stopCh != nil {
		close(stopCh)
	}
	if rec != nil {
		if _, err := rec.Stop(); err != nil {
			trace.Logger(context.Background()).Debug("trailing chunk discard", "error", err)
		}
	}
	r.stream.Release()
}

func (r *Recorder) rotateLoop(ctx context.Context, stopCh <-chan struct{}) {
	ticker := time.NewTicker(r.cfg.ChunkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			r.rotate(ctx)
		}
	}
}

// rotate stops the current recorder, hands its chunk to transcription,
// and starts a fresh recorder in its place.
func (r *Recorder) rotate(ctx context.Context) {
	log := trace.Logger(ctx)

	r.mu.Lock()
	if r.stopping || r.rec == nil {
		r.mu.Unlock()
		return
	}
	rec := r.rec
	chunkAt := r.chunkStart.Sub(r.started)

	data, err := rec.Stop()
	if err != nil {
		log.Warn("chunk flush failed", "error", err)
	}

	next, nerr := r.stream.NewRecorder()
	if nerr != nil {
		r.rec = nil
		log.Warn("recorder rotation failed", "error", nerr)
	} else if serr := next.Start(); serr != nil {
		r.rec = nil
		log.Warn("recorder restart failed", "error", serr)
	} else {
		r.rec = next
		r.chunkStart = time.Now()
	}
	r.mu.Unlock()

	if err != nil || len(data) == 0 {
		return
	}
	go r.transcribe(ctx, data, chunkAt)
}

func (r *Recorder) transcribe(ctx context.Context, wav []byte, at time.Duration) {
	log := trace.Logger(ctx)

	resp, err := r.stt.SpeechToText(ctx, api.SpeechRequest{
		Audio:             base64.StdEncoding.EncodeToString(wav),
		TargetLanguage:    r.cfg.TargetLanguage,
		EnableTranslation: r.cfg.EnableTranslation,
		Source:            api.SourceTabAudio,
	})
	if err != nil {
		log.Warn("transcription failed", "error", err)
		return
	}

	text := strings.TrimSpace(resp.TranslatedText)
	if text == "" {
		text = strings.TrimSpace(resp.OriginalText)
	}
	if text == "" {
		return
	}

	original := strings.TrimSpace(resp.OriginalText)
	if original == text {
		original = ""
	}

	log.Info("transcribed chunk", "chars", len(text), "language", resp.DetectedLanguage)
	if _, err := r.sink.AddSubtitle(ctx, session.SubtitlePayload{
		Text:         text,
		OriginalText: original,
		Language:     resp.DetectedLanguage,
		Confidence:   resp.Confidence,
		Timestamp:    media.FormatPosition(at.Seconds()),
	}); err != nil {
		log.Debug("subtitle append rejected", "error", err)
	}
}
