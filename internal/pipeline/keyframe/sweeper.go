package keyframe

import (
	"context"
	"errors"
	"time"

	"github.com/truelens/capture/internal/api"
	apperrors "github.com/truelens/capture/internal/errors"
	"github.com/truelens/capture/internal/media"
	"github.com/truelens/capture/internal/pipeline/frame"
	"github.com/truelens/capture/internal/session"
	"github.com/truelens/capture/internal/trace"
)

// ImageSaver persists captured frames.
type ImageSaver interface {
	SaveImage(ctx context.Context, imageB64, imageID, source string) (*api.SaveImageResponse, error)
}

// BatchOCRClient extracts text from several frames in one call.
type BatchOCRClient interface {
	OCRBatch(ctx context.Context, req api.BatchOCRRequest) ([]api.OCRResponse, error)
}

// EntrySink receives keyframe and recognized-text payloads.
type EntrySink interface {
	AddKeyframe(ctx context.Context, p session.KeyframePayload) ([]session.Entry, error)
	AddScreenOCR(ctx context.Context, p session.ScreenOCRPayload) ([]session.Entry, error)
}

// Frame is one archived keyframe artifact.
type Frame struct {
	ImageID   string
	Path      string
	Timestamp string

	image string // base64 JPEG retained for batch OCR
}

// Config for the sweeper.
type Config struct {
	StepSeconds       float64
	SeekTimeout       time.Duration
	SettleDelay       time.Duration
	MaxWidth          int
	JPEGQuality       int
	TargetLanguage    string
	EnableTranslation bool
	EnableOCR         bool
}

func (c Config) withDefaults() Config {
	if c.StepSeconds <= 0 {
		c.StepSeconds = DefaultStepSeconds
	}
	if c.SeekTimeout <= 0 {
		c.SeekTimeout = DefaultSeekTimeout
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = DefaultSettleDelay
	}
	if c.MaxWidth <= 0 {
		c.MaxWidth = frame.DefaultMaxWidth
	}
	if c.JPEGQuality <= 0 {
		c.JPEGQuality = frame.DefaultJPEGQuality
	}
	return c
}

// Sweeper walks a media timeline at a fixed step, independent of
// playback rate, and archives one frame per step. Failed steps are
// skipped; the element's position and play state come back restored.
type Sweeper struct {
	saver ImageSaver
	ocr   BatchOCRClient
	sink  EntrySink
	cfg   Config
}

// New creates a sweeper.
func New(saver ImageSaver, ocr BatchOCRClient, sink EntrySink, cfg Config) *Sweeper {
	return &Sweeper{saver: saver, ocr: ocr, sink: sink, cfg: cfg.withDefaults()}
}

// Sweep captures the timeline and appends the collected keyframes in
// ascending time order. With OCR enabled the archived frames go to the
// batch endpoint in one call and recognized text joins the session as
// screen text entries sharing each keyframe's image id.
func (s *Sweeper) Sweep(ctx context.Context, element media.MediaElement) ([]Frame, error) {
	ctx, span := trace.StartSpan(ctx, "keyframe_sweep")
	defer span.End()
	log := trace.Logger(ctx)

	state, err := element.State(ctx)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeStreamCapture, "element state")
	}
	if state.Duration <= 0 {
		return nil, apperrors.New(apperrors.CodeStreamCapture, "unknown media duration")
	}
	span.SetAttr("duration", state.Duration)

	if state.Playing {
		if err := element.Pause(ctx); err != nil {
			log.Warn("pause before sweep failed", "error", err)
		}
	}
	defer s.restore(element, state.Position, state.Playing)

	var frames []Frame
	for pos := 0.0; pos <= state.Duration; pos += s.cfg.StepSeconds {
		if ctx.Err() != nil {
			break
		}
		if f, ok := s.captureAt(ctx, element, pos); ok {
			frames = append(frames, f)
		}
	}
	span.SetAttr("frames", len(frames))

	var responses []api.OCRResponse
	if s.cfg.EnableOCR && len(frames) > 0 {
		responses = s.recognize(ctx, frames)
	}

	for i, f := range frames {
		payload := session.KeyframePayload{
			ImageID:   f.ImageID,
			ImagePath: f.Path,
			Timestamp: f.Timestamp,
		}
		if i < len(responses) {
			payload.Text, payload.OriginalText = frame.PreferredText(&responses[i])
			payload.Language = responses[i].DetectedLanguage
			payload.Confidence = responses[i].Confidence
		}
		if _, err := s.sink.AddKeyframe(ctx, payload); err != nil {
			log.Debug("keyframe append rejected", "error", err)
			break
		}
	}

	for i := range responses {
		if i >= len(frames) {
			break
		}
		text, original := frame.PreferredText(&responses[i])
		if text == "" {
			continue
		}
		if _, err := s.sink.AddScreenOCR(ctx, session.ScreenOCRPayload{
			Text:         text,
			OriginalText: original,
			Language:     responses[i].DetectedLanguage,
			Confidence:   responses[i].Confidence,
			Timestamp:    frames[i].Timestamp,
			ImageID:      frames[i].ImageID,
			ImagePath:    frames[i].Path,
			Regions:      batchRegions(responses[i].TextRegions),
		}); err != nil {
			log.Debug("keyframe text append rejected", "error", err)
			break
		}
	}

	log.Info("keyframe sweep complete", "frames", len(frames), "duration", state.Duration)
	return frames, nil
}

// captureAt seeks, waits for the frame to render, and archives it.
// A seek timeout is not fatal; whatever is displayed gets captured.
func (s *Sweeper) captureAt(ctx context.Context, element media.MediaElement, pos float64) (Frame, bool) {
	log := trace.Logger(ctx)

	seekCtx, cancel := context.WithTimeout(ctx, s.cfg.SeekTimeout)
	err := element.Seek(seekCtx, pos)
	cancel()
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		log.Warn("seek failed", "position", pos, "error", err)
		return Frame{}, false
	}

	select {
	case <-ctx.Done():
		return Frame{}, false
	case <-time.After(s.cfg.SettleDelay):
	}

	img, err := element.CaptureFrame(ctx)
	if err != nil {
		log.Warn("keyframe capture failed", "position", pos, "error", err)
		return Frame{}, false
	}
	encoded, err := frame.EncodeJPEG(frame.Downscale(img, s.cfg.MaxWidth), s.cfg.JPEGQuality)
	if err != nil {
		log.Warn("keyframe encode failed", "position", pos, "error", err)
		return Frame{}, false
	}

	imageID := session.NewImageID()
	resp, err := s.saver.SaveImage(ctx, encoded, imageID, api.SourceVideoKeyframe)
	if err != nil {
		log.Warn("keyframe save failed", "image_id", imageID, "position", pos, "error", err)
		return Frame{}, false
	}

	return Frame{
		ImageID:   imageID,
		Path:      resp.RelativePath,
		Timestamp: media.FormatPosition(pos),
		image:     encoded,
	}, true
}

// recognize submits all archived frames in one batch call. Responses
// are positional; a batch failure drops recognition entirely.
func (s *Sweeper) recognize(ctx context.Context, frames []Frame) []api.OCRResponse {
	req := api.BatchOCRRequest{
		Frames:            make([]api.BatchFrame, len(frames)),
		TargetLanguage:    s.cfg.TargetLanguage,
		EnableTranslation: s.cfg.EnableTranslation,
	}
	for i, f := range frames {
		req.Frames[i] = api.BatchFrame{Image: f.image, Timestamp: f.Timestamp}
	}

	responses, err := s.ocr.OCRBatch(ctx, req)
	if err != nil {
		trace.Logger(ctx).Warn("keyframe batch OCR failed", "frames", len(frames), "error", err)
		return nil
	}
	return responses
}

// restore puts the element back where the sweep found it. Best effort;
// failures are logged.
func (s *Sweeper) restore(element media.MediaElement, position float64, wasPlaying bool) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.SeekTimeout)
	defer cancel()
	log := trace.Logger(ctx)

	if err := element.Seek(ctx, position); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		log.Warn("position restore failed", "position", position, "error", err)
	}
	if wasPlaying {
		if err := element.Play(ctx); err != nil {
			log.Warn("playback restore failed", "error", err)
		}
	}
}
