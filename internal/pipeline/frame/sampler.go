package frame

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/jpeg"
	"strings"
	"sync"
	"time"

	"github.com/corona10/goimagehash"
	"github.com/nfnt/resize"

	"github.com/truelens/capture/internal/api"
	"github.com/truelens/capture/internal/dedup"
	"github.com/truelens/capture/internal/media"
	"github.com/truelens/capture/internal/session"
	"github.com/truelens/capture/internal/trace"
)

// OCRClient extracts text from one frame.
type OCRClient interface {
	OCR(ctx context.Context, req api.OCRRequest) (*api.OCRResponse, error)
}

// ImageSaver persists captured frames.
type ImageSaver interface {
	SaveImage(ctx context.Context, imageB64, imageID, source string) (*api.SaveImageResponse, error)
}

// EntrySink receives admitted screen text payloads.
type EntrySink interface {
	AddScreenOCR(ctx context.Context, p session.ScreenOCRPayload) ([]session.Entry, error)
}

// Config for the frame sampler.
type Config struct {
	SampleInterval    time.Duration
	MaxWidth          int
	JPEGQuality       int
	MaxHashDistance   int
	TargetLanguage    string
	EnableTranslation bool
}

func (c Config) withDefaults() Config {
	if c.SampleInterval <= 0 {
		c.SampleInterval = DefaultSampleInterval
	}
	if c.MaxWidth <= 0 {
		c.MaxWidth = DefaultMaxWidth
	}
	if c.JPEGQuality <= 0 {
		c.JPEGQuality = DefaultJPEGQuality
	}
	if c.MaxHashDistance <= 0 {
		c.MaxHashDistance = DefaultMaxHashDistance
	}
	return c
}

// Sampler captures frames from a playing media element on a fixed
// cadence. Visually unchanged frames are dropped by perceptual hash
// before the network round trip; text-level dedup decides admission.
type Sampler struct {
	element media.MediaElement
	ocr     OCRClient
	saver   ImageSaver
	sink    EntrySink
	texts   *dedup.Cache
	cfg     Config

	mu       sync.Mutex
	lastHash *goimagehash.ImageHash
}

// New creates a frame sampler for one tab's media element.
func New(element media.MediaElement, ocr OCRClient, saver ImageSaver, sink EntrySink, texts *dedup.Cache, cfg Config) *Sampler {
	return &Sampler{
		element: element,
		ocr:     ocr,
		saver:   saver,
		sink:    sink,
		texts:   texts,
		cfg:     cfg.withDefaults(),
	}
}

// Run starts the sampling loop.
func (s *Sampler) Run(ctx context.Context, stopCh <-chan struct{}) {
	ticker := time.NewTicker(s.cfg.SampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			s.sample(ctx)
		}
	}
}

func (s *Sampler) sample(ctx context.Context) {
	log := trace.Logger(ctx)

	state, err := s.element.State(ctx)
	if err != nil {
		log.Debug("play state unavailable", "error", err)
		return
	}
	if !state.Sampleable() {
		return
	}

	img, err := s.element.CaptureFrame(ctx)
	if err != nil {
		log.Debug("frame capture failed", "error", err)
		return
	}
	img = Downscale(img, s.cfg.MaxWidth)
	if s.unchanged(ctx, img) {
		return
	}
	encoded, err := EncodeJPEG(img, s.cfg.JPEGQuality)
	if err != nil {
		log.Debug("frame encode failed", "error", err)
		return
	}

	imageID := session.NewImageID()
	imagePath := ""
	if resp, err := s.saver.SaveImage(ctx, encoded, imageID, api.SourceScreenCapture); err != nil {
		log.Warn("image save failed", "image_id", imageID, "error", err)
	} else {
		imagePath = resp.RelativePath
	}

	timestamp := media.FormatPosition(state.Position)
	resp, err := s.ocr.OCR(ctx, api.OCRRequest{
		Image:             encoded,
		TargetLanguage:    s.cfg.TargetLanguage,
		EnableTranslation: s.cfg.EnableTranslation,
		Timestamp:         timestamp,
		Source:            api.SourceScreenCapture,
	})
	if err != nil {
		log.Debug("OCR failed", "error", err)
		return
	}

	text, original := PreferredText(resp)
	if !s.texts.Check(text) {
		return
	}

	log.Info("screen text admitted", "chars", len(text), "regions", len(resp.TextRegions))
	if _, err := s.sink.AddScreenOCR(ctx, session.ScreenOCRPayload{
		Text:         text,
		OriginalText: original,
		Language:     resp.DetectedLanguage,
		Confidence:   resp.Confidence,
		Timestamp:    timestamp,
		ImageID:      imageID,
		ImagePath:    imagePath,
		Regions:      toRegions(resp.TextRegions),
	}); err != nil {
		log.Debug("screen text append rejected", "error", err)
	}
}

// unchanged computes the frame's perceptual hash and reports whether
// it sits within the distance threshold of the previous frame.
func (s *Sampler) unchanged(ctx context.Context, img image.Image) bool {
	hash, err := goimagehash.PerceptionHash(img)
	if err != nil {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lastHash == nil {
		s.lastHash = hash
		return false
	}
	dist, err := s.lastHash.Distance(hash)
	if err != nil {
		s.lastHash = hash
		return false
	}
	if dist <= s.cfg.MaxHashDistance {
		trace.Logger(ctx).Debug("frame visually unchanged", "distance", dist)
		return true
	}
	s.lastHash = hash
	return false
}

// Downscale bounds width while preserving aspect. Frames at or under
// the bound pass through untouched.
func Downscale(img image.Image, maxWidth int) image.Image {
	if maxWidth <= 0 || img.Bounds().Dx() <= maxWidth {
		return img
	}
	return resize.Resize(uint(maxWidth), 0, img, resize.Lanczos3)
}

// EncodeJPEG renders the frame as base64 JPEG without a data-URL
// prefix.
func EncodeJPEG(img image.Image, quality int) (string, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// PreferredText picks translated over original and clears the original
// when the two match.
func PreferredText(resp *api.OCRResponse) (string, string) {
	text := strings.TrimSpace(resp.TranslatedText)
	if text == "" {
		text = strings.TrimSpace(resp.OriginalText)
	}
	original := strings.TrimSpace(resp.OriginalText)
	if original == text {
		original = ""
	}
	return text, original
}

func toRegions(regions []api.TextRegion) []session.Region {
	if len(regions) == 0 {
		return nil
	}
	out := make([]session.Region, 0, len(regions))
	for _, r := range regions {
		out = append(out, session.Region{Text: r.Text, Confidence: r.Confidence, BBox: r.BBox})
	}
	return out
}
