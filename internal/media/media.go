// Package media defines the host capture surface the pipelines drive
package media

import (
	"context"
	"fmt"
	"image"
	"math"
)

// Ready states mirror the HTMLMediaElement readyState scale.
const (
	HaveNothing     = 0
	HaveMetadata    = 1
	HaveCurrentData = 2
	HaveFutureData  = 3
	HaveEnoughData  = 4
)

// Stream is a live audio source acquired for one tab. Release stops the
// underlying tracks; recorders created afterwards fail.
type Stream interface {
	NewRecorder() (Recorder, error)
	Release()
}

// Recorder accumulates stream data between Start and Stop. Stop returns
// the encoded chunk (WAV); an empty chunk returns nil bytes.
type Recorder interface {
	Start() error
	Stop() ([]byte, error)
}

// StreamProvider acquires audio capture streams from the host.
type StreamProvider interface {
	AcquireStream(ctx context.Context, tabID int) (Stream, error)
}

// PlayState describes a media element's current playback condition.
type PlayState struct {
	Playing    bool    `json:"playing"`
	ReadyState int     `json:"ready_state"` // HTMLMediaElement scale, HaveFutureData and up means enough buffer
	Position   float64 `json:"position"`    // seconds
	Duration   float64 `json:"duration"`    // seconds
}

// Sampleable reports whether the element is playing with enough buffered
// data to capture a meaningful frame.
func (s PlayState) Sampleable() bool {
	return s.Playing && s.ReadyState >= HaveFutureData
}

// MediaElement is the playing media surface inside a tab. Seek blocks
// until the position settles or ctx expires; callers bound it with a
// deadline and proceed on timeout.
type MediaElement interface {
	State(ctx context.Context) (PlayState, error)
	CaptureFrame(ctx context.Context) (image.Image, error)
	Seek(ctx context.Context, seconds float64) error
	Pause(ctx context.Context) error
	Play(ctx context.Context) error
}

// ElementProvider locates the active media element in a tab.
type ElementProvider interface {
	ActiveElement(ctx context.Context, tabID int) (MediaElement, error)
}

// FormatPosition renders a playback position as HH:MM:SS.
func FormatPosition(seconds float64) string {
	if seconds < 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		seconds = 0
	}
	total := int(seconds)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}
