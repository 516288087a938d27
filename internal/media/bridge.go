package media

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	_ "image/jpeg"
	_ "image/png"

	"github.com/truelens/capture/internal/bus"
	apperrors "github.com/truelens/capture/internal/errors"
)

// Message types the tab context answers for media element control.
const (
	MsgMediaState = "media_state"
	MsgMediaFrame = "media_frame"
	MsgMediaSeek  = "media_seek"
	MsgMediaPause = "media_pause"
	MsgMediaPlay  = "media_play"
)

// BusElements locates media elements through the message bus: the tab
// context registers handlers for the media control messages and the
// pipelines drive them from here. An unresponsive tab surfaces as
// ContextUnreachable from the bus.
type BusElements struct {
	bus *bus.Bus
}

// NewBusElements creates a bus-backed element provider.
func NewBusElements(b *bus.Bus) *BusElements {
	return &BusElements{bus: b}
}

// ActiveElement probes the tab for a playable element. A tab that
// cannot answer a state request has no usable media surface.
func (p *BusElements) ActiveElement(ctx context.Context, tabID int) (MediaElement, error) {
	el := &busElement{bus: p.bus, tabID: tabID}
	if _, err := el.State(ctx); err != nil {
		return nil, err
	}
	return el, nil
}

type busElement struct {
	bus   *bus.Bus
	tabID int
}

func (e *busElement) request(ctx context.Context, msgType string, payload any) (any, error) {
	return e.bus.Request(ctx, bus.TabContext(e.tabID), bus.Message{
		Type:    msgType,
		TabID:   e.tabID,
		Payload: payload,
	})
}

func (e *busElement) State(ctx context.Context) (PlayState, error) {
	resp, err := e.request(ctx, MsgMediaState, nil)
	if err != nil {
		return PlayState{}, err
	}
	return decodeState(resp)
}

func (e *busElement) CaptureFrame(ctx context.Context) (image.Image, error) {
	resp, err := e.request(ctx, MsgMediaFrame, nil)
	if err != nil {
		return nil, err
	}
	return decodeFrame(resp)
}

func (e *busElement) Seek(ctx context.Context, seconds float64) error {
	_, err := e.request(ctx, MsgMediaSeek, seconds)
	return err
}

func (e *busElement) Pause(ctx context.Context) error {
	_, err := e.request(ctx, MsgMediaPause, nil)
	return err
}

func (e *busElement) Play(ctx context.Context) error {
	_, err := e.request(ctx, MsgMediaPlay, nil)
	return err
}

// decodeState tolerates typed and generic handler responses.
func decodeState(v any) (PlayState, error) {
	switch s := v.(type) {
	case PlayState:
		return s, nil
	case *PlayState:
		if s == nil {
			return PlayState{}, nil
		}
		return *s, nil
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return PlayState{}, apperrors.Wrap(err, apperrors.CodeInternal, "decode play state")
		}
		var out PlayState
		if err := json.Unmarshal(raw, &out); err != nil {
			return PlayState{}, apperrors.Wrap(err, apperrors.CodeInternal, "decode play state")
		}
		return out, nil
	}
}

// decodeFrame accepts a decoded image, raw encoded bytes, or a base64
// string from the handler.
func decodeFrame(v any) (image.Image, error) {
	switch f := v.(type) {
	case image.Image:
		return f, nil
	case []byte:
		img, _, err := image.Decode(bytes.NewReader(f))
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeStreamCapture, "decode frame")
		}
		return img, nil
	case string:
		raw, err := base64.StdEncoding.DecodeString(f)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeStreamCapture, "decode frame")
		}
		img, _, err := image.Decode(bytes.NewReader(raw))
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeStreamCapture, "decode frame")
		}
		return img, nil
	default:
		return nil, apperrors.New(apperrors.CodeStreamCapture, "no frame in response")
	}
}
