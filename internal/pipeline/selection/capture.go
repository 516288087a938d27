// Package selection captures user-selected page text on demand
package selection

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/truelens/capture/internal/bus"
	apperrors "github.com/truelens/capture/internal/errors"
	"github.com/truelens/capture/internal/session"
	"github.com/truelens/capture/internal/trace"
)

// MessageType identifies selection requests on the bus.
const MessageType = "get_selection"

// Requester sends a request to a named context and waits for its
// response.
type Requester interface {
	Request(ctx context.Context, target string, msg bus.Message) (any, error)
}

// EntrySink receives selection payloads.
type EntrySink interface {
	AddSelection(ctx context.Context, p session.SelectionPayload) ([]session.Entry, error)
}

// Response is what the tab context answers a selection request with.
type Response struct {
	Text      string       `json:"text"`
	PageURL   string       `json:"page_url"`
	PageTitle string       `json:"page_title"`
	Rect      session.Rect `json:"rect"`
}

// Capturer pulls the current selection out of a tab's page context.
type Capturer struct {
	bus  Requester
	sink EntrySink
}

// New creates a selection capturer.
func New(requester Requester, sink EntrySink) *Capturer {
	return &Capturer{bus: requester, sink: sink}
}

// Capture asks the tab context for its selection and appends it. An
// empty selection is a no-op, not an error; an unreachable tab context
// surfaces as ContextUnreachable from the bus.
func (c *Capturer) Capture(ctx context.Context, tabID int) ([]session.Entry, error) {
	resp, err := c.bus.Request(ctx, bus.TabContext(tabID), bus.Message{
		Type:  MessageType,
		TabID: tabID,
	})
	if err != nil {
		return nil, err
	}

	sel, err := decode(resp)
	if err != nil {
		return nil, err
	}
	text := strings.TrimSpace(sel.Text)
	if text == "" {
		trace.Logger(ctx).Debug("empty selection", "tab_id", tabID)
		return nil, nil
	}

	return c.sink.AddSelection(ctx, session.SelectionPayload{
		Text: text,
		Meta: session.SelectionMeta{
			PageURL:   sel.PageURL,
			PageTitle: sel.PageTitle,
			Rect:      sel.Rect,
		},
	})
}

// decode tolerates typed and generic handler responses.
func decode(v any) (Response, error) {
	switch r := v.(type) {
	case Response:
		return r, nil
	case *Response:
		if r == nil {
			return Response{}, nil
		}
		return *r, nil
	case nil:
		return Response{}, nil
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return Response{}, apperrors.Wrap(err, apperrors.CodeInternal, "decode selection response")
		}
		var out Response
		if err := json.Unmarshal(raw, &out); err != nil {
			return Response{}, apperrors.Wrap(err, apperrors.CodeInternal, "decode selection response")
		}
		return out, nil
	}
}
