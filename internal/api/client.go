package api

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	apperrors "github.com/truelens/capture/internal/errors"
	"github.com/truelens/capture/internal/resilience"
	"github.com/truelens/capture/internal/trace"
)

// Client talks to the verification backend over HTTP. One circuit breaker
// guards all calls; only the save endpoints retry.
type Client struct {
	baseURL   string
	http      *http.Client
	breaker   *resilience.Breaker
	saveRetry resilience.RetryConfig
}

// New creates a client for the backend at baseURL.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		http:      &http.Client{Timeout: timeout},
		breaker:   resilience.New(resilience.DefaultConfig()),
		saveRetry: resilience.FixedRetryConfig(DefaultSaveRetries, DefaultSaveRetryWait),
	}
}

// WithSaveRetry overrides the retry policy for the save endpoints.
func (c *Client) WithSaveRetry(cfg resilience.RetryConfig) *Client {
	c.saveRetry = cfg
	return c
}

// BreakerState exposes breaker state for status reporting.
func (c *Client) BreakerState() resilience.State {
	return c.breaker.State()
}

// OCR extracts text from one frame. Not retried; a lost sample is skipped
// upstream.
func (c *Client) OCR(ctx context.Context, req OCRRequest) (*OCRResponse, error) {
	var out OCRResponse
	if err := c.post(ctx, pathOCR, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// OCRBatch extracts text from several frames in one call. Responses are
// positional: out[i] answers req.Frames[i].
func (c *Client) OCRBatch(ctx context.Context, req BatchOCRRequest) ([]OCRResponse, error) {
	var out []OCRResponse
	if err := c.post(ctx, pathOCRBatch, req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SpeechToText transcribes one audio chunk. Not retried.
func (c *Client) SpeechToText(ctx context.Context, req SpeechRequest) (*SpeechResponse, error) {
	var out SpeechResponse
	if err := c.post(ctx, pathSpeech, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SaveSession persists the session document, retrying network-class
// failures with a fixed delay.
func (c *Client) SaveSession(ctx context.Context, data json.RawMessage, sessionID string, trigger bool) (*SaveSessionResponse, error) {
	req := SaveSessionRequest{SessionData: data, SessionID: sessionID, TriggerPipeline: trigger}
	var out SaveSessionResponse
	err := resilience.Retry(ctx, c.saveRetry, func() error {
		return c.post(ctx, pathSaveSession, req, &out)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// SaveImage persists one captured frame under the save retry policy.
func (c *Client) SaveImage(ctx context.Context, imageB64, imageID, source string) (*SaveImageResponse, error) {
	req := SaveImageRequest{ImageData: imageB64, ImageID: imageID, Source: source}
	var out SaveImageResponse
	err := resilience.Retry(ctx, c.saveRetry, func() error {
		return c.post(ctx, pathSaveImage, req, &out)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Results fetches the analysis document for a session. A backend that has
// not produced one yet answers 404, surfaced as CodeNotFound.
func (c *Client) Results(ctx context.Context, sessionID string) (*Result, error) {
	var out Result
	if err := c.get(ctx, pathResults+url.PathEscape(sessionID), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Languages lists supported target languages.
func (c *Client) Languages(ctx context.Context) ([]Language, error) {
	var out []Language
	if err := c.get(ctx, pathLanguages, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Health probes the backend.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var out Health
	if err := c.get(ctx, pathHealth, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternal, "encode request")
	}
	return c.do(ctx, http.MethodPost, path, bytes.NewReader(body), out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	if err := c.breaker.Allow(); err != nil {
		return apperrors.Wrap(err, apperrors.CodeUnavailable, "backend circuit open")
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternal, "build request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tc, ok := trace.FromContext(ctx); ok {
		req.Header.Set(trace.TraceIDKey, tc.TraceID)
		req.Header.Set(trace.SpanIDKey, tc.SpanID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.breaker.Failure()
		return transportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		c.breaker.Failure()
		return statusError(resp)
	}
	c.breaker.Success()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternal, "decode response")
	}
	return nil
}

func transportError(err error) error {
	var uerr *url.Error
	if stderrors.As(err, &uerr) && uerr.Timeout() {
		return apperrors.Wrap(err, apperrors.CodeTimeout, "backend timeout")
	}
	if stderrors.Is(err, context.Canceled) {
		return apperrors.Wrap(err, apperrors.CodeCancelled, "request cancelled")
	}
	return apperrors.Wrap(err, apperrors.CodeUnavailable, "backend unreachable")
}

func statusError(resp *http.Response) error {
	detail := readDetail(resp.Body)
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return apperrors.Newf(apperrors.CodeNotFound, "%s", orStatus(detail, "not found"))
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		return apperrors.Newf(apperrors.CodeInvalidOption, "backend rejected request: %s", orStatus(detail, resp.Status))
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
		return apperrors.Newf(apperrors.CodeUnavailable, "backend error: %s", orStatus(detail, resp.Status))
	default:
		return apperrors.Newf(apperrors.CodeInternal, "unexpected status: %s", orStatus(detail, resp.Status))
	}
}

// readDetail pulls FastAPI's {"detail": ...} message when present.
func readDetail(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil {
		return ""
	}
	var body struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Detail != "" {
		return body.Detail
	}
	return strings.TrimSpace(string(raw))
}

func orStatus(detail, fallback string) string {
	if detail != "" {
		return detail
	}
	return fallback
}
