package server

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	apperrors "github.com/truelens/capture/internal/errors"
	"github.com/truelens/capture/internal/pipeline"
	"github.com/truelens/capture/internal/pipeline/keyframe"
	"github.com/truelens/capture/internal/poll"
	"github.com/truelens/capture/internal/session"
	"github.com/truelens/capture/internal/trace"
)

// Pipelines is the controller surface the server exposes.
type Pipelines interface {
	Start(ctx context.Context, tabID int, opts pipeline.Options) (pipeline.State, error)
	Stop(ctx context.Context, tabID int) string
	Status(tabID int) (pipeline.State, bool)
	States() []pipeline.State
	Selection(ctx context.Context, tabID int) ([]session.Entry, error)
	Sweep(ctx context.Context, tabID int) ([]keyframe.Frame, error)
	Events() <-chan pipeline.Event
}

// ResultFeed is the poller surface the server broadcasts from.
type ResultFeed interface {
	Events() <-chan poll.Event
	Polling() (string, bool)
}

// Inbound WebSocket message envelope.
type Message struct {
	Type  string `json:"type"`
	TabID int    `json:"tab_id"`
}

// ErrorMessage reports a rejected or failed client request.
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// StopMessage answers a stop request with the finalized session id.
type StopMessage struct {
	Type      string `json:"type"`
	TabID     int    `json:"tab_id"`
	SessionID string `json:"session_id"`
}

// rateLimiter tracks message timestamps in a sliding window.
type rateLimiter struct {
	mu         sync.Mutex
	timestamps []time.Time
}

// allow records the message timestamp when under the limit.
func (r *rateLimiter) allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-RateLimitWindow)

	valid := r.timestamps[:0]
	for _, t := range r.timestamps {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	r.timestamps = valid

	if len(r.timestamps) >= RateLimitMessages {
		return false
	}
	r.timestamps = append(r.timestamps, now)
	return true
}

// Server handles the presentation layer's HTTP and WebSocket
// connections and fans pipeline/poll events out to every client.
type Server struct {
	pipelines Pipelines
	results   ResultFeed

	mu         sync.RWMutex
	conns      map[*websocket.Conn]struct{}
	rateLimits map[*websocket.Conn]*rateLimiter
}

// New creates a server and starts the event broadcasters.
func New(pipelines Pipelines, results ResultFeed) *Server {
	s := &Server{
		pipelines:  pipelines,
		results:    results,
		conns:      make(map[*websocket.Conn]struct{}),
		rateLimits: make(map[*websocket.Conn]*rateLimiter),
	}

	go s.broadcastPipelineEvents()
	if results != nil {
		go s.broadcastResultEvents()
	}
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/ws", s.handleWebSocket)

	mux.HandleFunc("POST /api/pipeline/{tab}/start", s.handleStart)
	mux.HandleFunc("POST /api/pipeline/{tab}/stop", s.handleStop)
	mux.HandleFunc("POST /api/pipeline/{tab}/selection", s.handleSelection)
	mux.HandleFunc("POST /api/pipeline/{tab}/sweep", s.handleSweep)
	mux.HandleFunc("GET /api/pipeline/{tab}/status", s.handleTabStatus)
	mux.HandleFunc("GET /api/status", s.handleStatus)

	return corsMiddleware(trace.Middleware(mux))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	tabID, ok := tabParam(w, r)
	if !ok {
		return
	}

	var opts pipeline.Options
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&opts); err != nil {
			writeError(w, apperrors.Wrap(err, apperrors.CodeInvalidOption, "decode capture options"))
			return
		}
	}

	state, err := s.pipelines.Start(r.Context(), tabID, opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, state)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	tabID, ok := tabParam(w, r)
	if !ok {
		return
	}
	sessionID := s.pipelines.Stop(r.Context(), tabID)
	writeJSON(w, map[string]string{"session_id": sessionID})
}

func (s *Server) handleSelection(w http.ResponseWriter, r *http.Request) {
	tabID, ok := tabParam(w, r)
	if !ok {
		return
	}
	entries, err := s.pipelines.Selection(r.Context(), tabID)
	if err != nil {
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []session.Entry{}
	}
	writeJSON(w, map[string]any{"entries": entries})
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	tabID, ok := tabParam(w, r)
	if !ok {
		return
	}
	frames, err := s.pipelines.Sweep(r.Context(), tabID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"keyframes": len(frames)})
}

func (s *Server) handleTabStatus(w http.ResponseWriter, r *http.Request) {
	tabID, ok := tabParam(w, r)
	if !ok {
		return
	}
	state, live := s.pipelines.Status(tabID)
	writeJSON(w, map[string]any{"live": live, "state": state})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"pipelines": s.pipelines.States()}
	if s.results != nil {
		if id, active := s.results.Polling(); active {
			body["polling_session"] = id
		}
	}
	writeJSON(w, body)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("websocket accept error", "error", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.rateLimits[conn] = &rateLimiter{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		delete(s.rateLimits, conn)
		s.mu.Unlock()
	}()

	baseCtx := r.Context()
	log := trace.Logger(baseCtx)
	log.Info("websocket connected", "remote", r.RemoteAddr)

	for {
		var msg Message
		if err := wsjson.Read(baseCtx, conn, &msg); err != nil {
			log.Debug("websocket read error", "error", err)
			return
		}

		s.mu.RLock()
		rl := s.rateLimits[conn]
		s.mu.RUnlock()

		if !rl.allow() {
			log.Warn("rate limit exceeded", "remote", r.RemoteAddr)
			_ = wsjson.Write(baseCtx, conn, ErrorMessage{Type: "error", Message: "rate limit exceeded"})
			continue
		}

		switch msg.Type {
		case "selection":
			ctx, span := trace.StartSpan(baseCtx, "ws_selection")
			if _, err := s.pipelines.Selection(ctx, msg.TabID); err != nil {
				log.Warn("selection capture failed", "tab_id", msg.TabID, "error", err)
				_ = wsjson.Write(ctx, conn, ErrorMessage{Type: "error", Message: userMessage(err)})
			}
			span.End()
		case "stop":
			ctx, span := trace.StartSpan(baseCtx, "ws_stop")
			id := s.pipelines.Stop(ctx, msg.TabID)
			_ = wsjson.Write(ctx, conn, StopMessage{Type: "stopped", TabID: msg.TabID, SessionID: id})
			span.End()
		}
	}
}

func (s *Server) broadcastPipelineEvents() {
	for ev := range s.pipelines.Events() {
		s.broadcast(ev)
	}
}

func (s *Server) broadcastResultEvents() {
	for ev := range s.results.Events() {
		s.broadcast(ev)
	}
}

// broadcast sends one event to every connection. Writes run per
// connection so one stalled client does not hold the rest back.
func (s *Server) broadcast(msg any) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for conn := range s.conns {
		go func(c *websocket.Conn) {
			_ = wsjson.Write(context.Background(), c, msg)
		}(conn)
	}
}

func tabParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	tabID, err := strconv.Atoi(r.PathValue("tab"))
	if err != nil {
		writeError(w, apperrors.Newf(apperrors.CodeInvalidOption, "bad tab id %q", r.PathValue("tab")))
		return 0, false
	}
	return tabID, true
}

func writeJSON(w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	body := map[string]string{"error": userMessage(err)}

	var appErr *apperrors.AppError
	if stderrors.As(err, &appErr) {
		status = appErr.HTTPStatus()
		body["code"] = appErr.Code.String()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// userMessage turns unreachable-context failures into an actionable
// prompt; everything else passes through.
func userMessage(err error) string {
	if apperrors.IsCode(err, apperrors.CodeContextUnreachable) {
		return "page not responding, reload the tab and retry"
	}
	return err.Error()
}
