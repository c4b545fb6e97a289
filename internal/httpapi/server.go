package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/scribe/internal/config"
	"github.com/ent0n29/scribe/internal/coordinator"
	"github.com/ent0n29/scribe/internal/observability"
	"github.com/ent0n29/scribe/internal/protocol"
	"github.com/ent0n29/scribe/internal/recording"
)

const (
	anonymousUser   = "anonymous"
	userHeader      = "X-User-ID"
	wsReadLimit     = 2 << 20
	wsReadTimeout   = 120 * time.Second
	wsWriteTimeout  = 10 * time.Second
	wsPingInterval  = 30 * time.Second
	wsQueueLength   = 256
	msgInvalidFrame = "Invalid message"
)

// Coordinator is the part of the session coordinator the transport drives.
type Coordinator interface {
	RunConnection(ctx context.Context, conn coordinator.Connection, inbound <-chan any, outbound chan<- any) error
	Discard(recordingID string)
}

// ReadyInfo describes the wired backends for /readyz.
type ReadyInfo struct {
	StoreMode   string
	Transcriber string
	Summarizer  string
}

type Server struct {
	cfg         config.Config
	store       recording.Store
	coordinator Coordinator
	metrics     *observability.Metrics
	logger      *log.Logger
	ready       ReadyInfo
	upgrader    websocket.Upgrader
}

func New(cfg config.Config, store recording.Store, coord Coordinator, metrics *observability.Metrics, logger *log.Logger, ready ReadyInfo) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		cfg:         cfg,
		store:       store,
		coordinator: coord,
		metrics:     metrics,
		logger:      logger.With("component", "httpapi"),
		ready:       ready,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Browsers may only open a recording socket from the same origin.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})
	r.Get("/v1/perf/pipeline", s.handlePerfPipeline)

	r.Route("/recordings", func(r chi.Router) {
		r.Post("/", s.handleCreateRecording)
		r.Get("/", s.handleListRecordings)
		r.Get("/{id}", s.handleGetRecording)
		r.Put("/{id}", s.handleUpdateRecording)
		r.Delete("/{id}", s.handleDeleteRecording)
	})
	r.Get("/ws", s.handleRecordingWS)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.store == nil || s.coordinator == nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not_ready"})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":      "ready",
		"store_mode":  s.ready.StoreMode,
		"transcriber": s.ready.Transcriber,
		"summarizer":  s.ready.Summarizer,
	})
}

// userIDFrom resolves the authenticated caller. Browsers cannot set headers on
// a websocket handshake, so the query parameter is accepted as well.
func userIDFrom(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get(userHeader)); v != "" {
		return v
	}
	if v := strings.TrimSpace(r.URL.Query().Get("user_id")); v != "" {
		return v
	}
	return anonymousUser
}

func (s *Server) handleRecordingWS(w http.ResponseWriter, r *http.Request) {
	if s.coordinator == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "coordinator not configured")
		return
	}
	query := r.URL.Query()
	boundID := strings.TrimSpace(query.Get("recordingId"))
	boundMime := strings.TrimSpace(query.Get("mimeType"))

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer ws.Close()

	conn := coordinator.Connection{ID: uuid.NewString(), UserID: userIDFrom(r)}
	logger := s.logger.With("conn_id", conn.ID, "user_id", conn.UserID)
	logger.Debug("websocket connected", "remote", r.RemoteAddr)
	s.metrics.SessionEvent("ws_connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	inbound := make(chan any, wsQueueLength)
	outbound := make(chan any, wsQueueLength)
	runDone := make(chan struct{})

	go func() {
		defer close(runDone)
		if err := s.coordinator.RunConnection(ctx, conn, inbound, outbound); err != nil {
			logger.Error("connection actor stopped", "err", err)
			cancel()
		}
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		ping := time.NewTicker(wsPingInterval)
		defer ping.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ping.C:
				_ = ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
					cancel()
					return
				}
			case msg := <-outbound:
				_ = ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := ws.WriteJSON(msg); err != nil {
					logger.Debug("websocket write failed", "err", err)
					s.metrics.Outbound(frameEventName(msg), "write_error")
					cancel()
					return
				}
				s.metrics.WSMessage("outbound", frameEventName(msg))
			}
		}
	}()

	ws.SetReadLimit(wsReadLimit)
	_ = ws.SetReadDeadline(time.Now().Add(wsReadTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})

readLoop:
	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			break
		}
		_ = ws.SetReadDeadline(time.Now().Add(wsReadTimeout))

		var parsed any
		switch msgType {
		case websocket.TextMessage:
			parsed, err = protocol.ParseClientMessage(data)
			if err != nil {
				logger.Debug("invalid client frame", "err", err)
				s.rejectFrame(outbound, protocol.RecordingIDOf(data))
				continue
			}
		case websocket.BinaryMessage:
			parsed, err = protocol.BinaryChunk(boundID, data, boundMime)
			if err != nil {
				logger.Debug("binary frame without bound recording", "bytes", len(data))
				s.rejectFrame(outbound, boundID)
				continue
			}
		default:
			continue
		}

		s.metrics.WSMessage("inbound", clientEventName(parsed))
		select {
		case <-ctx.Done():
			break readLoop
		case inbound <- parsed:
		}
	}

	// Frames already read still reach the actor, and the writer stays up
	// while it applies them.
	close(inbound)
	<-runDone
	cancel()
	<-writerDone
	logger.Debug("websocket disconnected")
	s.metrics.SessionEvent("ws_disconnected")
}

// rejectFrame answers a malformed frame without blocking the read loop; the
// writer goroutine stays the only one touching the socket.
func (s *Server) rejectFrame(outbound chan<- any, recordingID string) {
	ev := protocol.RecordingError{RecordingID: recordingID, Error: msgInvalidFrame}
	select {
	case outbound <- protocol.NewFrame(ev):
		s.metrics.Outbound(string(ev.EventName()), "queued")
	default:
		s.metrics.Outbound(string(ev.EventName()), "drop_full")
	}
}

func clientEventName(v any) string {
	switch v.(type) {
	case protocol.AudioChunk:
		return string(protocol.EventAudioChunk)
	case protocol.CompleteRecording:
		return string(protocol.EventCompleteRecording)
	case protocol.PauseRecording:
		return string(protocol.EventPauseRecording)
	case protocol.ResumeRecording:
		return string(protocol.EventResumeRecording)
	default:
		return "unknown"
	}
}

func frameEventName(v any) string {
	if f, ok := v.(protocol.Frame); ok {
		return string(f.Event)
	}
	return "unknown"
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
