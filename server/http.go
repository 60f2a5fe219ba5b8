// Package server provides the local HTTP API for the extension.
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/wolfeidau/togglemark/message"
	"github.com/wolfeidau/togglemark/telemetry"
)

// maxBodySize bounds request bodies, matching the native messaging limit.
const maxBodySize = 1 << 20

// Dispatcher handles extension messages.
type Dispatcher interface {
	Handle(ctx context.Context, msg message.Message) message.Response
}

// Config holds server configuration.
type Config struct {
	// Address to listen on (e.g., "127.0.0.1:7787")
	Address string

	// AuthToken, when set, is required as a bearer token on /api routes.
	AuthToken string

	// Logger for the server
	Logger *slog.Logger
}

// Server is the HTTP server for the extension API.
type Server struct {
	config     Config
	httpServer *http.Server
	logger     *slog.Logger
	dispatcher Dispatcher
}

// New creates a new server dispatching to d.
func New(cfg Config, d Dispatcher) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Address == "" {
		cfg.Address = "127.0.0.1:7787"
	}

	s := &Server{
		config:     cfg,
		logger:     cfg.Logger.With("component", "server"),
		dispatcher: d,
	}

	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the routed handler with logging and auth middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerRoutes(mux)
	return s.loggingMiddleware(s.authMiddleware(mux))
}

// registerRoutes sets up the HTTP routes.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)

	// Prometheus metrics endpoint (returns 404 if not enabled)
	mux.Handle("GET /metrics", telemetry.PrometheusHandler())

	// Raw extension messages, same envelope as the native host.
	mux.HandleFunc("POST /api/messages", s.handleMessage)

	mux.HandleFunc("POST /api/toggle", s.handleToggle)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/expiring", s.handleAction("expiring", message.ActionListExpiring))
	mux.HandleFunc("GET /api/reminders", s.handleAction("reminders", message.ActionListReminders))
	mux.HandleFunc("POST /api/reminders", s.handleSetReminder)
	mux.HandleFunc("DELETE /api/reminders/{id}", s.handleCancelReminder)
	mux.HandleFunc("POST /api/sweep", s.handleAction("sweep", message.ActionSweep))
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "health")
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// handleMessage accepts any extension message. The reply is always 200; the
// outcome is in the response body, as it is for the native host.
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "messages")

	var msg message.Message
	if err := decodeBody(r, &msg); err != nil {
		s.writeJSON(w, http.StatusBadRequest, message.Response{Success: false, Message: fmt.Sprintf("invalid request: %v", err)})
		return
	}
	s.writeJSON(w, http.StatusOK, s.dispatch(r, msg))
}

type pageRequest struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "toggle")

	var req pageRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, message.Response{Success: false, Message: fmt.Sprintf("invalid request: %v", err)})
		return
	}
	s.reply(w, s.dispatch(r, message.Message{Action: message.ActionToggle, URL: req.URL, Title: req.Title}))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "status")
	s.reply(w, s.dispatch(r, message.Message{Action: message.ActionStatus, URL: r.URL.Query().Get("url")}))
}

type reminderRequest struct {
	BookmarkID string `json:"bookmarkId"`
	URL        string `json:"url"`
	Title      string `json:"title"`
	Minutes    int    `json:"minutes"`
}

func (s *Server) handleSetReminder(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "reminders")

	var req reminderRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, message.Response{Success: false, Message: fmt.Sprintf("invalid request: %v", err)})
		return
	}
	s.reply(w, s.dispatch(r, message.Message{
		Action:     message.ActionSetReminder,
		BookmarkID: req.BookmarkID,
		URL:        req.URL,
		Title:      req.Title,
		Minutes:    req.Minutes,
	}))
}

func (s *Server) handleCancelReminder(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "reminders")
	s.reply(w, s.dispatch(r, message.Message{Action: message.ActionCancelReminder, BookmarkID: r.PathValue("id")}))
}

// handleAction serves routes that map onto a message with no arguments.
func (s *Server) handleAction(endpoint, action string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		telemetry.SetEndpoint(r, endpoint)
		s.reply(w, s.dispatch(r, message.Message{Action: action}))
	}
}

func (s *Server) dispatch(r *http.Request, msg message.Message) message.Response {
	telemetry.SetAction(r, msg.Action)
	resp := s.dispatcher.Handle(r.Context(), msg)
	telemetry.RecordInboundMessage(r.Context(), "http", msg.Action, resp.Success)
	return resp
}

// reply writes resp with 200 on success and 422 otherwise.
func (s *Server) reply(w http.ResponseWriter, resp message.Response) {
	status := http.StatusOK
	if !resp.Success {
		status = http.StatusUnprocessableEntity
	}
	s.writeJSON(w, status, resp)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("writing response", "error", err)
	}
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodySize))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decoding body: %w", err)
	}
	return nil
}

// loggingMiddleware logs HTTP requests with structured fields for analysis.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		// Inject request tags so handlers can set endpoint and action.
		r = telemetry.InjectTags(r)
		tags := telemetry.GetTags(r)

		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)

		attrs := []any{
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,

			"status", wrapped.status,
			"status_class", telemetry.StatusClass(wrapped.status),
			"bytes_sent", wrapped.bytesWritten,

			"duration_ms", duration.Milliseconds(),
			"duration", duration.String(),

			"remote_addr", r.RemoteAddr,
			"user_agent", r.UserAgent(),
		}
		if tags.Endpoint != "" {
			attrs = append(attrs, "endpoint", tags.Endpoint)
		}
		if tags.Action != "" {
			attrs = append(attrs, "action", tags.Action)
		}

		s.logger.Info("http request", attrs...)

		telemetry.RecordHTTP(r.Context(), r, wrapped.status, wrapped.bytesWritten, duration)
	})
}

// Start listens and serves until Shutdown.
func (s *Server) Start() error {
	s.logger.Info("starting server", "address", s.config.Address)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")
	return s.httpServer.Shutdown(ctx)
}

// Address returns the server's listen address.
func (s *Server) Address() string {
	return s.config.Address
}

// responseWriter wraps http.ResponseWriter to capture the status code and bytes written.
type responseWriter struct {
	http.ResponseWriter
	status       int
	bytesWritten int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}

// Flush implements http.Flusher.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack implements http.Hijacker.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, fmt.Errorf("hijacking not supported")
}

// Unwrap returns the underlying ResponseWriter.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
