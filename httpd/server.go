// Package httpd exposes the HTTP surface: the SSE streaming transport,
// its companion message endpoint, the webhook ingress, and health.
package httpd

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/brightport/boardbridge/fault"
	"github.com/brightport/boardbridge/ingress"
	"github.com/brightport/boardbridge/session"
	"github.com/brightport/boardbridge/wire"
)

// SessionIDHeader is the alternative carrier for the session id on the
// message endpoint; the query parameter takes precedence.
const SessionIDHeader = "X-Session-Id"

// Config configures a Server.
type Config struct {
	Sessions *session.Manager
	Webhook  *ingress.Handler
	MaxBody  int64
	Logger   *slog.Logger
}

// Server is the BoardBridge HTTP server.
type Server struct {
	sessions *session.Manager
	webhook  *ingress.Handler
	router   *chi.Mux
	logger   *slog.Logger
}

// New constructs a Server with middleware and routes configured.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxBody := cfg.MaxBody
	if maxBody <= 0 {
		maxBody = 1 << 20
	}

	s := &Server{
		sessions: cfg.Sessions,
		webhook:  cfg.Webhook,
		router:   chi.NewRouter(),
		logger:   logger,
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)
	s.router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBody)
			next.ServeHTTP(w, r)
		})
	})

	s.router.Get("/health", s.handleHealth)
	s.router.Get("/sse", s.handleSSE)
	s.router.Post("/messages", s.handleMessage)
	s.router.Handle("/webhook", s.webhook)
	s.router.Get("/webhook/events", s.webhook.HandleQuery)

	return s
}

// Router exposes the root HTTP handler.
func (s *Server) Router() http.Handler { return s.router }

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleMessage routes an inbound client message to its session. The
// response to the protocol request travels over the session's SSE
// stream; this endpoint only acknowledges receipt.
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Authorize(r.Header.Get("Authorization"), "message"); err != nil {
		writeError(w, err)
		return
	}

	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		sessionID = r.Header.Get(SessionIDHeader)
	}

	var req wire.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fault.Wrap(fault.CodeInvalidArgument, err, "malformed JSON-RPC body"))
		return
	}

	if err := s.sessions.Route(sessionID, req); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"accepted": true})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	code := fault.CodeOf(err)
	message := err.Error()
	if fe, ok := fault.From(err); ok {
		message = fe.Message
	}
	writeJSON(w, fault.HTTPStatus(code), map[string]any{
		"error": map[string]any{
			"code":    string(code),
			"message": message,
		},
	})
}
