package session

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/brightport/boardbridge/fault"
	"github.com/brightport/boardbridge/wire"
)

// Handler answers one inbound request for a session. ok=false means the
// request was a notification with no reply.
type Handler func(ctx context.Context, sessionID string, req wire.Request) (res wire.Response, ok bool)

// inboundBuffer bounds how many unprocessed messages a single session
// may hold before routing blocks.
const inboundBuffer = 32

// Config configures a Manager.
type Config struct {
	// Handler processes routed inbound requests. Required.
	Handler Handler

	// BearerToken is the shared transport credential. When empty the
	// auth gate is permissive and warns once per access path.
	BearerToken string

	Logger *slog.Logger
}

// Manager tracks live sessions keyed by id. The most recently created
// session is the fallback routing target for clients that omit a
// session identifier.
type Manager struct {
	handler Handler
	token   string
	logger  *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	order    []string // creation order, for fallback reassignment
	fallback string

	warnOnce sync.Map // access path -> *sync.Once
}

// NewManager creates an empty Manager.
func NewManager(cfg Config) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		handler:  cfg.Handler,
		token:    cfg.BearerToken,
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// Authorize applies the bearer gate for the named access path before any
// session state is touched. With no configured credential the gate is a
// no-op that warns once per path about the insecure configuration.
func (m *Manager) Authorize(authorization, path string) error {
	if m.token == "" {
		onceAny, _ := m.warnOnce.LoadOrStore(path, &sync.Once{})
		onceAny.(*sync.Once).Do(func() {
			m.logger.Warn("no bearer token configured, transport access is unauthenticated", "path", path)
		})
		return nil
	}
	provided := strings.TrimPrefix(authorization, "Bearer ")
	if provided == authorization || subtle.ConstantTimeCompare([]byte(provided), []byte(m.token)) != 1 {
		return fault.New(fault.CodeUnauthenticated, "missing or invalid bearer credential")
	}
	return nil
}

// Accept wraps conn in a new Session, registers it, and records it as
// the fallback target. It returns the generated session id. The session
// starts consuming inbound messages immediately; within one session,
// messages are processed in arrival order.
func (m *Manager) Accept(conn Connection) *Session {
	s := &Session{
		id:      uuid.NewString(),
		conn:    conn,
		created: time.Now(),
		inbound: make(chan inboundMessage, inboundBuffer),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}

	m.mu.Lock()
	m.sessions[s.id] = s
	m.order = append(m.order, s.id)
	m.fallback = s.id
	count := len(m.sessions)
	m.mu.Unlock()

	go m.consume(s)

	m.logger.Info("session accepted", "session_id", s.id, "live_sessions", count)
	return s
}

// Route dispatches req into the target session. An empty sessionID
// resolves to the fallback target, a compatibility affordance for
// clients that open exactly one session and omit correlation.
func (m *Manager) Route(sessionID string, req wire.Request) error {
	m.mu.Lock()
	target := sessionID
	if target == "" {
		target = m.fallback
	}
	s, ok := m.sessions[target]
	m.mu.Unlock()

	if target == "" || !ok {
		if sessionID == "" {
			return fault.New(fault.CodeInvalidRequest, "session not initialized")
		}
		return fault.New(fault.CodeInvalidRequest, "session %q is not registered", sessionID)
	}

	select {
	case s.inbound <- inboundMessage{req: req}:
		return nil
	case <-s.closing:
		return fault.New(fault.CodeInvalidRequest, "session %q is closing", target)
	}
}

// Close removes the session and releases its connection. Closing an
// unknown or already-closed id is not an error: disconnects and
// transport errors may both report the same session.
func (m *Manager) Close(sessionID string) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
		for i, id := range m.order {
			if id == sessionID {
				m.order = append(m.order[:i], m.order[i+1:]...)
				break
			}
		}
		if m.fallback == sessionID {
			m.fallback = ""
			if len(m.order) > 0 {
				m.fallback = m.order[len(m.order)-1]
			}
		}
	}
	remaining := len(m.sessions)
	m.mu.Unlock()

	if !ok {
		return
	}

	close(s.closing)
	<-s.done
	if err := s.conn.Close(); err != nil {
		m.logger.Warn("closing session connection", "session_id", sessionID, "error", err)
	}
	m.logger.Info("session closed", "session_id", sessionID, "live_sessions", remaining)
}

// CloseAll closes every live session, used during shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		m.Close(id)
	}
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// consume processes one session's inbound messages in order. Each
// session has its own consumer, so one session's processing never
// blocks another's.
func (m *Manager) consume(s *Session) {
	defer close(s.done)
	for {
		select {
		case <-s.closing:
			return
		case msg := <-s.inbound:
			res, ok := m.handler(context.Background(), s.id, msg.req)
			if !ok {
				continue
			}
			if err := s.conn.Send(res); err != nil {
				m.logger.Warn("session push failed", "session_id", s.id, "error", err)
				// The connection is gone; tear the session down from a
				// separate goroutine so this consumer can exit.
				go m.Close(s.id)
				return
			}
		}
	}
}
