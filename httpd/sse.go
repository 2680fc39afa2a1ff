package httpd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/brightport/boardbridge/fault"
	"github.com/brightport/boardbridge/wire"
)

// heartbeatInterval is the interval between SSE heartbeat comments.
const heartbeatInterval = 15 * time.Second

// sseConn adapts an SSE response stream to the session.Connection
// interface. The session owns it exclusively: Send is the only write
// path and the serving goroutine is the only reader of out.
type sseConn struct {
	out       chan wire.Response
	closed    chan struct{}
	closeOnce sync.Once
}

func newSSEConn() *sseConn {
	return &sseConn{
		out:    make(chan wire.Response, 16),
		closed: make(chan struct{}),
	}
}

func (c *sseConn) Send(res wire.Response) error {
	select {
	case c.out <- res:
		return nil
	case <-c.closed:
		return fmt.Errorf("sse connection closed")
	}
}

func (c *sseConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// handleSSE upgrades the request to a long-lived push channel. The
// first event names the companion message endpoint with the assigned
// session id; every subsequent event is a JSON-RPC response pushed by
// the session's consumer.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Authorize(r.Header.Get("Authorization"), "connect"); err != nil {
		writeError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, fault.New(fault.CodeInternal, "streaming not supported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	conn := newSSEConn()
	sess := s.sessions.Accept(conn)

	// A transport error and the client disconnect can both race to tear
	// the session down; Manager.Close is idempotent so one wins safely.
	defer s.sessions.Close(sess.ID())

	fmt.Fprintf(w, "event: endpoint\ndata: /messages?sessionId=%s\n\n", sess.ID())
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-conn.closed:
			return
		case res := <-conn.out:
			data, err := json.Marshal(res)
			if err != nil {
				s.logger.Error("marshaling sse response", "session_id", sess.ID(), "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: message\ndata: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
