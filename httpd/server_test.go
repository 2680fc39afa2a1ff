package httpd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/brightport/boardbridge/ingress"
	"github.com/brightport/boardbridge/session"
	"github.com/brightport/boardbridge/wire"
)

func newTestServer(t *testing.T, bearerToken string) *Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sessions := session.NewManager(session.Config{
		Handler: func(ctx context.Context, sessionID string, req wire.Request) (wire.Response, bool) {
			if req.Method == "ping" {
				return wire.NewResponse(req.ID, map[string]any{"ok": true}), true
			}
			return wire.NewResponse(req.ID, nil), true
		},
		BearerToken: bearerToken,
		Logger:      logger,
	})
	t.Cleanup(sessions.CloseAll)
	webhook := ingress.NewHandler(ingress.Config{Logger: logger})
	return New(Config{Sessions: sessions, Webhook: webhook, Logger: logger})
}

func TestServer_Health(t *testing.T) {
	s := newTestServer(t, "")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("unexpected body %q", rec.Body)
	}
}

func TestServer_MessageWithoutSessionRejected(t *testing.T) {
	s := newTestServer(t, "")
	req := httptest.NewRequest(http.MethodPost, "/messages",
		strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("no session: got %d, want 400", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/messages?sessionId=ghost",
		strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	rec = httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown session: got %d, want 400", rec.Code)
	}
}

func TestServer_MessageMalformedBody(t *testing.T) {
	s := newTestServer(t, "")
	req := httptest.NewRequest(http.MethodPost, "/messages", strings.NewReader(`{nope`))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("got %d, want 400", rec.Code)
	}
}

func TestServer_BearerGate(t *testing.T) {
	s := newTestServer(t, "hunter2")

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sse", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated /sse: got %d, want 401", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/messages",
		strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bad credential /messages: got %d, want 401", rec.Code)
	}
}

// sseEvent is one parsed server-sent event.
type sseEvent struct {
	name string
	data string
}

// readEvent consumes lines until a blank line, skipping comments.
func readEvent(reader *bufio.Reader) (sseEvent, error) {
	var ev sseEvent
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return ev, err
		}
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			if ev.name != "" || ev.data != "" {
				return ev, nil
			}
		case strings.HasPrefix(line, ":"):
			// heartbeat comment
		case strings.HasPrefix(line, "event: "):
			ev.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			ev.data = strings.TrimPrefix(line, "data: ")
		}
	}
}

func TestServer_SSERoundTrip(t *testing.T) {
	s := newTestServer(t, "")
	ts := httptest.NewServer(s.Router())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/sse", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("opening sse stream: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q, want text/event-stream", ct)
	}

	reader := bufio.NewReader(resp.Body)
	endpoint, err := readEvent(reader)
	if err != nil {
		t.Fatalf("reading endpoint event: %v", err)
	}
	if endpoint.name != "endpoint" {
		t.Fatalf("first event is %q, want endpoint", endpoint.name)
	}
	if !strings.HasPrefix(endpoint.data, "/messages?sessionId=") {
		t.Fatalf("endpoint data = %q", endpoint.data)
	}

	post, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.URL+endpoint.data,
		strings.NewReader(`{"jsonrpc":"2.0","id":7,"method":"ping"}`))
	if err != nil {
		t.Fatal(err)
	}
	post.Header.Set("Content-Type", "application/json")
	ack, err := ts.Client().Do(post)
	if err != nil {
		t.Fatalf("posting message: %v", err)
	}
	io.Copy(io.Discard, ack.Body)
	ack.Body.Close()
	if ack.StatusCode != http.StatusAccepted {
		t.Fatalf("message ack: got %d, want 202", ack.StatusCode)
	}

	msg, err := readEvent(reader)
	if err != nil {
		t.Fatalf("reading message event: %v", err)
	}
	if msg.name != "message" {
		t.Fatalf("second event is %q, want message", msg.name)
	}
	var pushed wire.Response
	if err := json.Unmarshal([]byte(msg.data), &pushed); err != nil {
		t.Fatalf("decoding pushed response: %v", err)
	}
	if pushed.Error != nil {
		t.Fatalf("pushed response carries error %+v", pushed.Error)
	}
	if fmt.Sprint(pushed.ID) != "7" {
		t.Errorf("response id %v does not mirror request id 7", pushed.ID)
	}
}

func TestServer_WebhookRouted(t *testing.T) {
	s := newTestServer(t, "")
	req := httptest.NewRequest(http.MethodPost, "/webhook",
		strings.NewReader(`{"action":{"type":"updateCard"},"model":{"id":"b1"}}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d, want 200 (%s)", rec.Code, rec.Body)
	}

	rec = httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/webhook/events", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"count":1`) {
		t.Errorf("query: got %d body %s", rec.Code, rec.Body)
	}
}
