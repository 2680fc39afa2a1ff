package boardapi

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/brightport/boardbridge/fault"
	"github.com/brightport/boardbridge/sched"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	scheduler := sched.New(sched.Config{
		MinSpacing:  time.Nanosecond,
		BackoffBase: time.Millisecond,
		Logger:      logger,
	})
	t.Cleanup(scheduler.Close)

	return New(Config{
		BaseURL:   ts.URL,
		Key:       "k",
		Token:     "t",
		Scheduler: scheduler,
		Logger:    logger,
	})
}

func TestClient_GetCardCarriesCredentials(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/cards/c1" {
			t.Errorf("path %q, want /cards/c1", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("key") != "k" || q.Get("token") != "t" {
			t.Errorf("credentials missing from query: %v", q)
		}
		w.Write([]byte(`{"id":"c1","name":"Ship it","idList":"l1","idBoard":"b1"}`))
	})

	card, err := c.GetCard(context.Background(), "c1")
	if err != nil {
		t.Fatalf("GetCard: %v", err)
	}
	if card.ID != "c1" || card.Name != "Ship it" || card.ListID != "l1" {
		t.Errorf("unexpected card %+v", card)
	}
}

func TestClient_ListBoards(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/members/me/boards" {
			t.Errorf("path %q", r.URL.Path)
		}
		w.Write([]byte(`[{"id":"b1","name":"Roadmap"},{"id":"b2","name":"Icebox"}]`))
	})

	boards, err := c.ListBoards(context.Background())
	if err != nil {
		t.Fatalf("ListBoards: %v", err)
	}
	if len(boards) != 2 || boards[1].Name != "Icebox" {
		t.Errorf("unexpected boards %+v", boards)
	}
}

func TestClient_CreateCardSendsParams(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/cards" {
			t.Errorf("%s %s, want POST /cards", r.Method, r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("idList") != "l1" || q.Get("name") != "New card" || q.Get("desc") != "details" {
			t.Errorf("params missing: %v", q)
		}
		w.Write([]byte(`{"id":"c9","name":"New card","idList":"l1"}`))
	})

	card, err := c.CreateCard(context.Background(), "l1", "New card", "details")
	if err != nil {
		t.Fatalf("CreateCard: %v", err)
	}
	if card.ID != "c9" {
		t.Errorf("unexpected card %+v", card)
	}
}

func TestClient_MoveCardPutsListID(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/cards/c1" {
			t.Errorf("%s %s, want PUT /cards/c1", r.Method, r.URL.Path)
		}
		if r.URL.Query().Get("idList") != "l2" {
			t.Errorf("idList param missing: %v", r.URL.Query())
		}
		w.Write([]byte(`{"id":"c1","idList":"l2"}`))
	})

	card, err := c.MoveCard(context.Background(), "c1", "l2")
	if err != nil {
		t.Fatalf("MoveCard: %v", err)
	}
	if card.ListID != "l2" {
		t.Errorf("card not moved: %+v", card)
	}
}

func TestClient_StatusClassification(t *testing.T) {
	var status atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
	})

	cases := []struct {
		status int
		want   fault.Code
	}{
		{404, fault.CodeNotFound},
		{401, fault.CodeUnauthenticated},
		{403, fault.CodeUnauthenticated},
		{500, fault.CodeInternal},
	}
	for _, tc := range cases {
		status.Store(int32(tc.status))
		_, err := c.GetBoard(context.Background(), "b1")
		if fault.CodeOf(err) != tc.want {
			t.Errorf("status %d: got %v, want %s", tc.status, err, tc.want)
		}
	}
}

func TestClient_RateLimitRetriedThroughScheduler(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"id":"b1","name":"Roadmap"}`))
	})

	board, err := c.GetBoard(context.Background(), "b1")
	if err != nil {
		t.Fatalf("GetBoard after retries: %v", err)
	}
	if board.Name != "Roadmap" {
		t.Errorf("unexpected board %+v", board)
	}
	if calls.Load() != 3 {
		t.Errorf("remote called %d times, want 3 (two retries)", calls.Load())
	}
}

func TestClient_DetectModelType(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/boards/x9":
			w.WriteHeader(http.StatusNotFound)
		case "/lists/x9":
			w.Write([]byte(`{"id":"x9","name":"Doing"}`))
		default:
			t.Errorf("unexpected probe %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	})

	kind, err := c.DetectModelType("x9")
	if err != nil {
		t.Fatalf("DetectModelType: %v", err)
	}
	if kind != "list" {
		t.Errorf("got %q, want list", kind)
	}
}
