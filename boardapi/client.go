// Package boardapi is the client for the remote project-management API.
// It exposes one method per remote operation with a deterministic
// payload shape. Every call is funneled through the rate-limited
// scheduler so outbound traffic never exceeds the remote quota:
// single-item reads ride the high-priority tier, bulk listings the low
// tier.
package boardapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/brightport/boardbridge/fault"
	"github.com/brightport/boardbridge/sched"
)

// Board is a remote board.
type Board struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Desc   string `json:"desc,omitempty"`
	Closed bool   `json:"closed"`
	URL    string `json:"url,omitempty"`
}

// List is a remote list (column) on a board.
type List struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	BoardID string  `json:"idBoard"`
	Closed  bool    `json:"closed"`
	Pos     float64 `json:"pos"`
}

// Card is a remote card.
type Card struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Desc    string   `json:"desc,omitempty"`
	ListID  string   `json:"idList"`
	BoardID string   `json:"idBoard"`
	Closed  bool     `json:"closed"`
	Due     string   `json:"due,omitempty"`
	Labels  []Label  `json:"labels,omitempty"`
	Members []string `json:"idMembers,omitempty"`
}

// Label is a colored label attached to a card.
type Label struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

// Config configures a Client.
type Config struct {
	// BaseURL is the remote API root, e.g. https://api.trello.com/1.
	BaseURL string

	// Key and Token authenticate requests as query parameters, the
	// remote API's documented scheme.
	Key   string
	Token string

	Scheduler  *sched.Scheduler
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client calls the remote API through the scheduler.
type Client struct {
	baseURL string
	key     string
	token   string
	sched   *sched.Scheduler
	http    *http.Client
	logger  *slog.Logger
}

// New creates a Client. Scheduler is required; nil HTTPClient takes a
// 30s-timeout default.
func New(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		key:     cfg.Key,
		token:   cfg.Token,
		sched:   cfg.Scheduler,
		http:    httpClient,
		logger:  logger,
	}
}

// GetBoard fetches one board.
func (c *Client) GetBoard(ctx context.Context, boardID string) (Board, error) {
	return one[Board](c, ctx, http.MethodGet, "/boards/"+url.PathEscape(boardID), nil, nil)
}

// ListBoards fetches every board visible to the credential.
func (c *Client) ListBoards(ctx context.Context) ([]Board, error) {
	return many[Board](c, ctx, http.MethodGet, "/members/me/boards", nil)
}

// GetBoardLists fetches the lists of a board.
func (c *Client) GetBoardLists(ctx context.Context, boardID string) ([]List, error) {
	return many[List](c, ctx, http.MethodGet, "/boards/"+url.PathEscape(boardID)+"/lists", nil)
}

// GetList fetches one list.
func (c *Client) GetList(ctx context.Context, listID string) (List, error) {
	return one[List](c, ctx, http.MethodGet, "/lists/"+url.PathEscape(listID), nil, nil)
}

// GetListCards fetches the cards of a list.
func (c *Client) GetListCards(ctx context.Context, listID string) ([]Card, error) {
	return many[Card](c, ctx, http.MethodGet, "/lists/"+url.PathEscape(listID)+"/cards", nil)
}

// GetCard fetches one card.
func (c *Client) GetCard(ctx context.Context, cardID string) (Card, error) {
	return one[Card](c, ctx, http.MethodGet, "/cards/"+url.PathEscape(cardID), nil, nil)
}

// CreateCard creates a card in a list.
func (c *Client) CreateCard(ctx context.Context, listID, name, desc string) (Card, error) {
	params := url.Values{"idList": {listID}, "name": {name}}
	if desc != "" {
		params.Set("desc", desc)
	}
	return one[Card](c, ctx, http.MethodPost, "/cards", params, nil)
}

// UpdateCard patches card fields. fields uses the remote field names.
func (c *Client) UpdateCard(ctx context.Context, cardID string, fields map[string]string) (Card, error) {
	params := url.Values{}
	for key, value := range fields {
		params.Set(key, value)
	}
	return one[Card](c, ctx, http.MethodPut, "/cards/"+url.PathEscape(cardID), params, nil)
}

// MoveCard moves a card to another list.
func (c *Client) MoveCard(ctx context.Context, cardID, listID string) (Card, error) {
	return c.UpdateCard(ctx, cardID, map[string]string{"idList": listID})
}

// one performs a single-item operation on the high-priority tier.
func one[T any](c *Client, ctx context.Context, method, path string, params url.Values, body any) (T, error) {
	var out T
	raw, err := c.sched.DoHigh(ctx, func(opCtx context.Context) (any, error) {
		return c.roundTrip(opCtx, method, path, params, body)
	})
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw.([]byte), &out); err != nil {
		return out, fault.Wrap(fault.CodeInternal, err, "decoding %s %s response", method, path)
	}
	return out, nil
}

// many performs a bulk listing on the low-priority tier.
func many[T any](c *Client, ctx context.Context, method, path string, params url.Values) ([]T, error) {
	raw, err := c.sched.DoLow(ctx, func(opCtx context.Context) (any, error) {
		return c.roundTrip(opCtx, method, path, params, nil)
	})
	if err != nil {
		return nil, err
	}
	var out []T
	if err := json.Unmarshal(raw.([]byte), &out); err != nil {
		return nil, fault.Wrap(fault.CodeInternal, err, "decoding %s %s response", method, path)
	}
	return out, nil
}

// roundTrip performs one HTTP exchange and classifies failures into the
// shared taxonomy. A remote 429 becomes QuotaExceeded, the scheduler's
// retryable class.
func (c *Client) roundTrip(ctx context.Context, method, path string, params url.Values, body any) ([]byte, error) {
	query := url.Values{}
	for key, values := range params {
		query[key] = values
	}
	if c.key != "" {
		query.Set("key", c.key)
	}
	if c.token != "" {
		query.Set("token", c.token)
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fault.Wrap(fault.CodeInternal, err, "encoding %s %s request", method, path)
		}
		reader = strings.NewReader(string(data))
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fault.Wrap(fault.CodeInternal, err, "building %s %s request", method, path)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.http.Do(req)
	if err != nil {
		return nil, fault.Wrap(fault.CodeInternal, err, "%s %s", method, path)
	}
	defer func() {
		_ = res.Body.Close()
	}()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fault.Wrap(fault.CodeInternal, err, "reading %s %s response", method, path)
	}

	switch {
	case res.StatusCode == http.StatusTooManyRequests:
		return nil, fault.New(fault.CodeQuotaExceeded, "remote rate limit hit on %s %s", method, path)
	case res.StatusCode == http.StatusNotFound:
		return nil, fault.New(fault.CodeNotFound, "%s %s: remote entity not found", method, path)
	case res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden:
		return nil, fault.New(fault.CodeUnauthenticated, "%s %s: remote rejected credentials", method, path)
	case res.StatusCode >= 400:
		return nil, fault.New(fault.CodeInternal, "%s %s: remote returned %d: %s",
			method, path, res.StatusCode, truncate(string(data), 200))
	}
	return data, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

// DetectModelType probes the model id against board, list, and card
// fetches in turn and reports the first kind that resolves. This is a
// best-effort heuristic for webhook enrichment, not authoritative.
func (c *Client) DetectModelType(modelID string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := c.GetBoard(ctx, modelID); err == nil {
		return "board", nil
	}
	if _, err := c.GetList(ctx, modelID); err == nil {
		return "list", nil
	}
	if _, err := c.GetCard(ctx, modelID); err == nil {
		return "card", nil
	}
	return "", fmt.Errorf("model %s did not resolve as board, list, or card", modelID)
}
