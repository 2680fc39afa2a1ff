// Package ingress accepts asynchronous push notifications from the
// remote board system and turns them into a validated, queryable,
// bounded event log. Gate order per request: verification probe, HTTP
// method, content type, signature, payload shape, then recording.
package ingress

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/brightport/boardbridge/fault"
)

// SignatureHeader carries the sender's HMAC of the raw request body.
const SignatureHeader = "X-Webhook-Signature"

// Hook is the pluggable downstream step invoked after an event is
// recorded. Hook failures are logged, never surfaced: the response has
// already committed to success and the event is durably recorded.
type Hook func(e Event)

// Detector is the optional model-type enrichment step. It guesses the
// entity type behind a model id (board, list, card) by probing the
// remote API. The guess is heuristic, not authoritative, and a failure
// never blocks the primary response.
type Detector func(modelID string) (string, error)

// Config configures a Handler.
type Config struct {
	Store *Store

	// Secret enables the HMAC signature gate. When empty the gate is
	// permissive and warns once about the insecure configuration.
	Secret string

	// Hook and Detector are both optional.
	Hook     Hook
	Detector Detector

	Logger *slog.Logger
}

// Handler is the webhook ingress HTTP handler.
type Handler struct {
	store    *Store
	secret   string
	hook     Hook
	detector Detector
	logger   *slog.Logger

	insecureWarn sync.Once
}

// NewHandler creates a Handler backed by store.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	store := cfg.Store
	if store == nil {
		store = NewStore(0)
	}
	return &Handler{
		store:    store,
		secret:   cfg.Secret,
		hook:     cfg.Hook,
		detector: cfg.Detector,
		logger:   logger,
	}
}

// Store exposes the backing event store's query surface.
func (h *Handler) Store() *Store { return h.store }

// deliveryResponse is the success envelope returned for recorded events.
type deliveryResponse struct {
	Success   bool      `json:"success"`
	EventID   string    `json:"eventId"`
	Processed bool      `json:"processed"`
	Timestamp time.Time `json:"timestamp"`
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodHead:
		// Verification probe: the remote system confirms reachability
		// before registering the endpoint as a live webhook target.
		w.WriteHeader(http.StatusOK)
		return
	case http.MethodOptions:
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, HEAD, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+SignatureHeader)
		w.WriteHeader(http.StatusNoContent)
		return
	case http.MethodPost:
		h.handleDelivery(w, r)
		return
	default:
		h.writeError(w, fault.New(fault.CodeMethodNotAllowed, "method %s is not accepted", r.Method))
	}
}

func (h *Handler) handleDelivery(w http.ResponseWriter, r *http.Request) {
	contentType := strings.ToLower(strings.TrimSpace(r.Header.Get("Content-Type")))
	if !strings.HasPrefix(contentType, "application/json") {
		h.writeError(w, fault.New(fault.CodeInvalidArgument, "content type %q is not JSON", contentType))
		return
	}

	// The raw bytes are captured before any parsing: signatures are
	// verified against exactly what the sender serialized, never a
	// re-serialization.
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.writeError(w, fault.Wrap(fault.CodeInvalidArgument, err, "reading request body"))
		return
	}

	if err := h.verifySignature(body, r.Header.Get(SignatureHeader)); err != nil {
		h.logger.Warn("webhook signature rejected", "remote_addr", r.RemoteAddr)
		h.writeError(w, err)
		return
	}

	var payload struct {
		Action *Action `json:"action"`
		Model  Model   `json:"model"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		h.writeError(w, fault.Wrap(fault.CodeInvalidArgument, err, "malformed JSON body"))
		return
	}
	if payload.Action == nil {
		h.writeError(w, fault.New(fault.CodeInvalidArgument, "payload has no action field"))
		return
	}

	event := Event{
		ID:         uuid.NewString(),
		Action:     *payload.Action,
		Model:      payload.Model,
		ReceivedAt: time.Now().UTC(),
		RemoteAddr: r.RemoteAddr,
		Signature:  r.Header.Get(SignatureHeader),
	}

	if h.detector != nil && event.Model.ID != "" {
		if modelType, err := h.detector(event.Model.ID); err == nil {
			event.ModelType = modelType
		} else {
			h.logger.Debug("model type detection failed", "model_id", event.Model.ID, "error", err)
		}
	}

	h.store.Append(event)
	h.logger.Info("webhook event recorded",
		"event_id", event.ID, "action_type", event.Action.Type, "model_id", event.Model.ID)

	if h.hook != nil {
		// The remote system retries delivery on non-2xx; the event is
		// already recorded, so a hook failure must not fail the response.
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					h.logger.Error("webhook hook panicked", "event_id", event.ID, "panic", rec)
				}
			}()
			h.hook(event)
		}()
	}

	writeJSON(w, http.StatusOK, deliveryResponse{
		Success:   true,
		EventID:   event.ID,
		Processed: true,
		Timestamp: event.ReceivedAt,
	})
}

// verifySignature checks the HMAC-SHA1/base64 signature of the raw body
// when a secret is configured.
func (h *Handler) verifySignature(body []byte, signature string) error {
	if h.secret == "" {
		h.insecureWarn.Do(func() {
			h.logger.Warn("no webhook secret configured, deliveries are unauthenticated")
		})
		return nil
	}
	if signature == "" {
		return fault.New(fault.CodeUnauthenticated, "missing %s header", SignatureHeader)
	}
	expected := Sign(body, h.secret)
	if subtle.ConstantTimeCompare([]byte(signature), []byte(expected)) != 1 {
		return fault.New(fault.CodeUnauthenticated, "signature mismatch")
	}
	return nil
}

// Sign computes the base64-encoded HMAC-SHA1 of body keyed by secret.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// HandleQuery serves the recent-event query surface:
// ?model= filters by model id, ?action= by action type, ?limit= bounds
// the result (default 50). Results are newest first.
func (h *Handler) HandleQuery(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.writeError(w, fault.New(fault.CodeInvalidArgument, "invalid limit %q", raw))
			return
		}
		limit = n
	}

	var events []Event
	switch {
	case r.URL.Query().Get("model") != "":
		events = h.store.ByModel(r.URL.Query().Get("model"), limit)
	case r.URL.Query().Get("action") != "":
		events = h.store.ByActionType(r.URL.Query().Get("action"), limit)
	default:
		events = h.store.Recent(limit)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"count":  len(events),
	})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	code := fault.CodeOf(err)
	message := err.Error()
	if fe, ok := fault.From(err); ok {
		message = fe.Message
	}
	writeJSON(w, fault.HTTPStatus(code), map[string]any{
		"success": false,
		"error": map[string]any{
			"code":    string(code),
			"message": message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
