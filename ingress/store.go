package ingress

import (
	"sync"
	"time"
)

// DefaultCapacity is the fixed size of the event ring buffer.
const DefaultCapacity = 1000

// Action is the remote action payload carried by a webhook delivery.
type Action struct {
	ID    string         `json:"id"`
	Type  string         `json:"type"`
	Date  time.Time      `json:"date"`
	Actor Actor          `json:"memberCreator"`
	Data  map[string]any `json:"data"`
}

// Actor identifies who performed the remote action.
type Actor struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	FullName string `json:"fullName"`
}

// Model is the remote model payload an action applies to.
type Model struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Event is one recorded webhook delivery. Events are append-only and
// never mutated after creation.
type Event struct {
	ID         string    `json:"id"`
	Action     Action    `json:"action"`
	Model      Model     `json:"model"`
	ReceivedAt time.Time `json:"receivedAt"`
	RemoteAddr string    `json:"remoteAddr"`
	Signature  string    `json:"signature,omitempty"`

	// ModelType is the heuristic enrichment result, empty when the
	// detection step did not run or failed. It is advisory only.
	ModelType string `json:"modelType,omitempty"`
}

// Store is a fixed-capacity ring buffer of webhook events. Appending
// beyond capacity evicts the oldest entry; the length never exceeds the
// capacity.
type Store struct {
	mu     sync.RWMutex
	ring   []Event
	head   int // next write position
	filled bool
}

// NewStore creates a Store. capacity <= 0 takes DefaultCapacity.
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{ring: make([]Event, capacity)}
}

// Append records an event, evicting the oldest entry once full.
func (s *Store) Append(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ring[s.head] = e
	s.head++
	if s.head == len(s.ring) {
		s.head = 0
		s.filled = true
	}
}

// Len returns the number of stored events.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.filled {
		return len(s.ring)
	}
	return s.head
}

// Recent returns up to limit events, newest first. limit <= 0 returns
// everything stored.
func (s *Store) Recent(limit int) []Event {
	return s.query(limit, nil)
}

// ByModel returns up to limit events touching modelID, newest first. An
// event matches when its top-level model carries the id or when any
// nested reference inside the action payload carries it.
func (s *Store) ByModel(modelID string, limit int) []Event {
	return s.query(limit, func(e Event) bool {
		if e.Model.ID == modelID {
			return true
		}
		return actionReferences(e.Action.Data, modelID)
	})
}

// ByActionType returns up to limit events of the given action type,
// newest first.
func (s *Store) ByActionType(actionType string, limit int) []Event {
	return s.query(limit, func(e Event) bool {
		return e.Action.Type == actionType
	})
}

// Sweep drops events received before cutoff. It preserves relative
// order of the survivors.
func (s *Store) Sweep(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := make([]Event, 0, len(s.ring))
	for _, e := range s.snapshotOldestFirst() {
		if !e.ReceivedAt.Before(cutoff) {
			kept = append(kept, e)
		}
	}
	removed := s.lenLocked() - len(kept)

	capacity := len(s.ring)
	s.ring = make([]Event, capacity)
	copy(s.ring, kept)
	s.head = len(kept) % capacity
	s.filled = len(kept) == capacity
	return removed
}

func (s *Store) query(limit int, match func(Event) bool) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ordered := s.snapshotOldestFirst()
	out := make([]Event, 0, len(ordered))
	for i := len(ordered) - 1; i >= 0; i-- {
		e := ordered[i]
		if match != nil && !match(e) {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// snapshotOldestFirst linearizes the ring. Callers hold s.mu.
func (s *Store) snapshotOldestFirst() []Event {
	if !s.filled {
		return s.ring[:s.head]
	}
	out := make([]Event, 0, len(s.ring))
	out = append(out, s.ring[s.head:]...)
	out = append(out, s.ring[:s.head]...)
	return out
}

func (s *Store) lenLocked() int {
	if s.filled {
		return len(s.ring)
	}
	return s.head
}

// actionReferences walks the free-form action data one level of nesting
// at a time looking for an "id" field equal to modelID.
func actionReferences(data map[string]any, modelID string) bool {
	for _, value := range data {
		switch v := value.(type) {
		case map[string]any:
			if id, ok := v["id"].(string); ok && id == modelID {
				return true
			}
			if actionReferences(v, modelID) {
				return true
			}
		case string:
			if v == modelID {
				return true
			}
		}
	}
	return false
}
