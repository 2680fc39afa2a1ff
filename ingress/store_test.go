package ingress

import (
	"fmt"
	"testing"
	"time"
)

func storeEvent(i int, actionType, modelID string) Event {
	return Event{
		ID:         fmt.Sprintf("evt-%d", i),
		Action:     Action{ID: fmt.Sprintf("act-%d", i), Type: actionType},
		Model:      Model{ID: modelID},
		ReceivedAt: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(i) * time.Minute),
	}
}

func TestStore_AppendEvictsOldestAtCapacity(t *testing.T) {
	s := NewStore(0)
	for i := 0; i < DefaultCapacity+1; i++ {
		s.Append(storeEvent(i, "updateCard", "m1"))
	}

	if s.Len() != DefaultCapacity {
		t.Fatalf("Len = %d, want %d", s.Len(), DefaultCapacity)
	}
	recent := s.Recent(0)
	if len(recent) != DefaultCapacity {
		t.Fatalf("Recent returned %d events, want %d", len(recent), DefaultCapacity)
	}
	if recent[0].ID != fmt.Sprintf("evt-%d", DefaultCapacity) {
		t.Errorf("newest event is %s, want evt-%d", recent[0].ID, DefaultCapacity)
	}
	if recent[len(recent)-1].ID != "evt-1" {
		t.Errorf("oldest surviving event is %s, want evt-1 (evt-0 evicted)", recent[len(recent)-1].ID)
	}
}

func TestStore_RecentNewestFirstWithLimit(t *testing.T) {
	s := NewStore(10)
	for i := 0; i < 5; i++ {
		s.Append(storeEvent(i, "updateCard", "m1"))
	}
	got := s.Recent(3)
	if len(got) != 3 {
		t.Fatalf("got %d events, want 3", len(got))
	}
	for i, want := range []string{"evt-4", "evt-3", "evt-2"} {
		if got[i].ID != want {
			t.Errorf("Recent[%d] = %s, want %s", i, got[i].ID, want)
		}
	}
}

func TestStore_ByModelMatchesTopLevelAndNested(t *testing.T) {
	s := NewStore(10)
	s.Append(storeEvent(0, "updateBoard", "board-1"))

	nested := storeEvent(1, "updateCard", "board-1")
	nested.Action.Data = map[string]any{
		"card": map[string]any{"id": "card-9", "name": "Ship it"},
	}
	s.Append(nested)

	s.Append(storeEvent(2, "updateList", "board-2"))

	byBoard := s.ByModel("board-1", 0)
	if len(byBoard) != 2 {
		t.Fatalf("ByModel(board-1) returned %d events, want 2", len(byBoard))
	}
	if byBoard[0].ID != "evt-1" || byBoard[1].ID != "evt-0" {
		t.Errorf("got order [%s %s], want newest first", byBoard[0].ID, byBoard[1].ID)
	}

	// The nested id inside action.data.card also qualifies as a match.
	byCard := s.ByModel("card-9", 0)
	if len(byCard) != 1 || byCard[0].ID != "evt-1" {
		t.Errorf("ByModel(card-9) = %v, want the nested-reference event", byCard)
	}

	// Deeper nesting is walked too.
	deep := storeEvent(3, "updateCheckItem", "board-1")
	deep.Action.Data = map[string]any{
		"checklist": map[string]any{
			"card": map[string]any{"id": "card-42"},
		},
	}
	s.Append(deep)
	if got := s.ByModel("card-42", 0); len(got) != 1 || got[0].ID != "evt-3" {
		t.Errorf("ByModel(card-42) = %v, want the deeply nested event", got)
	}
}

func TestStore_ByActionType(t *testing.T) {
	s := NewStore(10)
	s.Append(storeEvent(0, "createCard", "m1"))
	s.Append(storeEvent(1, "updateCard", "m1"))
	s.Append(storeEvent(2, "createCard", "m2"))

	got := s.ByActionType("createCard", 0)
	if len(got) != 2 {
		t.Fatalf("got %d events, want 2", len(got))
	}
	if got[0].ID != "evt-2" || got[1].ID != "evt-0" {
		t.Errorf("got order [%s %s], want newest first", got[0].ID, got[1].ID)
	}
	if got := s.ByActionType("deleteCard", 0); len(got) != 0 {
		t.Errorf("unmatched type returned %d events, want 0", len(got))
	}
}

func TestStore_SweepDropsOldEvents(t *testing.T) {
	s := NewStore(10)
	for i := 0; i < 6; i++ {
		s.Append(storeEvent(i, "updateCard", "m1"))
	}

	cutoff := time.Date(2026, 8, 1, 0, 3, 0, 0, time.UTC)
	removed := s.Sweep(cutoff)
	if removed != 3 {
		t.Fatalf("Sweep removed %d events, want 3", removed)
	}
	if s.Len() != 3 {
		t.Fatalf("Len = %d after sweep, want 3", s.Len())
	}
	got := s.Recent(0)
	for i, want := range []string{"evt-5", "evt-4", "evt-3"} {
		if got[i].ID != want {
			t.Errorf("Recent[%d] = %s, want %s", i, got[i].ID, want)
		}
	}

	// Appends keep working after the ring was rebuilt.
	s.Append(storeEvent(6, "updateCard", "m1"))
	if s.Len() != 4 {
		t.Errorf("Len = %d after post-sweep append, want 4", s.Len())
	}
	if newest := s.Recent(1); newest[0].ID != "evt-6" {
		t.Errorf("newest = %s, want evt-6", newest[0].ID)
	}
}
