package ingress

import "strings"

// Category is the coarse classification of a webhook action type.
type Category string

const (
	CategoryBoard     Category = "board"
	CategoryList      Category = "list"
	CategoryCard      Category = "card"
	CategoryChecklist Category = "checklist"
	CategoryMember    Category = "member"
	CategoryComment   Category = "comment"
	CategoryUnknown   Category = "unknown"
)

// Classify maps a remote action type (createCard, updateList,
// addMemberToBoard, commentCard, ...) onto a coarse category. The
// remote vocabulary is camelCased verbs with the entity embedded, so
// substring matching on the entity noun is the reliable signal.
func Classify(actionType string) Category {
	lower := strings.ToLower(actionType)
	switch {
	case strings.Contains(lower, "comment"):
		return CategoryComment
	case strings.Contains(lower, "checklist") || strings.Contains(lower, "checkitem"):
		return CategoryChecklist
	case strings.Contains(lower, "card"):
		return CategoryCard
	case strings.Contains(lower, "list"):
		return CategoryList
	case strings.Contains(lower, "member"):
		return CategoryMember
	case strings.Contains(lower, "board") || strings.Contains(lower, "label"):
		return CategoryBoard
	default:
		return CategoryUnknown
	}
}

// LogHook returns a Hook that logs each recorded event with its
// classification. It is the default downstream step when no forwarding
// hook is configured.
func LogHook(logf func(msg string, args ...any)) Hook {
	return func(e Event) {
		logf("webhook event classified",
			"event_id", e.ID,
			"category", string(Classify(e.Action.Type)),
			"action_type", e.Action.Type,
			"model_id", e.Model.ID,
		)
	}
}
