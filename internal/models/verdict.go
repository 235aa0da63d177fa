package models

import (
	"fmt"
	"strings"
)

// RelationKind classifies how a screen relates to the task.
type RelationKind string

const (
	RelationCompleted         RelationKind = "Completed"
	RelationAlmostComplete    RelationKind = "Almost Complete"
	RelationDirectlyRelated   RelationKind = "Directly Related"
	RelationIndirectlyRelated RelationKind = "Indirectly Related"
	RelationUnrelated         RelationKind = "Unrelated"
)

var relationKinds = []RelationKind{
	RelationCompleted,
	RelationAlmostComplete,
	RelationDirectlyRelated,
	RelationIndirectlyRelated,
	RelationUnrelated,
}

// ParseRelationKind accepts the canonical names case-insensitively, with or
// without separators ("AlmostComplete", "almost_complete").
func ParseRelationKind(s string) (RelationKind, error) {
	key := normalizeKind(s)
	for _, k := range relationKinds {
		if normalizeKind(string(k)) == key {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown relation %q", s)
}

// Related reports whether the screen can be acted on to progress the task.
func (k RelationKind) Related() bool {
	switch k {
	case RelationAlmostComplete, RelationDirectlyRelated, RelationIndirectlyRelated:
		return true
	}
	return false
}

// Relation is the verdict of the relation resolver.
type Relation struct {
	Kind      RelationKind `json:"kind"`
	Reason    string       `json:"reason,omitempty"`
	ElementID *int         `json:"element_id,omitempty"`
}

// ActionKind is a primitive interaction with the device.
type ActionKind string

const (
	ActionClick      ActionKind = "Click"
	ActionLongPress  ActionKind = "Long Press"
	ActionScrollUp   ActionKind = "Scroll Up"
	ActionScrollDown ActionKind = "Scroll Down"
	ActionSwipeLeft  ActionKind = "Swipe Left"
	ActionSwipeRight ActionKind = "Swipe Right"
	ActionInput      ActionKind = "Input"
	ActionComplete   ActionKind = "Complete"
	ActionLaunchApp  ActionKind = "Launch App"
	ActionNone       ActionKind = "None"
)

// UIActionKinds are the kinds the action resolver may choose from.
var UIActionKinds = []ActionKind{
	ActionClick,
	ActionScrollUp,
	ActionScrollDown,
	ActionSwipeLeft,
	ActionSwipeRight,
	ActionLongPress,
	ActionInput,
}

var allActionKinds = append(append([]ActionKind{}, UIActionKinds...), ActionComplete, ActionLaunchApp, ActionNone)

// ParseActionKind accepts the canonical names case-insensitively, with or
// without separators.
func ParseActionKind(s string) (ActionKind, error) {
	key := normalizeKind(s)
	for _, k := range allActionKinds {
		if normalizeKind(string(k)) == key {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown action %q", s)
}

// TargetsElement reports whether the kind acts on a screen element.
func (k ActionKind) TargetsElement() bool {
	for _, u := range UIActionKinds {
		if u == k {
			return true
		}
	}
	return false
}

// Action is one interaction chosen for a turn.
type Action struct {
	Kind      ActionKind `json:"kind"`
	ElementID *int       `json:"element_id,omitempty"`
	InputText string     `json:"input_text,omitempty"`
	Package   string     `json:"package,omitempty"`
	Reason    string     `json:"reason,omitempty"`
}

// NoAction is returned when no valid target exists.
func NoAction(reason string) Action {
	return Action{Kind: ActionNone, Reason: reason}
}

// IsNone reports whether a is the no-action sentinel.
func (a Action) IsNone() bool {
	return a.Kind == ActionNone || a.Kind == ""
}

func (a Action) String() string {
	switch {
	case a.Kind == ActionLaunchApp:
		return fmt.Sprintf("%s %s", a.Kind, a.Package)
	case a.Kind == ActionInput && a.ElementID != nil:
		return fmt.Sprintf("%s %q into %d", a.Kind, a.InputText, *a.ElementID)
	case a.ElementID != nil:
		return fmt.Sprintf("%s %d", a.Kind, *a.ElementID)
	default:
		return string(a.Kind)
	}
}

// BackAvailability is the verdict of the back/escape resolver.
type BackAvailability struct {
	Can         bool   `json:"can"`
	ElementID   *int   `json:"element_id,omitempty"`
	Reason      string `json:"reason,omitempty"`
	Description string `json:"description,omitempty"`
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int {
	return &v
}

func normalizeKind(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer(" ", "", "_", "", "-", "").Replace(s)
}
