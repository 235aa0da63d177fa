package resolver

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/fentz26/uta/internal/models"
	"github.com/fentz26/uta/internal/oracle"
	"github.com/fentz26/uta/internal/uitree"
)

// 0 FrameLayout, 1 back button (leaf, clickable), 2 title (leaf), 3 list,
// 4 row (clickable), 5 row label (leaf), 6 search field (leaf, editable)
const screen = `<hierarchy>
<node class="android.widget.FrameLayout" bounds="[0,0][1080,2400]">
  <node class="android.widget.ImageButton" content-desc="Back" clickable="true" bounds="[0,0][100,100]" />
  <node class="android.widget.TextView" text="Messages" bounds="[100,0][600,100]" />
  <node class="android.widget.ListView" scrollable="true" bounds="[0,100][1080,2000]">
    <node class="android.widget.LinearLayout" clickable="true" bounds="[0,100][1080,300]">
      <node class="android.widget.TextView" text="Grandma" bounds="[0,100][1080,300]" />
    </node>
  </node>
  <node class="android.widget.EditText" clickable="true" bounds="[0,2000][1080,2200]" />
</node>
</hierarchy>`

type scripted struct {
	replies []string
	err     error
	reqs    []oracle.Request
}

func (s *scripted) Decide(ctx context.Context, req oracle.Request) (string, error) {
	s.reqs = append(s.reqs, req)
	if s.err != nil {
		return "", s.err
	}
	r := s.replies[0]
	if len(s.replies) > 1 {
		s.replies = s.replies[1:]
	}
	return r, nil
}

type keyboard struct{ active []bool }

func (k *keyboard) KeyboardActive(ctx context.Context) (bool, error) {
	a := k.active[0]
	if len(k.active) > 1 {
		k.active = k.active[1:]
	}
	return a, nil
}

func snapshot(t *testing.T) *uitree.Snapshot {
	t.Helper()
	snap, err := uitree.NewSnapshot(nil, []byte(screen), "com.example.sms")
	if err != nil {
		t.Fatalf("NewSnapshot failed: %v", err)
	}
	return snap
}

func newTask() *models.Task {
	return &models.Task{ID: "t1", Description: "Send grandma a message"}
}

func TestRelationResolver(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  models.Relation
	}{
		{
			name:  "completed ignores id",
			reply: `{"Relation": "Completed", "Reason": "sent", "Element Id": "None"}`,
			want:  models.Relation{Kind: models.RelationCompleted, Reason: "sent"},
		},
		{
			name:  "directly related",
			reply: `{"Relation": "Directly Related", "Reason": "row", "Element Id": "5"}`,
			want:  models.Relation{Kind: models.RelationDirectlyRelated, Reason: "row", ElementID: models.IntPtr(5)},
		},
		{
			name:  "unrelated with back target",
			reply: `{"Relation": "Unrelated", "Reason": "ad", "Element Id": 1}`,
			want:  models.Relation{Kind: models.RelationUnrelated, Reason: "ad", ElementID: models.IntPtr(1)},
		},
		{
			name:  "unrelated without target",
			reply: `{"Relation": "Unrelated", "Reason": "ad", "Element Id": "None"}`,
			want:  models.Relation{Kind: models.RelationUnrelated, Reason: "ad"},
		},
		{
			name:  "fallback decode",
			reply: `"Relation": "Almost Complete", "Element Id": "6", "Reason": "type`,
			want:  models.Relation{Kind: models.RelationAlmostComplete, ElementID: models.IntPtr(6)},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := &scripted{replies: []string{tt.reply}}
			r := NewRelationResolver(oracle.NewClient(o, nil, nil), nil)

			got, err := r.Resolve(context.Background(), newTask(), snapshot(t), []int{2})
			if err != nil {
				t.Fatalf("Resolve failed: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("relation mismatch (-want +got):\n%s", diff)
			}
			if len(o.reqs) != 1 || o.reqs[0].Kind != oracle.KindRelation {
				t.Fatalf("Expected one relation request, got %+v", o.reqs)
			}
			if !strings.Contains(o.reqs[0].Tree, `"Grandma"`) || o.reqs[0].ExcludedElements[0] != 2 {
				t.Errorf("Request missing context: %+v", o.reqs[0])
			}
		})
	}
}

func TestRelationResolver_DecisionFailures(t *testing.T) {
	tests := []struct {
		name string
		o    *scripted
	}{
		{"oracle down", &scripted{err: errors.New("connection refused")}},
		{"unknown kind", &scripted{replies: []string{`{"Relation": "Kinda"}`}}},
		{"related without id", &scripted{replies: []string{`{"Relation": "Directly Related", "Element Id": "None"}`}}},
		{"garbage", &scripted{replies: []string{`no json here`}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRelationResolver(oracle.NewClient(tt.o, nil, nil), nil)
			_, err := r.Resolve(context.Background(), newTask(), snapshot(t), nil)
			if !errors.Is(err, models.ErrDecisionFailure) {
				t.Errorf("Expected decision failure, got %v", err)
			}
			if len(tt.o.reqs) != 1 {
				t.Errorf("Expected exactly one oracle call, got %d", len(tt.o.reqs))
			}
		})
	}
}

func TestActionResolver(t *testing.T) {
	tests := []struct {
		name     string
		reply    string
		excluded []int
		want     models.Action
	}{
		{
			name:  "click leaf",
			reply: `{"Action": "Click", "Element": 5, "Reason": "open chat"}`,
			want:  models.Action{Kind: models.ActionClick, ElementID: models.IntPtr(5), Reason: "open chat"},
		},
		{
			name:  "scroll",
			reply: `{"Action": "Scroll Down", "Element": "5"}`,
			want:  models.Action{Kind: models.ActionScrollDown, ElementID: models.IntPtr(5)},
		},
		{
			name:  "non numeric id",
			reply: `{"Action": "Click", "Element": "the send button"}`,
			want:  models.NoAction(`no valid element in "the send button"`),
		},
		{
			name:  "non leaf",
			reply: `{"Action": "Click", "Element": 4}`,
			want:  models.NoAction("element 4 is not a leaf"),
		},
		{
			name:  "unknown id",
			reply: `{"Action": "Click", "Element": 42}`,
			want:  models.NoAction("element 42 does not exist"),
		},
		{
			name:     "excluded",
			reply:    `{"Action": "Long Press", "Element": 5}`,
			excluded: []int{5},
			want:     models.NoAction("element 5 is excluded"),
		},
		{
			name:  "explicit none",
			reply: `{"Action": "None", "Reason": "nothing to do"}`,
			want:  models.NoAction("nothing to do"),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := &scripted{replies: []string{tt.reply}}
			r := NewActionResolver(oracle.NewClient(o, nil, nil), &keyboard{active: []bool{true}}, nil)

			got, err := r.Resolve(context.Background(), newTask(), snapshot(t), tt.excluded)
			if err != nil {
				t.Fatalf("Resolve failed: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("action mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestActionResolver_UnknownKindIsDecisionFailure(t *testing.T) {
	for _, reply := range []string{`{"Action": "Shake", "Element": 5}`, `{"Action": "Launch App", "Element": 5}`} {
		o := &scripted{replies: []string{reply}}
		r := NewActionResolver(oracle.NewClient(o, nil, nil), &keyboard{active: []bool{true}}, nil)
		_, err := r.Resolve(context.Background(), newTask(), snapshot(t), nil)
		if !errors.Is(err, models.ErrDecisionFailure) {
			t.Errorf("%s: expected decision failure, got %v", reply, err)
		}
	}
}

func TestActionResolver_InputNeedsKeyboard(t *testing.T) {
	o := &scripted{replies: []string{
		`{"Action": "Input", "Element": 6, "Input Text": "Hello", "Reason": "write"}`,
		`{"Action": "Input", "Element": 6, "Input Text": "Hello", "Reason": "write"}`,
	}}
	kb := &keyboard{active: []bool{false, true}}
	r := NewActionResolver(oracle.NewClient(o, nil, nil), kb, nil)
	task := newTask()
	snap := snapshot(t)

	first, err := r.Resolve(context.Background(), task, snap, nil)
	if err != nil {
		t.Fatalf("first Resolve failed: %v", err)
	}
	second, err := r.Resolve(context.Background(), task, snap, nil)
	if err != nil {
		t.Fatalf("second Resolve failed: %v", err)
	}

	trace := []models.ActionKind{first.Kind, second.Kind}
	if diff := cmp.Diff([]models.ActionKind{models.ActionClick, models.ActionInput}, trace); diff != "" {
		t.Errorf("trace mismatch (-want +got):\n%s", diff)
	}
	if *first.ElementID != 6 || first.InputText != "" {
		t.Errorf("Expected plain click on the input field, got %+v", first)
	}
	if el, _ := snap.Lookup(*first.ElementID); !el.InputCapable() {
		t.Error("Click target should be input capable")
	}
	if second.InputText != "Hello" {
		t.Errorf("Expected input text on second turn, got %q", second.InputText)
	}

	if len(o.reqs[0].Notes) != 1 || !strings.Contains(o.reqs[0].Notes[0], "keyboard is not shown") {
		t.Errorf("First request should warn about the keyboard: %+v", o.reqs[0].Notes)
	}
	if len(o.reqs[1].Notes) != 0 {
		t.Errorf("Second request should not carry the keyboard note: %+v", o.reqs[1].Notes)
	}
}

func TestActionResolver_HiddenKeyboardInputOnTextView(t *testing.T) {
	o := &scripted{replies: []string{`{"Action": "Input", "Element": 2, "Input Text": "Hi", "Reason": "type"}`}}
	r := NewActionResolver(oracle.NewClient(o, nil, nil), &keyboard{active: []bool{false}}, nil)

	action, err := r.Resolve(context.Background(), newTask(), snapshot(t), nil)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if action.Kind != models.ActionNone {
		t.Errorf("Expected NoAction for a label that cannot take input, got %s", action.String())
	}
	if action.ElementID != nil {
		t.Errorf("NoAction should carry no element, got %d", *action.ElementID)
	}
}

func TestBackResolver(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  models.BackAvailability
	}{
		{
			name:  "back button",
			reply: `{"Can": "Yes", "Element": 1, "Reason": "arrow", "Description": "Back"}`,
			want:  models.BackAvailability{Can: true, ElementID: models.IntPtr(1), Reason: "arrow", Description: "Back"},
		},
		{
			name:  "no control",
			reply: `{"Can": "No", "Element": "None", "Reason": "none"}`,
			want:  models.BackAvailability{Reason: "none"},
		},
		{
			name:  "yes without id",
			reply: `{"Can": "Yes", "Element": "None", "Reason": "maybe"}`,
			want:  models.BackAvailability{Reason: `maybe; no valid element in "None"`},
		},
		{
			name:  "yes on non clickable",
			reply: `{"Can": "Yes", "Element": 2}`,
			want:  models.BackAvailability{Reason: "element 2 is not clickable"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := &scripted{replies: []string{tt.reply}}
			r := NewBackResolver(oracle.NewClient(o, nil, nil), nil)

			got, err := r.Resolve(context.Background(), newTask(), snapshot(t))
			if err != nil {
				t.Fatalf("Resolve failed: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("back mismatch (-want +got):\n%s", diff)
			}
			if strings.Contains(o.reqs[0].Tree, "Messages") {
				t.Errorf("Back prompt should list clickable elements only:\n%s", o.reqs[0].Tree)
			}
		})
	}
}

func TestHistory(t *testing.T) {
	task := newTask()
	_ = task.AppendStep(&models.AutomationStep{
		Relation: &models.Relation{Kind: models.RelationUnrelated},
		Action:   &models.Action{Kind: models.ActionClick, ElementID: models.IntPtr(1)},
		IsGoBack: true,
	})
	_ = task.AppendStep(&models.InquiryStep{UserMessage: "what time is it"})

	want := "1. screen Unrelated, did Click 1 (go back)\n2. asked \"what time is it\"\n"
	if got := History(task); got != want {
		t.Errorf("History mismatch:\nwant %q\ngot  %q", want, got)
	}
}

func TestParseID(t *testing.T) {
	tests := map[string]struct {
		id int
		ok bool
	}{
		"5":      {5, true},
		` "12" `: {12, true},
		"3.0":    {3, true},
		"3.5":    {0, false},
		"None":   {0, false},
		"":       {0, false},
	}
	for in, want := range tests {
		id, ok := parseID(in)
		if id != want.id || ok != want.ok {
			t.Errorf("parseID(%q) = %d, %v", in, id, ok)
		}
	}
}
