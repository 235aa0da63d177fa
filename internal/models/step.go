package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fentz26/uta/internal/uitree"
)

// StepKind tags the Step variant.
type StepKind string

const (
	StepKindAutomation StepKind = "automation"
	StepKindInquiry    StepKind = "inquiry"
)

// Step is one append-only record in a task's history. The set of
// implementations is closed: *AutomationStep and *InquiryStep.
type Step interface {
	Kind() StepKind
	Sequence() int
	setSeq(n int)
}

// AutomationStep records one turn of the automation loop.
type AutomationStep struct {
	ID              string    `json:"id"`
	Seq             int       `json:"seq"`
	SnapshotID      string    `json:"snapshot_id,omitempty"`
	ForegroundApp   string    `json:"foreground_app,omitempty"`
	Relation        *Relation `json:"relation,omitempty"`
	Action          *Action   `json:"action,omitempty"`
	IsGoBack        bool      `json:"is_go_back,omitempty"`
	ExecutionResult string    `json:"execution_result,omitempty"`
	Error           string    `json:"error,omitempty"`
	CreatedAt       time.Time `json:"created_at"`

	// Snapshot is the screen the step was computed from. Not persisted.
	Snapshot *uitree.Snapshot `json:"-"`
}

// Kind implements Step.
func (s *AutomationStep) Kind() StepKind { return StepKindAutomation }

// Sequence implements Step.
func (s *AutomationStep) Sequence() int { return s.Seq }

func (s *AutomationStep) setSeq(n int) { s.Seq = n }

// InquiryStep records a direct question answered by the oracle.
type InquiryStep struct {
	ID          string    `json:"id"`
	Seq         int       `json:"seq"`
	UserMessage string    `json:"user_message"`
	Response    string    `json:"response"`
	CreatedAt   time.Time `json:"created_at"`
}

// Kind implements Step.
func (s *InquiryStep) Kind() StepKind { return StepKindInquiry }

// Sequence implements Step.
func (s *InquiryStep) Sequence() int { return s.Seq }

func (s *InquiryStep) setSeq(n int) { s.Seq = n }

// StepEnvelope is the persisted form of a Step.
type StepEnvelope struct {
	Kind    StepKind        `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// EncodeStep wraps a step in its envelope.
func EncodeStep(s Step) (StepEnvelope, error) {
	switch s.(type) {
	case *AutomationStep, *InquiryStep:
	default:
		return StepEnvelope{}, fmt.Errorf("encode step %T: %w", s, ErrUnknownStep)
	}
	payload, err := json.Marshal(s)
	if err != nil {
		return StepEnvelope{}, fmt.Errorf("encode step: %w", err)
	}
	return StepEnvelope{Kind: s.Kind(), Payload: payload}, nil
}

// DecodeStep rebuilds a step from its envelope, rejecting unknown fields.
func DecodeStep(e StepEnvelope) (Step, error) {
	var s Step
	switch e.Kind {
	case StepKindAutomation:
		s = &AutomationStep{}
	case StepKindInquiry:
		s = &InquiryStep{}
	default:
		return nil, fmt.Errorf("decode step %q: %w", e.Kind, ErrUnknownStep)
	}
	dec := json.NewDecoder(bytes.NewReader(e.Payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(s); err != nil {
		return nil, fmt.Errorf("decode %s step: %w", e.Kind, err)
	}
	return s, nil
}

// AutomationSteps returns only the automation steps, in order.
func (t *Task) AutomationSteps() []*AutomationStep {
	var out []*AutomationStep
	for _, s := range t.Steps {
		switch v := s.(type) {
		case *AutomationStep:
			out = append(out, v)
		case *InquiryStep:
		}
	}
	return out
}
