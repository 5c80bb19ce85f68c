// Package models defines the core domain models for contact-automation flows.
package models

// StepType identifies the kind of work a step performs.
type StepType string

const (
	StepTypeMessage         StepType = "message"
	StepTypeDelay           StepType = "delay"
	StepTypeCondition       StepType = "condition"
	StepTypeAction          StepType = "action"
	StepTypeWaitForResponse StepType = "wait_for_response"
	StepTypeTag             StepType = "tag"
	StepTypeWebhook         StepType = "webhook"
	StepTypeSplit           StepType = "split"
	StepTypeMerge           StepType = "merge"
	StepTypeSurvey          StepType = "survey"
	StepTypeNotification    StepType = "notification"
	StepTypeCalendar        StepType = "calendar"
	StepTypeLocation        StepType = "location"
)

// Branch labels used by steps with more than one successor.
const (
	BranchTrue    = "true"
	BranchFalse   = "false"
	BranchReplied = "replied"
	BranchTimeout = "timeout"
)

// Step is one typed unit of work inside a flow. Linear steps reference a
// single successor through Next; condition, wait_for_response and split
// steps carry labeled successors in Branches. Successor references are
// always step IDs inside the same flow version, never pointers.
type Step struct {
	ID       string            `json:"id"       validate:"required"`
	Type     StepType          `json:"type"     validate:"required"`
	Name     string            `json:"name"`
	Config   StepConfig        `json:"config"`
	Next     string            `json:"next,omitempty"`
	Branches map[string]string `json:"branches,omitempty"`
}

// Successors returns every step ID this step can advance to.
func (s Step) Successors() []string {
	refs := make([]string, 0, len(s.Branches)+1)
	if s.Next != "" {
		refs = append(refs, s.Next)
	}

	for _, target := range s.Branches {
		if target != "" {
			refs = append(refs, target)
		}
	}

	return refs
}

// Branching reports whether the step type advances through labeled
// branches instead of a single Next reference.
func (s Step) Branching() bool {
	switch s.Type {
	case StepTypeCondition, StepTypeWaitForResponse, StepTypeSplit:
		return true
	default:
		return false
	}
}

// Terminal reports whether the step has no successor at all.
func (s Step) Terminal() bool {
	return len(s.Successors()) == 0
}
