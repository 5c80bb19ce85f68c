package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// StepConfig is the per-type configuration of a step. Each step type owns
// its config struct so a step can never carry fields that do not belong to
// its type.
type StepConfig interface {
	ConfigType() StepType
}

// MessageConfig renders a template against the run context and sends it
// over the flow's channel.
type MessageConfig struct {
	Template string `json:"template" validate:"required"`
	Channel  string `json:"channel,omitempty"`
}

func (MessageConfig) ConfigType() StepType { return StepTypeMessage }

// DelayConfig suspends the run for a fixed amount of time.
type DelayConfig struct {
	Amount int    `json:"amount" validate:"required,gt=0"`
	Unit   string `json:"unit"   validate:"required,oneof=seconds minutes hours days"`
}

func (DelayConfig) ConfigType() StepType { return StepTypeDelay }

// Duration converts the amount/unit pair into a time.Duration.
func (c DelayConfig) Duration() (time.Duration, error) {
	switch c.Unit {
	case "seconds":
		return time.Duration(c.Amount) * time.Second, nil
	case "minutes":
		return time.Duration(c.Amount) * time.Minute, nil
	case "hours":
		return time.Duration(c.Amount) * time.Hour, nil
	case "days":
		return time.Duration(c.Amount) * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("unknown delay unit %q", c.Unit)
	}
}

// ConditionConfig evaluates a boolean expression over the run context and
// history, branching to the "true" or "false" successor.
type ConditionConfig struct {
	Expression string `json:"expression" validate:"required"`
}

func (ConditionConfig) ConfigType() StepType { return StepTypeCondition }

// ActionConfig invokes a named side-effect adapter with free-form
// parameters.
type ActionConfig struct {
	Kind   string         `json:"kind" validate:"required"`
	Params map[string]any `json:"params,omitempty"`
}

func (ActionConfig) ConfigType() StepType { return StepTypeAction }

// WaitForResponseConfig suspends the run until the contact replies on the
// channel or the timeout elapses, whichever happens first.
type WaitForResponseConfig struct {
	TimeoutSeconds int    `json:"timeout_seconds" validate:"required,gt=0"`
	Channel        string `json:"channel,omitempty"`
}

func (WaitForResponseConfig) ConfigType() StepType { return StepTypeWaitForResponse }

func (c WaitForResponseConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// TagConfig adds or removes tags on the contact.
type TagConfig struct {
	Operation string   `json:"operation" validate:"required,oneof=add remove"`
	Tags      []string `json:"tags"      validate:"required,min=1"`
}

func (TagConfig) ConfigType() StepType { return StepTypeTag }

// WebhookConfig calls an external URL with the run context as payload.
type WebhookConfig struct {
	URL     string            `json:"url"    validate:"required,url"`
	Method  string            `json:"method" validate:"required,oneof=GET POST PUT PATCH DELETE"`
	Headers map[string]string `json:"headers,omitempty"`
}

func (WebhookConfig) ConfigType() StepType { return StepTypeWebhook }

// SplitType selects how the hash space is partitioned across branches.
type SplitType string

const (
	SplitTypeRandom     SplitType = "random"
	SplitTypePercentage SplitType = "percentage"
	SplitTypeCustom     SplitType = "custom"
)

// SplitConfig assigns the contact to exactly one branch. Assignment is a
// stable hash of (contact, flow version), so resuming or retrying a run
// never re-randomizes the branch.
type SplitConfig struct {
	SplitType SplitType      `json:"split_type"        validate:"required,oneof=random percentage custom"`
	Weights   map[string]int `json:"weights,omitempty"`
}

func (SplitConfig) ConfigType() StepType { return StepTypeSplit }

// JoinPolicy selects how a merge step treats converging branches.
type JoinPolicy string

// JoinPolicyFirst advances the run on the first branch to arrive; later
// arrivals are no-ops. It is currently the only supported policy.
const JoinPolicyFirst JoinPolicy = "first"

// MergeConfig converges multiple upstream branches back into one path.
type MergeConfig struct {
	Join JoinPolicy `json:"join,omitempty" validate:"omitempty,oneof=first"`
}

func (MergeConfig) ConfigType() StepType { return StepTypeMerge }

// SurveyConfig sends a survey to the contact.
type SurveyConfig struct {
	SurveyID string `json:"survey_id" validate:"required"`
	Question string `json:"question,omitempty"`
}

func (SurveyConfig) ConfigType() StepType { return StepTypeSurvey }

// NotificationConfig notifies an internal target (an operator or a team
// inbox), not the contact.
type NotificationConfig struct {
	Target  string `json:"target"  validate:"required"`
	Message string `json:"message" validate:"required"`
}

func (NotificationConfig) ConfigType() StepType { return StepTypeNotification }

// CalendarConfig sends a calendar invite to the contact.
type CalendarConfig struct {
	Title           string `json:"title" validate:"required"`
	DurationMinutes int    `json:"duration_minutes,omitempty" validate:"omitempty,gt=0"`
}

func (CalendarConfig) ConfigType() StepType { return StepTypeCalendar }

// LocationConfig shares a location pin with the contact.
type LocationConfig struct {
	Latitude  float64 `json:"latitude"  validate:"required,latitude"`
	Longitude float64 `json:"longitude" validate:"required,longitude"`
	Label     string  `json:"label,omitempty"`
}

func (LocationConfig) ConfigType() StepType { return StepTypeLocation }

// NewStepConfig returns a zero config value for the given step type.
func NewStepConfig(t StepType) (StepConfig, error) {
	switch t {
	case StepTypeMessage:
		return &MessageConfig{}, nil
	case StepTypeDelay:
		return &DelayConfig{}, nil
	case StepTypeCondition:
		return &ConditionConfig{}, nil
	case StepTypeAction:
		return &ActionConfig{}, nil
	case StepTypeWaitForResponse:
		return &WaitForResponseConfig{}, nil
	case StepTypeTag:
		return &TagConfig{}, nil
	case StepTypeWebhook:
		return &WebhookConfig{}, nil
	case StepTypeSplit:
		return &SplitConfig{}, nil
	case StepTypeMerge:
		return &MergeConfig{}, nil
	case StepTypeSurvey:
		return &SurveyConfig{}, nil
	case StepTypeNotification:
		return &NotificationConfig{}, nil
	case StepTypeCalendar:
		return &CalendarConfig{}, nil
	case StepTypeLocation:
		return &LocationConfig{}, nil
	default:
		return nil, fmt.Errorf("unknown step type %q", t)
	}
}

type stepEnvelope struct {
	ID       string            `json:"id"`
	Type     StepType          `json:"type"`
	Name     string            `json:"name"`
	Config   json.RawMessage   `json:"config"`
	Next     string            `json:"next,omitempty"`
	Branches map[string]string `json:"branches,omitempty"`
}

// UnmarshalJSON decodes the `{id, type, name, config}` interchange shape,
// picking the config struct by the step type tag.
func (s *Step) UnmarshalJSON(data []byte) error {
	var env stepEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}

	s.ID = env.ID
	s.Type = env.Type
	s.Name = env.Name
	s.Next = env.Next
	s.Branches = env.Branches

	config, err := NewStepConfig(env.Type)
	if err != nil {
		return fmt.Errorf("step %s: %w", env.ID, err)
	}

	if len(env.Config) > 0 {
		if err := json.Unmarshal(env.Config, config); err != nil {
			return fmt.Errorf("step %s: invalid %s config: %w", env.ID, env.Type, err)
		}
	}

	s.Config = config

	return nil
}
