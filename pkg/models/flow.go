package models

import "time"

// FlowStatus represents the lifecycle state of a flow definition.
type FlowStatus string

const (
	FlowStatusDraft     FlowStatus = "draft"     // Editable, not enrollable
	FlowStatusPublished FlowStatus = "published" // Frozen, enrollable
)

// ChannelType is the messaging channel a flow runs on.
type ChannelType string

const (
	ChannelWhatsApp ChannelType = "whatsapp"
	ChannelSMS      ChannelType = "sms"
	ChannelEmail    ChannelType = "email"
)

// FlowDefinition is a versioned, ordered graph of steps. Publishing
// freezes the step list; edits to a published flow create a new version
// under the same FlowGroupID, so runs already underway keep the behavior
// of the version they enrolled against.
type FlowDefinition struct {
	ID          string      `json:"id"`
	FlowGroupID string      `json:"flow_group_id"` // Stable ID linking all versions
	Name        string      `json:"name"          validate:"required,min=3"`
	ChannelType ChannelType `json:"channel_type"  validate:"required"`
	Version     int         `json:"version"`
	Status      FlowStatus  `json:"status"`
	Steps       []Step      `json:"steps"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
	PublishedAt *time.Time  `json:"published_at,omitempty"`
}

// StartStep returns the entry step of the flow, the first of the ordered
// step list.
func (f *FlowDefinition) StartStep() (Step, bool) {
	if len(f.Steps) == 0 {
		return Step{}, false
	}

	return f.Steps[0], true
}

// StepByID looks a step up by its ID.
func (f *FlowDefinition) StepByID(id string) (Step, bool) {
	for _, step := range f.Steps {
		if step.ID == id {
			return step, true
		}
	}

	return Step{}, false
}
