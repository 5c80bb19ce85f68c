package models

import "time"

// WakeReason records why a suspended run asked to be woken.
type WakeReason string

const (
	WakeReasonDelay       WakeReason = "delay"
	WakeReasonWaitTimeout WakeReason = "wait_timeout"
)

// ScheduledWake is a durable one-shot timer entry that resumes a
// suspended run. Workers claim due wakes under a time-bounded lease so
// multiple processes can poll without double-firing; a wake whose lease
// expires unconsumed becomes reclaimable. A wake is consumed exactly
// once.
type ScheduledWake struct {
	ID           string     `json:"id"`
	RunID        string     `json:"run_id"`
	StepID       string     `json:"step_id"`
	DueAt        time.Time  `json:"due_at"`
	Reason       WakeReason `json:"reason"`
	ClaimedBy    string     `json:"claimed_by,omitempty"`
	ClaimedUntil time.Time  `json:"claimed_until,omitempty"`
	Consumed     bool       `json:"consumed"`
	CreatedAt    time.Time  `json:"created_at"`
}

// InboundEvent is a contact-originated event (a reply, a webhook
// callback) routed to the run waiting on its correlation key.
type InboundEvent struct {
	ContactID  string         `json:"contact_id"`
	Channel    string         `json:"channel"`
	Payload    map[string]any `json:"payload,omitempty"`
	ReceivedAt time.Time      `json:"received_at"`
}

// CorrelationKey identifies the (contact, channel) pair a waiting run
// registered for.
func (e InboundEvent) CorrelationKey() string {
	return CorrelationKey(e.ContactID, e.Channel)
}

// CorrelationKey builds the routing key used by the event bus.
func CorrelationKey(contactID, channel string) string {
	return contactID + ":" + channel
}
