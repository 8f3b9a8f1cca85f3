package database

import "time"

// Status is the latest known sync state of one account.
type Status struct {
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
	UnreadCount int       `json:"unread_count"`
	LastSync    time.Time `json:"last_sync"`
	LastSuccess time.Time `json:"last_success,omitzero"`
	LastError   string    `json:"last_error,omitempty"`
	CycleID     string    `json:"cycle_id,omitempty"`

	// ConsecutiveFailures counts failed results since the last success.
	ConsecutiveFailures int `json:"consecutive_failures"`

	// PersistentError stays set until a successful sync clears it.
	PersistentError bool `json:"persistent_error"`

	NetworkIssue bool `json:"network_issue"`
}

// Cycle summarizes one sync cycle.
type Cycle struct {
	ID         string    `json:"id"`
	Trigger    string    `json:"trigger"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Accounts   int       `json:"accounts"`
	Failures   int       `json:"failures"`
	Error      string    `json:"error,omitempty"`
}

// Duration returns how long the cycle ran.
func (c Cycle) Duration() time.Duration {
	return c.FinishedAt.Sub(c.StartedAt)
}
