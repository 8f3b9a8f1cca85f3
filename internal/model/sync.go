package model

import "time"

// AccountSyncInfo is the outcome of syncing one account once. NetworkIssue is
// set when the network probe needed retries during the cycle, even if the
// attempt itself succeeded.
type AccountSyncInfo struct {
	Email        string    `json:"email"`
	DisplayName  string    `json:"display_name"`
	AvatarURL    string    `json:"avatar_url,omitempty"`
	UnreadCount  int       `json:"unread_count"`
	Error        string    `json:"error,omitempty"`
	NetworkIssue bool      `json:"network_issue"`
	SyncedAt     time.Time `json:"synced_at"`
}

// Failed reports whether the attempt carries an error message.
func (i AccountSyncInfo) Failed() bool {
	return i.Error != ""
}
