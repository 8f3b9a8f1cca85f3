// Package notify delivers sync results to registered senders.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/inovacc/inboxd/internal/database"
	"github.com/inovacc/inboxd/internal/model"
)

// Event types emitted by the sync engine.
const (
	EventAccountSynced = "account-synced"
	EventAccountFailed = "account-failed"
	EventNetworkDown   = "network-down"
	EventCycleFinished = "cycle-finished"
)

// Event is one notification. Account is set for account events, Cycle for
// EventCycleFinished.
type Event struct {
	ID        string
	Type      string
	CycleID   string
	Timestamp time.Time

	Account *model.AccountSyncInfo
	Cycle   *database.Cycle

	// Error holds the failure description for failed and network events.
	Error string
}

// Sender receives dispatched events.
type Sender interface {
	// Send delivers the event. Returning an error only logs it.
	Send(ctx context.Context, event *Event) error

	// Name returns the sender's name for logging purposes.
	Name() string
}

// NewEvent creates an event with a fresh id and the current timestamp.
func NewEvent(eventType, cycleID string) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		CycleID:   cycleID,
		Timestamp: time.Now(),
	}
}

// AccountEvent wraps one account result, choosing the type from its error.
func AccountEvent(cycleID string, info model.AccountSyncInfo) *Event {
	eventType := EventAccountSynced
	if info.Failed() {
		eventType = EventAccountFailed
	}

	e := NewEvent(eventType, cycleID)
	e.Account = &info
	e.Error = info.Error

	return e
}

// CycleEvent reports a finished cycle.
func CycleEvent(cycle database.Cycle) *Event {
	e := NewEvent(EventCycleFinished, cycle.ID)
	e.Cycle = &cycle
	e.Error = cycle.Error

	return e
}

// NetworkDownEvent reports a cycle aborted by the network probe.
func NetworkDownEvent(cycleID string, err error) *Event {
	e := NewEvent(EventNetworkDown, cycleID)
	e.Error = err.Error()

	return e
}
