package notify

import (
	"context"
	"log/slog"

	"github.com/inovacc/inboxd/internal/database"
)

// LogSender writes every event to slog.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender logs through logger, or slog.Default when nil.
func NewLogSender(logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}

	return &LogSender{logger: logger}
}

func (s *LogSender) Name() string { return "log" }

func (s *LogSender) Send(ctx context.Context, event *Event) error {
	switch event.Type {
	case EventAccountSynced:
		s.logger.InfoContext(ctx, "account synced",
			"cycle", event.CycleID,
			"email", event.Account.Email,
			"unread", event.Account.UnreadCount,
			"network_issue", event.Account.NetworkIssue)
	case EventAccountFailed:
		s.logger.WarnContext(ctx, "account sync failed",
			"cycle", event.CycleID,
			"email", event.Account.Email,
			"error", event.Error)
	case EventNetworkDown:
		s.logger.WarnContext(ctx, "network unavailable, cycle skipped", "cycle", event.CycleID, "error", event.Error)
	case EventCycleFinished:
		s.logger.InfoContext(ctx, "sync cycle finished",
			"cycle", event.CycleID,
			"trigger", event.Cycle.Trigger,
			"accounts", event.Cycle.Accounts,
			"failures", event.Cycle.Failures,
			"duration", event.Cycle.Duration())
	default:
		s.logger.DebugContext(ctx, "notify event", "type", event.Type, "cycle", event.CycleID)
	}

	return nil
}

// ChannelSender forwards events to a buffered channel for a UI or caller
// that consumes them on its own goroutine.
type ChannelSender struct {
	events chan *Event
}

// NewChannelSender creates a sender with the given buffer size.
func NewChannelSender(buffer int) *ChannelSender {
	return &ChannelSender{events: make(chan *Event, buffer)}
}

func (s *ChannelSender) Name() string { return "channel" }

// Events returns the receive side of the channel.
func (s *ChannelSender) Events() <-chan *Event {
	return s.events
}

// Send blocks until the event is buffered or ctx ends.
func (s *ChannelSender) Send(ctx context.Context, event *Event) error {
	select {
	case s.events <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StatusSender records results in the status database.
type StatusSender struct {
	db database.Store
}

// NewStatusSender creates a sender backed by db.
func NewStatusSender(db database.Store) *StatusSender {
	return &StatusSender{db: db}
}

func (s *StatusSender) Name() string { return "status" }

func (s *StatusSender) Send(_ context.Context, event *Event) error {
	switch event.Type {
	case EventAccountSynced, EventAccountFailed:
		status, err := s.db.RecordResult(event.CycleID, *event.Account)
		if err != nil {
			return err
		}

		if status.PersistentError && status.ConsecutiveFailures > 1 {
			slog.Warn("account keeps failing", "email", status.Email, "failures", status.ConsecutiveFailures, "error", status.LastError)
		}
	case EventCycleFinished:
		return s.db.RecordCycle(*event.Cycle)
	}

	return nil
}
