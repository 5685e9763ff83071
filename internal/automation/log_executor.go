package automation

import (
	"context"
	"log/slog"
	"time"

	"github.com/antoniostano/memvault/internal/gap"
)

// LogExecutor records actions in the log only. It is the default until a
// real calendar or messaging integration is configured.
type LogExecutor struct {
	logger *slog.Logger
}

func NewLogExecutor(logger *slog.Logger) *LogExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogExecutor{logger: logger}
}

func (e *LogExecutor) CreateReminder(_ context.Context, ownerID string, a gap.CreateReminder) error {
	attrs := []any{"owner_id", ownerID, "title", a.Title, "service", a.Service}
	if a.DatetimeHint != nil {
		attrs = append(attrs, "datetime_hint", a.DatetimeHint.Format(time.RFC3339))
	}
	e.logger.Info("automation: create reminder", attrs...)
	return nil
}

func (e *LogExecutor) FollowUp(_ context.Context, ownerID string, a gap.FollowUp) error {
	e.logger.Info("automation: follow up", "owner_id", ownerID, "contact", a.Contact, "topic", a.Topic, "service", a.Service)
	return nil
}

func (e *LogExecutor) Summarize(_ context.Context, ownerID string, a gap.Summarize) error {
	e.logger.Info("automation: summarize", "owner_id", ownerID, "record_id", a.RecordID)
	return nil
}

func (e *LogExecutor) SmartNotify(_ context.Context, ownerID string, a gap.SmartNotify) error {
	e.logger.Info("automation: smart notify", "owner_id", ownerID, "channel", a.Channel, "message", a.Message)
	return nil
}
