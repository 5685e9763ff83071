// Package automation turns gap suggestions into side effects.
package automation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/antoniostano/memvault/internal/gap"
	"github.com/antoniostano/memvault/internal/integrator"
)

// Executor performs one kind of follow-up action for an owner.
type Executor interface {
	CreateReminder(ctx context.Context, ownerID string, a gap.CreateReminder) error
	FollowUp(ctx context.Context, ownerID string, a gap.FollowUp) error
	Summarize(ctx context.Context, ownerID string, a gap.Summarize) error
	SmartNotify(ctx context.Context, ownerID string, a gap.SmartNotify) error
}

// Dispatcher routes every suggestion of a payload to its Executor method.
type Dispatcher struct {
	exec   Executor
	logger *slog.Logger
}

var _ integrator.Automator = (*Dispatcher)(nil)

func NewDispatcher(exec Executor, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if exec == nil {
		exec = NewLogExecutor(logger)
	}
	return &Dispatcher{exec: exec, logger: logger}
}

// Automate runs all suggestions and joins their failures; one failing
// action does not stop the rest.
func (d *Dispatcher) Automate(ctx context.Context, p integrator.Payload) error {
	var errs []error
	for _, s := range p.Suggestions {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := d.run(ctx, p.OwnerID, s.Action); err != nil {
			kind := "unknown"
			if s.Action != nil {
				kind = string(s.Action.Kind())
			}
			errs = append(errs, fmt.Errorf("%s for record %s: %w", kind, p.RecordID, err))
		}
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) run(ctx context.Context, ownerID string, action gap.Action) error {
	switch a := action.(type) {
	case gap.CreateReminder:
		return d.exec.CreateReminder(ctx, ownerID, a)
	case gap.FollowUp:
		return d.exec.FollowUp(ctx, ownerID, a)
	case gap.Summarize:
		return d.exec.Summarize(ctx, ownerID, a)
	case gap.SmartNotify:
		return d.exec.SmartNotify(ctx, ownerID, a)
	default:
		return fmt.Errorf("unsupported action %T", action)
	}
}
