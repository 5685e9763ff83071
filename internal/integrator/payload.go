package integrator

import (
	"context"

	"github.com/antoniostano/memvault/internal/gap"
)

// Payload is handed to the notify and automate callbacks when the gap
// detector has suggestions for a record.
type Payload struct {
	OwnerID     string           `json:"owner_id"`
	RecordID    string           `json:"record_id"`
	Suggestions []gap.Suggestion `json:"suggestions"`
	Summary     string           `json:"summary"`
}

type Notifier interface {
	Notify(ctx context.Context, p Payload) error
}

type NotifierFunc func(ctx context.Context, p Payload) error

func (f NotifierFunc) Notify(ctx context.Context, p Payload) error { return f(ctx, p) }

type Automator interface {
	Automate(ctx context.Context, p Payload) error
}

type AutomatorFunc func(ctx context.Context, p Payload) error

func (f AutomatorFunc) Automate(ctx context.Context, p Payload) error { return f(ctx, p) }
