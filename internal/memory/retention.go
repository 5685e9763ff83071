package memory

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// PruneAll prunes every known owner and returns the total removed. It keeps
// going past per-owner failures and reports them joined.
func (v *Vault) PruneAll(ctx context.Context, retention time.Duration) (int, error) {
	owners, err := v.store.Owners(ctx)
	if err != nil {
		return 0, fmt.Errorf("prune all: %w", err)
	}
	total := 0
	var errs []error
	for _, owner := range owners {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		n, err := v.Prune(ctx, owner, retention)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		total += n
	}
	return total, errors.Join(errs...)
}

// StartRetention prunes all owners every interval until ctx is done.
func (v *Vault) StartRetention(ctx context.Context, interval, retention time.Duration) {
	if interval <= 0 || retention <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := v.PruneAll(ctx, retention)
				if err != nil {
					v.logger.Error("retention pass failed", "removed", n, "err", err)
					continue
				}
				v.logger.Debug("retention pass complete", "removed", n)
			}
		}
	}()
}
