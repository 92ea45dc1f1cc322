package journal

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// Verifier reads a journaled write back from the clinic service and tells
// whether it took effect. OutcomeUnknown means it still cannot tell.
type Verifier interface {
	Verify(ctx context.Context, e *Entry) (Outcome, error)
}

// Report summarizes one reconcile pass.
type Report struct {
	Checked  int `json:"checked"`
	Resolved int `json:"resolved"`
	Pending  int `json:"pending"`
}

// Reconciler settles entries whose outcome is unknown.
type Reconciler struct {
	store    Store
	verifier Verifier
	logger   zerolog.Logger
	batch    int
}

func NewReconciler(store Store, verifier Verifier, logger zerolog.Logger) *Reconciler {
	return &Reconciler{store: store, verifier: verifier, logger: logger, batch: 100}
}

// Run checks up to one batch of unknown entries, oldest last.
func (r *Reconciler) Run(ctx context.Context) (Report, error) {
	var rep Report
	entries, total, err := r.store.List(ctx, OutcomeUnknown, r.batch, 0)
	if err != nil {
		return rep, fmt.Errorf("list unknown writes: %w", err)
	}
	rep.Pending = total

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		rep.Checked++
		outcome, err := r.verifier.Verify(ctx, e)
		if err != nil {
			r.logger.Warn().Err(err).Str("entry_id", e.ID.String()).Msg("journal verify failed")
			continue
		}
		if outcome == OutcomeUnknown {
			continue
		}
		note := ""
		if outcome == OutcomeFailed {
			note = "not applied upstream: " + e.Error
		}
		if err := r.store.Resolve(ctx, e.ID, outcome, note); err != nil {
			return rep, fmt.Errorf("resolve %s: %w", e.ID, err)
		}
		rep.Resolved++
		rep.Pending--
		r.logger.Info().
			Str("entry_id", e.ID.String()).
			Str("operation", string(e.Operation)).
			Str("outcome", string(outcome)).
			Msg("journal entry resolved")
	}
	return rep, nil
}
