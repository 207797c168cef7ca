package service

import (
	"context"
	"log/slog"

	"github.com/digkill/photogen/internal/metrics"
)

// step is one forward action of a multi-store write and the action that
// undoes it. Undo may be nil.
type step struct {
	name string
	do   func(ctx context.Context) error
	undo func(ctx context.Context) error
}

// runSteps executes steps in order. When one fails, the steps that already
// completed are undone newest first and the original error is returned.
// Undo runs on a context that outlives the caller's cancellation.
func runSteps(ctx context.Context, log *slog.Logger, steps ...step) error {
	done := make([]step, 0, len(steps))
	for _, s := range steps {
		if err := s.do(ctx); err != nil {
			log.Warn("generation step failed", "step", s.name, "err", err)
			compensate(context.WithoutCancel(ctx), log, done)
			return err
		}
		done = append(done, s)
	}
	return nil
}

func compensate(ctx context.Context, log *slog.Logger, done []step) {
	for i := len(done) - 1; i >= 0; i-- {
		s := done[i]
		if s.undo == nil {
			continue
		}
		metrics.RecordCompensation(s.name)
		if err := s.undo(ctx); err != nil {
			log.Error("compensation failed", "step", s.name, "err", err)
		}
	}
}
