package service

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/digkill/photogen/internal/metrics"
	"github.com/digkill/photogen/internal/models"
	"github.com/digkill/photogen/internal/queue"
	"github.com/digkill/photogen/internal/repository"
)

const reconcileBatch = 100

// ReconcileReport counts what one pass changed.
type ReconcileReport struct {
	Backfilled  int
	Compensated int
}

// Reconciler finishes generations left pending without a job, which happens
// when the process dies between reservation and enqueue.
type Reconciler struct {
	db          *sql.DB
	generations *repository.GenerationRepository
	persons     *repository.PersonRepository
	ledger      *repository.CreditRepository
	credits     *CreditLedger
	queue       queue.Gateway
	staleAfter  time.Duration
	log         *slog.Logger
}

func NewReconciler(db *sql.DB, generations *repository.GenerationRepository, persons *repository.PersonRepository, ledger *repository.CreditRepository, credits *CreditLedger, q queue.Gateway, staleAfter time.Duration, log *slog.Logger) *Reconciler {
	return &Reconciler{
		db:          db,
		generations: generations,
		persons:     persons,
		ledger:      ledger,
		credits:     credits,
		queue:       q,
		staleAfter:  staleAfter,
		log:         log,
	}
}

// RunOnce backfills the job id of rows whose job did reach the queue and
// compensates the rest: net reserved credits are refunded, a regeneration
// slot is given back and the row is soft-deleted as failed.
func (r *Reconciler) RunOnce(ctx context.Context) (ReconcileReport, error) {
	var report ReconcileReport
	stale, err := r.generations.ListStalePending(ctx, time.Now().Add(-r.staleAfter), reconcileBatch)
	if err != nil {
		return report, err
	}
	for i := range stale {
		gen := &stale[i]
		jobID := queue.JobID(gen.ID)
		exists, err := r.queue.Exists(ctx, jobID)
		if err != nil {
			return report, fmt.Errorf("check job %s: %w", jobID, err)
		}
		if exists {
			if err := r.generations.SetJobID(ctx, gen.ID, jobID); err != nil {
				r.log.Error("backfill job id", "generation_id", gen.ID, "err", err)
				continue
			}
			report.Backfilled++
			continue
		}
		claimed, err := r.compensate(ctx, gen)
		if err != nil {
			r.log.Error("compensate stale generation", "generation_id", gen.ID, "err", err)
			continue
		}
		if claimed {
			report.Compensated++
		}
	}
	if report.Backfilled > 0 || report.Compensated > 0 {
		r.log.Info("reconciled stale generations", "backfilled", report.Backfilled, "compensated", report.Compensated)
	}
	return report, nil
}

// compensate claims the row and undoes its side effects in one transaction.
// A row another pass already claimed is left alone and reports false.
func (r *Reconciler) compensate(ctx context.Context, gen *models.Generation) (bool, error) {
	var claimed, refunded bool
	err := repository.InTx(ctx, r.db, func(tx *sql.Tx) error {
		gens := r.generations.WithTx(tx)
		ok, err := gens.ClaimStale(ctx, gen.ID, "generation was never queued")
		if err != nil || !ok {
			return err
		}
		claimed = true

		net, err := r.ledger.WithTx(tx).NetForGeneration(ctx, gen.ID)
		if err != nil {
			return err
		}
		if net < 0 {
			person, err := r.persons.WithTx(tx).GetByID(ctx, gen.PersonID)
			if err != nil {
				return err
			}
			if person == nil {
				return fmt.Errorf("person %s not found", gen.PersonID)
			}
			if err := r.credits.RefundTx(ctx, tx, person, gen.CreditSource, gen.ID, -net); err != nil {
				return err
			}
			refunded = true
		}
		if !gen.IsOriginal {
			return gens.RestoreRegeneration(ctx, gen.GroupID)
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("compensate generation %s: %w", gen.ID, err)
	}
	if refunded {
		metrics.RecordCompensation("reserve")
	}
	if claimed && !gen.IsOriginal {
		metrics.RecordCompensation("claim")
	}
	return claimed, nil
}

// Start runs RunOnce on schedule until ctx is done. Overlapping runs are skipped.
func (r *Reconciler) Start(ctx context.Context, schedule string) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(schedule, func() {
		if _, err := r.RunOnce(ctx); err != nil {
			r.log.Error("reconcile generations", "err", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule reconciler %q: %w", schedule, err)
	}
	c.Start()
	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
	}()
	return nil
}
