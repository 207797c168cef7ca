package service

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/digkill/photogen/internal/apperrors"
	"github.com/digkill/photogen/internal/metrics"
	"github.com/digkill/photogen/internal/models"
	"github.com/digkill/photogen/internal/repository"
)

// CreditDecision is the pool that pays and why.
type CreditDecision struct {
	Source models.CreditSource
	Reason string
}

// CreditLedger owns every balance change. Balances only move inside a
// transaction that also appends the matching ledger row.
type CreditLedger struct {
	db       *sql.DB
	persons  *repository.PersonRepository
	teams    *repository.TeamRepository
	ledger   *repository.CreditRepository
	security *SecurityMonitor
	log      *slog.Logger
}

func NewCreditLedger(db *sql.DB, persons *repository.PersonRepository, teams *repository.TeamRepository, ledger *repository.CreditRepository, security *SecurityMonitor, log *slog.Logger) *CreditLedger {
	return &CreditLedger{
		db:       db,
		persons:  persons,
		teams:    teams,
		ledger:   ledger,
		security: security,
		log:      log,
	}
}

// DetermineCreditSource derives the pool from team membership. An asserted
// source is only checked against it, never trusted.
func (l *CreditLedger) DetermineCreditSource(ctx context.Context, principal Principal, person *models.Person, asserted models.CreditSource) (CreditDecision, error) {
	derived := DeriveScope(person)
	reason := "person has no team"
	if derived == models.CreditSourceTeam {
		reason = "person belongs to team " + person.TeamID
	}
	if asserted == "" {
		return CreditDecision{Source: derived, Reason: reason}, nil
	}
	if !asserted.Valid() {
		return CreditDecision{}, apperrors.Validation(apperrors.CodeInvalidRequest, "creditSource", fmt.Sprintf("unknown credit source %q", asserted))
	}
	if asserted != derived {
		l.security.Record(ctx, principal.UserID, "credit_source_mismatch", fmt.Sprintf("person=%s asserted=%s derived=%s", person.ID, asserted, derived))
		return CreditDecision{}, apperrors.CreditSourceMismatch(string(asserted), string(derived))
	}
	return CreditDecision{Source: derived, Reason: reason}, nil
}

// PayingUserID returns the user whose plan and packages apply: the team admin
// for team-funded work, the acting user otherwise.
func (l *CreditLedger) PayingUserID(ctx context.Context, person *models.Person, source models.CreditSource, actingUserID string) (string, error) {
	if source != models.CreditSourceTeam {
		return actingUserID, nil
	}
	team, err := l.teams.GetByID(ctx, person.TeamID)
	if err != nil {
		return "", err
	}
	if team == nil {
		return "", apperrors.NotFound("team", person.TeamID)
	}
	return team.AdminUserID, nil
}

// Available reports what the pool can spend for this person. Invited team
// members are further capped by their remaining allocation.
func (l *CreditLedger) Available(ctx context.Context, person *models.Person, source models.CreditSource) (int, error) {
	if source != models.CreditSourceTeam {
		return l.persons.Credits(ctx, person.ID)
	}
	available, err := l.teams.Credits(ctx, person.TeamID)
	if err != nil {
		return 0, err
	}
	if person.Invited() {
		fresh, err := l.persons.GetByID(ctx, person.ID)
		if err != nil {
			return 0, err
		}
		if fresh != nil {
			available = min(available, max(fresh.CreditAllocation-fresh.AllocationUsed, 0))
		}
	}
	return available, nil
}

// CanAfford is the optimistic pre-check. Reserve is authoritative.
func (l *CreditLedger) CanAfford(ctx context.Context, person *models.Person, source models.CreditSource, cost int) (int, bool, error) {
	available, err := l.Available(ctx, person, source)
	if err != nil {
		return 0, false, err
	}
	return available, available >= cost, nil
}

// Reserve debits cost from the pool and appends the reservation row in one
// transaction. A concurrent spend that empties the pool surfaces as
// ReservationRaceLost and leaves nothing behind.
func (l *CreditLedger) Reserve(ctx context.Context, person *models.Person, source models.CreditSource, generationID string, cost int) error {
	if cost <= 0 {
		return nil
	}
	team := source == models.CreditSourceTeam
	err := repository.InTx(ctx, l.db, func(tx *sql.Tx) error {
		var ok bool
		var err error
		if team {
			ok, err = l.teams.WithTx(tx).ConsumeCredits(ctx, person.TeamID, cost)
		} else {
			ok, err = l.persons.WithTx(tx).ConsumeCredits(ctx, person.ID, cost)
		}
		if err != nil {
			return err
		}
		if !ok {
			return apperrors.ReservationRaceLost()
		}
		if team && person.Invited() {
			ok, err = l.persons.WithTx(tx).UseAllocation(ctx, person.ID, cost)
			if err != nil {
				return err
			}
			if !ok {
				return apperrors.ReservationRaceLost()
			}
		}
		_, err = l.ledger.WithTx(tx).Insert(ctx, &models.CreditTransaction{
			PersonID:     person.ID,
			TeamID:       teamIDFor(person, source),
			Pool:         source,
			GenerationID: generationID,
			Type:         models.TxReservation,
			Delta:        -cost,
		})
		return err
	})
	switch {
	case apperrors.HasCode(err, apperrors.CodeReservationRaceLost):
		metrics.RecordReservation(string(source), "race_lost")
	case err != nil:
		metrics.RecordReservation(string(source), "error")
	default:
		metrics.RecordReservation(string(source), "ok")
		l.log.Info("credits reserved", "person_id", person.ID, "pool", source, "generation_id", generationID, "amount", cost)
	}
	return err
}

// Refund returns amount to the pool it was reserved from.
func (l *CreditLedger) Refund(ctx context.Context, person *models.Person, source models.CreditSource, generationID string, amount int) error {
	if amount <= 0 {
		return nil
	}
	err := repository.InTx(ctx, l.db, func(tx *sql.Tx) error {
		return l.RefundTx(ctx, tx, person, source, generationID, amount)
	})
	if err != nil {
		return fmt.Errorf("refund generation %s: %w", generationID, err)
	}
	l.log.Info("credits refunded", "person_id", person.ID, "pool", source, "generation_id", generationID, "amount", amount)
	return nil
}

// RefundTx is Refund inside a caller's transaction.
func (l *CreditLedger) RefundTx(ctx context.Context, tx *sql.Tx, person *models.Person, source models.CreditSource, generationID string, amount int) error {
	if amount <= 0 {
		return nil
	}
	if source == models.CreditSourceTeam {
		if err := l.teams.WithTx(tx).AddCredits(ctx, person.TeamID, amount); err != nil {
			return err
		}
		if person.Invited() {
			if err := l.persons.WithTx(tx).ReleaseAllocation(ctx, person.ID, amount); err != nil {
				return err
			}
		}
	} else if err := l.persons.WithTx(tx).AddCredits(ctx, person.ID, amount); err != nil {
		return err
	}
	_, err := l.ledger.WithTx(tx).Insert(ctx, &models.CreditTransaction{
		PersonID:     person.ID,
		TeamID:       teamIDFor(person, source),
		Pool:         source,
		GenerationID: generationID,
		Type:         models.TxRefund,
		Delta:        amount,
	})
	return err
}

// GrantPerson tops up a person's own balance.
func (l *CreditLedger) GrantPerson(ctx context.Context, personID string, amount int) (int, error) {
	if amount <= 0 {
		return 0, apperrors.Validation(apperrors.CodeInvalidRequest, "amount", "amount must be positive")
	}
	person, err := l.persons.GetByID(ctx, personID)
	if err != nil {
		return 0, err
	}
	if person == nil {
		return 0, apperrors.NotFound("person", personID)
	}
	var balance int
	err = repository.InTx(ctx, l.db, func(tx *sql.Tx) error {
		persons := l.persons.WithTx(tx)
		if err := persons.AddCredits(ctx, personID, amount); err != nil {
			return err
		}
		if _, err := l.ledger.WithTx(tx).Insert(ctx, &models.CreditTransaction{
			PersonID: personID,
			Pool:     models.CreditSourceIndividual,
			Type:     models.TxGrant,
			Delta:    amount,
		}); err != nil {
			return err
		}
		var err error
		balance, err = persons.Credits(ctx, personID)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("grant person credits: %w", err)
	}
	return balance, nil
}

// GrantTeam tops up a team pool. The ledger row carries no person.
func (l *CreditLedger) GrantTeam(ctx context.Context, teamID string, amount int) (int, error) {
	if amount <= 0 {
		return 0, apperrors.Validation(apperrors.CodeInvalidRequest, "amount", "amount must be positive")
	}
	team, err := l.teams.GetByID(ctx, teamID)
	if err != nil {
		return 0, err
	}
	if team == nil {
		return 0, apperrors.NotFound("team", teamID)
	}
	var balance int
	err = repository.InTx(ctx, l.db, func(tx *sql.Tx) error {
		teams := l.teams.WithTx(tx)
		if err := teams.AddCredits(ctx, teamID, amount); err != nil {
			return err
		}
		if _, err := l.ledger.WithTx(tx).Insert(ctx, &models.CreditTransaction{
			TeamID: teamID,
			Pool:   models.CreditSourceTeam,
			Type:   models.TxGrant,
			Delta:  amount,
		}); err != nil {
			return err
		}
		var err error
		balance, err = teams.Credits(ctx, teamID)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("grant team credits: %w", err)
	}
	return balance, nil
}

func (l *CreditLedger) ListTransactions(ctx context.Context, personID string, limit int) ([]models.CreditTransaction, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return l.ledger.ListByPerson(ctx, personID, limit)
}

func teamIDFor(person *models.Person, source models.CreditSource) string {
	if source == models.CreditSourceTeam {
		return person.TeamID
	}
	return ""
}

// Grant tops up the pool named by source for a person or team id.
func (l *CreditLedger) Grant(ctx context.Context, source models.CreditSource, id string, amount int) (int, error) {
	switch source {
	case models.CreditSourceIndividual:
		return l.GrantPerson(ctx, id, amount)
	case models.CreditSourceTeam:
		return l.GrantTeam(ctx, id, amount)
	default:
		return 0, apperrors.Validation(apperrors.CodeInvalidRequest, "pool", fmt.Sprintf("unknown pool %q", source))
	}
}
