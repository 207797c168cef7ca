package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/digkill/photogen/internal/apperrors"
	"github.com/digkill/photogen/internal/models"
	"github.com/digkill/photogen/internal/repository"
	"github.com/digkill/photogen/internal/storage"
)

// Principal is the authenticated caller as supplied by the identity provider.
type Principal struct {
	UserID string
	Roles  []string
}

// ObjectStore reads stored object metadata and signs download URLs.
type ObjectStore interface {
	Stat(ctx context.Context, key string) (*storage.ObjectInfo, error)
	PresignGet(ctx context.Context, key string) (string, error)
}

// RateLimiter admits requests per principal.
type RateLimiter interface {
	Allow(key string) (bool, time.Duration)
}

// DeriveScope decides which pool pays for a person's generations. Team
// membership is the only input.
func DeriveScope(person *models.Person) models.CreditSource {
	if person != nil && person.InTeam() {
		return models.CreditSourceTeam
	}
	return models.CreditSourceIndividual
}

// AccessChecker authorizes a principal against the person that owns a
// generation or its inputs.
type AccessChecker struct {
	persons  *repository.PersonRepository
	teams    *repository.TeamRepository
	security *SecurityMonitor
	log      *slog.Logger
}

func NewAccessChecker(persons *repository.PersonRepository, teams *repository.TeamRepository, security *SecurityMonitor, log *slog.Logger) *AccessChecker {
	return &AccessChecker{persons: persons, teams: teams, security: security, log: log}
}

// Authorize allows the owning user, a member of the owner's team, or the
// owner's team admin. Everyone else is rejected and recorded.
func (a *AccessChecker) Authorize(ctx context.Context, principal Principal, owner *models.Person, action string) error {
	if principal.UserID == "" {
		return apperrors.Unauthorized("missing principal")
	}
	if owner.UserID != "" && owner.UserID == principal.UserID {
		return nil
	}
	if owner.InTeam() {
		actor, err := a.persons.GetByUserID(ctx, principal.UserID)
		if err != nil {
			return err
		}
		if actor != nil && actor.TeamID == owner.TeamID {
			return nil
		}
		team, err := a.teams.GetByID(ctx, owner.TeamID)
		if err != nil {
			return err
		}
		if team != nil && team.AdminUserID == principal.UserID {
			return nil
		}
	}
	a.security.Record(ctx, principal.UserID, "unauthorized_"+action, "person="+owner.ID)
	return apperrors.Unauthorized("not allowed to act for this person")
}
