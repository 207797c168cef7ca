package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/digkill/photogen/internal/apperrors"
	"github.com/digkill/photogen/internal/models"
	"github.com/digkill/photogen/internal/pricing"
	"github.com/digkill/photogen/internal/repository"
)

// Where an entitlement's plan came from.
const (
	PlanFromTeamAdmin = "team_admin"
	PlanFromUser      = "user"
	PlanFromFallback  = "fallback"
)

// Entitlement is computed per request and never stored.
type Entitlement struct {
	Plan             pricing.Key
	PlanUserID       string
	PlanSource       string
	MaxRegenerations int
}

// EntitlementResolver turns subscription state into regeneration allowances.
type EntitlementResolver struct {
	teams *repository.TeamRepository
	subs  *repository.SubscriptionRepository
	log   *slog.Logger
}

func NewEntitlementResolver(teams *repository.TeamRepository, subs *repository.SubscriptionRepository, log *slog.Logger) *EntitlementResolver {
	return &EntitlementResolver{teams: teams, subs: subs, log: log}
}

// Resolve picks whose plan applies: the team admin's for an invited team
// member, the acting user's otherwise.
func (r *EntitlementResolver) Resolve(ctx context.Context, person *models.Person, actingUserID string) (Entitlement, error) {
	planUserID := actingUserID
	source := PlanFromUser
	if person.Invited() && person.InTeam() {
		team, err := r.teams.GetByID(ctx, person.TeamID)
		if err != nil {
			return Entitlement{}, err
		}
		if team == nil {
			return Entitlement{}, apperrors.NotFound("team", person.TeamID)
		}
		planUserID = team.AdminUserID
		source = PlanFromTeamAdmin
	}

	plan, usable, err := r.PlanFor(ctx, planUserID)
	if err != nil {
		return Entitlement{}, err
	}
	if !usable {
		source = PlanFromFallback
	}
	max, err := pricing.Regenerations(plan)
	if err != nil {
		return Entitlement{}, apperrors.Internal(apperrors.CodePlanMisconfigured, "plan is misconfigured", err)
	}
	return Entitlement{
		Plan:             plan,
		PlanUserID:       planUserID,
		PlanSource:       source,
		MaxRegenerations: max,
	}, nil
}

// PlanFor returns the user's plan. A missing or inactive subscription falls
// back to the most restrictive plan; a stored tier or period that the pricing
// table does not know is a configuration error.
func (r *EntitlementResolver) PlanFor(ctx context.Context, userID string) (pricing.Key, bool, error) {
	if userID == "" {
		return pricing.Fallback(), false, nil
	}
	sub, err := r.subs.GetByUserID(ctx, userID)
	if err != nil {
		return pricing.Key{}, false, err
	}
	if sub == nil || sub.Status != models.SubscriptionActive {
		return pricing.Fallback(), false, nil
	}
	key, err := pricing.Parse(sub.Tier, sub.Period)
	if err != nil {
		r.log.Error("subscription has unknown plan", "user_id", userID, "tier", sub.Tier, "period", sub.Period, "err", err)
		return pricing.Key{}, false, apperrors.Internal(apperrors.CodePlanMisconfigured, "plan is misconfigured", fmt.Errorf("user %s: %w", userID, err))
	}
	return key, true, nil
}

// SyncSubscription stores a subscription after checking it against the pricing table.
func (r *EntitlementResolver) SyncSubscription(ctx context.Context, userID, tier, period string, status models.SubscriptionStatus) (*models.Subscription, error) {
	if userID == "" {
		return nil, apperrors.Validation(apperrors.CodeInvalidRequest, "userId", "user id is required")
	}
	key, err := pricing.Parse(tier, period)
	if err != nil {
		return nil, apperrors.Validation(apperrors.CodeInvalidRequest, "tier", err.Error())
	}
	if status == "" {
		status = models.SubscriptionActive
	}
	if status != models.SubscriptionActive && status != models.SubscriptionCancelled {
		return nil, apperrors.Validation(apperrors.CodeInvalidRequest, "status", fmt.Sprintf("unknown status %q", status))
	}
	return r.subs.Upsert(ctx, &models.Subscription{
		UserID: userID,
		Tier:   string(key.Tier),
		Period: string(key.Period),
		Status: status,
	})
}
