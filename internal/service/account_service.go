package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/digkill/photogen/internal/apperrors"
	"github.com/digkill/photogen/internal/models"
	"github.com/digkill/photogen/internal/repository"
	"github.com/digkill/photogen/internal/style"
)

// AccountService provisions the records generations depend on: teams,
// persons, invites, selfies, packages and style presets.
type AccountService struct {
	persons     *repository.PersonRepository
	teams       *repository.TeamRepository
	selfies     *repository.SelfieRepository
	packages    *repository.PackageRepository
	contexts    *repository.ContextRepository
	generations *repository.GenerationRepository
	costs       *repository.CostRepository
	log         *slog.Logger
}

func NewAccountService(persons *repository.PersonRepository, teams *repository.TeamRepository, selfies *repository.SelfieRepository, packages *repository.PackageRepository, contexts *repository.ContextRepository, generations *repository.GenerationRepository, costs *repository.CostRepository, log *slog.Logger) *AccountService {
	return &AccountService{
		persons:     persons,
		teams:       teams,
		selfies:     selfies,
		packages:    packages,
		contexts:    contexts,
		generations: generations,
		costs:       costs,
		log:         log,
	}
}

func (s *AccountService) CreateTeam(ctx context.Context, name, adminUserID string) (*models.Team, error) {
	name = strings.TrimSpace(name)
	adminUserID = strings.TrimSpace(adminUserID)
	if name == "" {
		return nil, apperrors.Validation(apperrors.CodeInvalidRequest, "name", "name is required")
	}
	if adminUserID == "" {
		return nil, apperrors.Validation(apperrors.CodeInvalidRequest, "adminUserId", "adminUserId is required")
	}
	team, err := s.teams.Create(ctx, &models.Team{Name: name, AdminUserID: adminUserID})
	if err != nil {
		return nil, fmt.Errorf("create team: %w", err)
	}
	s.log.Info("team created", "team_id", team.ID, "admin_user_id", adminUserID)
	return team, nil
}

func (s *AccountService) CreateInvite(ctx context.Context, teamID, contextID string, allocation int) (*models.TeamInvite, error) {
	if allocation < 0 {
		return nil, apperrors.Validation(apperrors.CodeInvalidRequest, "creditAllocation", "creditAllocation must not be negative")
	}
	team, err := s.teams.GetByID(ctx, teamID)
	if err != nil {
		return nil, err
	}
	if team == nil {
		return nil, apperrors.NotFound("team", teamID)
	}
	if contextID != "" {
		c, err := s.contexts.GetByID(ctx, contextID)
		if err != nil {
			return nil, err
		}
		if c == nil {
			return nil, apperrors.Validation(apperrors.CodeContextNotFound, "contextId", "style context not found")
		}
	}
	return s.teams.CreateInvite(ctx, &models.TeamInvite{TeamID: teamID, ContextID: contextID, CreditAllocation: allocation})
}

// PersonInput describes a new person. A person created from an invite joins
// the inviting team with the invite's allocation and may have no user account.
type PersonInput struct {
	UserID      string
	Name        string
	InviteToken string
}

func (s *AccountService) CreatePerson(ctx context.Context, in PersonInput) (*models.Person, error) {
	in.UserID = strings.TrimSpace(in.UserID)
	in.InviteToken = strings.TrimSpace(in.InviteToken)
	if in.UserID == "" && in.InviteToken == "" {
		return nil, apperrors.Validation(apperrors.CodeInvalidRequest, "userId", "userId or inviteToken is required")
	}
	if in.UserID != "" {
		existing, err := s.persons.GetByUserID(ctx, in.UserID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return nil, apperrors.Validation(apperrors.CodeInvalidRequest, "userId", "user already has a person")
		}
	}

	person := &models.Person{UserID: in.UserID, Name: strings.TrimSpace(in.Name)}
	if in.InviteToken != "" {
		inv, err := s.teams.GetInvite(ctx, in.InviteToken)
		if err != nil {
			return nil, err
		}
		if inv == nil {
			return nil, apperrors.NotFound("invite", "")
		}
		person.TeamID = inv.TeamID
		person.InviteToken = inv.Token
		person.CreditAllocation = inv.CreditAllocation
	}
	created, err := s.persons.Create(ctx, person)
	if err != nil {
		return nil, fmt.Errorf("create person: %w", err)
	}
	return created, nil
}

func (s *AccountService) AddSelfie(ctx context.Context, personID, key string) (*models.Selfie, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, apperrors.Validation(apperrors.CodeInvalidRequest, "key", "key is required")
	}
	person, err := s.persons.GetByID(ctx, personID)
	if err != nil {
		return nil, err
	}
	if person == nil {
		return nil, apperrors.NotFound("person", personID)
	}
	return s.selfies.Create(ctx, &models.Selfie{PersonID: personID, Key: key})
}

// CreatePackage stores a package after checking its categories and defaults parse.
func (s *AccountService) CreatePackage(ctx context.Context, id, name string, categories []string, defaults json.RawMessage) (*models.Package, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperrors.Validation(apperrors.CodeInvalidRequest, "id", "id is required")
	}
	set, err := style.ParseCategorySet(categories)
	if err != nil {
		return nil, apperrors.Validation(apperrors.CodeInvalidRequest, "visibleCategories", err.Error())
	}
	if _, err := style.Decode(defaults); err != nil {
		return nil, apperrors.Validation(apperrors.CodeInvalidRequest, "defaults", "defaults are not valid style settings")
	}
	existing, err := s.packages.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, apperrors.Validation(apperrors.CodeInvalidRequest, "id", "package already exists")
	}
	visible := make([]string, 0, len(set))
	for _, c := range set.Sorted() {
		visible = append(visible, string(c))
	}
	return s.packages.Create(ctx, &models.Package{ID: id, Name: name, VisibleCategories: visible, Defaults: defaults})
}

func (s *AccountService) GrantPackage(ctx context.Context, userID, packageID string) error {
	if strings.TrimSpace(userID) == "" {
		return apperrors.Validation(apperrors.CodeInvalidRequest, "userId", "userId is required")
	}
	pkg, err := s.packages.GetByID(ctx, packageID)
	if err != nil {
		return err
	}
	if pkg == nil {
		return apperrors.NotFound("package", packageID)
	}
	return s.packages.GrantOwnership(ctx, userID, packageID)
}

func (s *AccountService) CreateContext(ctx context.Context, userID, teamID, name string, settings json.RawMessage) (*models.StyleContext, error) {
	if userID == "" && teamID == "" {
		return nil, apperrors.Validation(apperrors.CodeInvalidRequest, "userId", "userId or teamId is required")
	}
	if _, err := style.Decode(settings); err != nil {
		return nil, apperrors.Validation(apperrors.CodeInvalidRequest, "settings", "settings are not valid style settings")
	}
	return s.contexts.Create(ctx, &models.StyleContext{UserID: userID, TeamID: teamID, Name: name, Settings: settings})
}

// RecordCost stores the provider cost reported for a generation. The first
// report wins.
func (s *AccountService) RecordCost(ctx context.Context, generationID, provider string, usd float64) (*models.GenerationCost, error) {
	if usd < 0 || math.IsNaN(usd) || math.IsInf(usd, 0) {
		return nil, apperrors.Validation(apperrors.CodeInvalidRequest, "costUsd", "costUsd must be a non-negative number")
	}
	gen, err := s.generations.GetByID(ctx, generationID)
	if err != nil {
		return nil, err
	}
	if gen == nil {
		return nil, apperrors.NotFound("generation", generationID)
	}
	if provider == "" {
		provider = gen.Provider
	}
	return s.costs.Record(ctx, &models.GenerationCost{
		GenerationID: generationID,
		Provider:     provider,
		CostMicros:   int64(math.Round(usd * 1e6)),
	})
}
