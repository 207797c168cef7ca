package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/digkill/photogen/internal/apperrors"
	"github.com/digkill/photogen/internal/metrics"
	"github.com/digkill/photogen/internal/models"
	"github.com/digkill/photogen/internal/queue"
	"github.com/digkill/photogen/internal/repository"
	"github.com/digkill/photogen/internal/style"
	"github.com/digkill/photogen/internal/tracing"
)

// Dependencies bundles the stores and collaborators shared by the
// generation and regeneration services. Store and Limiter may be nil.
type Dependencies struct {
	DB          *sql.DB
	Persons     *repository.PersonRepository
	Teams       *repository.TeamRepository
	Selfies     *repository.SelfieRepository
	Packages    *repository.PackageRepository
	Contexts    *repository.ContextRepository
	Generations *repository.GenerationRepository
	Costs       *repository.CostRepository

	Access       *AccessChecker
	Credits      *CreditLedger
	Entitlements *EntitlementResolver
	Styles       *StyleResolver
	Assets       *AssetResolver
	Security     *SecurityMonitor

	Queue   queue.Gateway
	Store   ObjectStore
	Limiter RateLimiter
	Log     *slog.Logger
}

type GenerationConfig struct {
	CreditCost    int
	Provider      string
	FreePackageID string
}

// CreateRequest is a generation request as received from the caller.
type CreateRequest struct {
	SelfieIDs      []string
	PackageID      string
	StyleOverrides json.RawMessage
	ContextID      string
	CreditSource   models.CreditSource
	Prompt         string
}

type CreateResult struct {
	GenerationID string
	JobID        string
	Status       models.GenerationStatus
}

// GenerationService admits generation requests and serves their read side.
type GenerationService struct {
	Dependencies
	cfg GenerationConfig
}

func NewGenerationService(deps Dependencies, cfg GenerationConfig) *GenerationService {
	return &GenerationService{Dependencies: deps, cfg: cfg}
}

// CreateGeneration validates, prices and persists a generation, reserves its
// credits and hands it to the queue. Nothing is written before every check
// has passed; persist, reserve and enqueue are undone together on failure.
func (s *GenerationService) CreateGeneration(ctx context.Context, principal Principal, req CreateRequest) (res *CreateResult, err error) {
	ctx, span := tracing.Start(ctx, "generation.create")
	started := time.Now()
	defer func() {
		if err != nil {
			tracing.Fail(span, err)
			metrics.RecordRejection(string(apperrors.CodeOf(err)))
		}
		metrics.ObserveCreate("original", time.Since(started).Seconds())
		span.End()
	}()

	if err := admit(s.Limiter, principal); err != nil {
		return nil, err
	}
	req.PackageID = strings.TrimSpace(req.PackageID)
	if len(req.SelfieIDs) == 0 {
		return nil, apperrors.Validation(apperrors.CodeNoSelfies, "selfieIds", "at least one selfie is required")
	}
	if req.PackageID == "" {
		return nil, apperrors.Validation(apperrors.CodeInvalidRequest, "packageId", "package id is required")
	}

	selfies, err := s.Selfies.GetByIDs(ctx, req.SelfieIDs)
	if err != nil {
		return nil, err
	}
	if len(selfies) == 0 {
		return nil, apperrors.Validation(apperrors.CodeNoSelfies, "selfieIds", "none of the requested selfies exist")
	}
	if distinctCount(req.SelfieIDs) > 1 && len(selfies) < 2 {
		return nil, apperrors.Validation(apperrors.CodeInsufficientSelfies, "selfieIds", "multiple selfies were requested but fewer than two were found")
	}
	ownerID := selfies[0].PersonID
	for _, sf := range selfies[1:] {
		if sf.PersonID != ownerID {
			return nil, apperrors.Validation(apperrors.CodeSelfieOwnerMismatch, "selfieIds", "all selfies must belong to the same person")
		}
	}

	person, err := s.Persons.GetByID(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if person == nil {
		return nil, apperrors.NotFound("person", ownerID)
	}
	if err := s.Access.Authorize(ctx, principal, person, "generate"); err != nil {
		return nil, err
	}

	decision, err := s.Credits.DetermineCreditSource(ctx, principal, person, req.CreditSource)
	if err != nil {
		return nil, err
	}
	team := decision.Source == models.CreditSourceTeam
	payingUserID, err := s.Credits.PayingUserID(ctx, person, decision.Source, principal.UserID)
	if err != nil {
		return nil, err
	}

	pkg, err := s.Packages.GetByID(ctx, req.PackageID)
	if err != nil {
		return nil, err
	}
	if pkg == nil {
		return nil, apperrors.NotFound("package", req.PackageID)
	}
	if pkg.ID != s.cfg.FreePackageID {
		owns, err := s.Packages.Owns(ctx, payingUserID, pkg.ID)
		if err != nil {
			return nil, err
		}
		if !owns {
			s.Security.Record(ctx, principal.UserID, "package_not_owned", fmt.Sprintf("package=%s paying_user=%s", pkg.ID, payingUserID))
			return nil, apperrors.Validation(apperrors.CodePackageNotOwned, "packageId", "the paying account does not own this package")
		}
	}

	preset, err := s.presetFor(ctx, principal, person, payingUserID, req.ContextID)
	if err != nil {
		return nil, err
	}
	plan, _, err := s.Entitlements.PlanFor(ctx, payingUserID)
	if err != nil {
		return nil, err
	}
	styleReq := StyleRequest{
		Package:      pkg,
		Overrides:    req.StyleOverrides,
		PayingPeriod: plan.Period,
		Invited:      person.Invited(),
	}
	if preset != nil {
		styleReq.PresetID = preset.ID
		decoded, err := style.Decode(preset.Settings)
		if err != nil {
			return nil, apperrors.Internal(apperrors.CodeInternal, "style context is misconfigured", fmt.Errorf("context %s: %w", preset.ID, err))
		}
		styleReq.Preset = &decoded
	}
	settings, err := s.Styles.Resolve(ctx, styleReq)
	if err != nil {
		return nil, err
	}
	keys := make([]string, len(selfies))
	for i, sf := range selfies {
		keys[i] = sf.Key
	}
	settings.InputSelfies = &style.InputSelfies{Keys: keys, AssetIDs: knownAssetIDs(selfies)}

	ent, err := s.Entitlements.Resolve(ctx, person, principal.UserID)
	if err != nil {
		return nil, err
	}

	cost := s.cfg.CreditCost
	available, ok, err := s.Credits.CanAfford(ctx, person, decision.Source, cost)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperrors.InsufficientCredits(team, cost, available)
	}

	encoded, err := settings.Encode()
	if err != nil {
		return nil, err
	}
	gen := &models.Generation{
		PersonID:               person.ID,
		UserID:                 principal.UserID,
		PackageID:              pkg.ID,
		Status:                 models.StatusPending,
		CreditSource:           decision.Source,
		CreditsUsed:            cost,
		Provider:               s.cfg.Provider,
		MaxRegenerations:       ent.MaxRegenerations,
		RemainingRegenerations: ent.MaxRegenerations,
		IsOriginal:             true,
		StyleSettings:          encoded,
	}
	if preset != nil {
		gen.ContextID = preset.ID
	}

	var (
		reserved bool
		jobID    string
		assetIDs []string
	)
	err = runSteps(ctx, s.Log,
		step{
			name: "persist",
			do: func(ctx context.Context) error {
				_, err := s.Generations.Create(ctx, gen)
				return err
			},
			undo: func(ctx context.Context) error {
				if !reserved {
					return s.Generations.Delete(ctx, gen.ID)
				}
				return s.Generations.MarkFailed(ctx, gen.ID, "failed to start generation")
			},
		},
		step{
			name: "reserve",
			do: func(ctx context.Context) error {
				if err := s.reserve(ctx, person, decision.Source, gen.ID, cost); err != nil {
					return err
				}
				reserved = true
				return nil
			},
			undo: func(ctx context.Context) error {
				return s.Credits.Refund(ctx, person, decision.Source, gen.ID, cost)
			},
		},
		step{
			name: "fingerprint",
			do: func(ctx context.Context) error {
				assetIDs = s.fingerprint(ctx, gen, person, selfies, &settings)
				return nil
			},
		},
		step{
			name: "enqueue",
			do: func(ctx context.Context) error {
				id, err := s.Queue.Enqueue(ctx, queue.JobSpec{
					GenerationID:   gen.ID,
					PersonID:       person.ID,
					GroupID:        gen.GroupID,
					SelfieKeys:     keys,
					SelfieAssetIDs: assetIDs,
					Prompt:         req.Prompt,
					Provider:       gen.Provider,
					Priority:       priorityFor(decision.Source),
				})
				if err != nil {
					s.Log.Error("enqueue generation failed",
						"generation_id", gen.ID, "person_id", person.ID, "credit_source", decision.Source, "cost", cost, "err", err)
					return apperrors.Internal(apperrors.CodeGenerationStartFailed, "failed to start generation", err)
				}
				jobID = id
				return nil
			},
		},
	)
	if err != nil {
		return nil, err
	}

	if err := s.Generations.SetJobID(ctx, gen.ID, jobID); err != nil {
		s.Log.Warn("store job id", "generation_id", gen.ID, "job_id", jobID, "err", err)
	}
	metrics.RecordGeneration(string(decision.Source))
	s.Log.Info("generation created",
		"generation_id", gen.ID, "person_id", person.ID, "credit_source", decision.Source, "reason", decision.Reason,
		"plan", ent.Plan.String(), "max_regenerations", ent.MaxRegenerations, "job_id", jobID)
	return &CreateResult{GenerationID: gen.ID, JobID: jobID, Status: gen.Status}, nil
}

func (s *GenerationService) reserve(ctx context.Context, person *models.Person, source models.CreditSource, generationID string, cost int) error {
	return reserveWithRetry(ctx, s.Credits, s.Log, person, source, generationID, cost)
}

// creditReserver is the part of CreditLedger a reservation needs.
type creditReserver interface {
	Reserve(ctx context.Context, person *models.Person, source models.CreditSource, generationID string, cost int) error
	CanAfford(ctx context.Context, person *models.Person, source models.CreditSource, cost int) (int, bool, error)
	Available(ctx context.Context, person *models.Person, source models.CreditSource) (int, error)
}

// reserveWithRetry retries a lost reservation race exactly once before
// reporting the pool as insufficient with its current balance.
func reserveWithRetry(ctx context.Context, credits creditReserver, log *slog.Logger, person *models.Person, source models.CreditSource, generationID string, cost int) error {
	team := source == models.CreditSourceTeam
	err := credits.Reserve(ctx, person, source, generationID, cost)
	if !apperrors.HasCode(err, apperrors.CodeReservationRaceLost) {
		return err
	}
	log.Info("reservation race lost, retrying", "generation_id", generationID, "pool", source)
	available, ok, err := credits.CanAfford(ctx, person, source, cost)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.InsufficientCredits(team, cost, available)
	}
	err = credits.Reserve(ctx, person, source, generationID, cost)
	if apperrors.HasCode(err, apperrors.CodeReservationRaceLost) {
		available, aerr := credits.Available(ctx, person, source)
		if aerr != nil {
			return aerr
		}
		return apperrors.InsufficientCredits(team, cost, available)
	}
	return err
}

// fingerprint resolves selfie, background and logo assets. Failures only cost
// the optimization, so nothing here is returned.
func (s *GenerationService) fingerprint(ctx context.Context, gen *models.Generation, person *models.Person, selfies []models.Selfie, settings *style.Settings) []string {
	inputs := make([]AssetInput, 0, len(selfies)+2)
	for i := range selfies {
		inputs = append(inputs, AssetInput{
			RawRef:     selfies[i].Key,
			OwnerScope: PersonScope(selfies[i].PersonID),
			Type:       models.AssetSelfie,
			Selfie:     &selfies[i],
		})
	}
	scope := PersonScope(person.ID)
	if gen.CreditSource == models.CreditSourceTeam {
		scope = TeamScope(person.TeamID)
	}
	background, logo := settings.AssetKeys()
	if background != "" {
		inputs = append(inputs, AssetInput{RawRef: background, OwnerScope: scope, Type: models.AssetBackground})
	}
	if logo != "" {
		inputs = append(inputs, AssetInput{RawRef: logo, OwnerScope: scope, Type: models.AssetLogo})
	}

	fp, resolved := s.Assets.Fingerprint(ctx, inputs)
	if fp == "" {
		return nil
	}
	var assetIDs []string
	for _, sf := range selfies {
		id, ok := resolved[sf.Key]
		if !ok {
			assetIDs = nil
			break
		}
		assetIDs = append(assetIDs, id)
	}
	if assetIDs != nil {
		settings.InputSelfies.AssetIDs = assetIDs
	}
	encoded, err := settings.Encode()
	if err != nil {
		s.Log.Warn("encode resolved settings", "generation_id", gen.ID, "err", err)
		return assetIDs
	}
	if err := s.Generations.SetResolvedInputs(ctx, gen.ID, fp, encoded); err != nil {
		s.Log.Warn("store fingerprint", "generation_id", gen.ID, "err", err)
		return assetIDs
	}
	gen.Fingerprint = fp
	gen.StyleSettings = encoded
	return assetIDs
}

// presetFor returns the named style context, or the invite's context for an
// invited member that named none.
func (s *GenerationService) presetFor(ctx context.Context, principal Principal, person *models.Person, payingUserID, contextID string) (*models.StyleContext, error) {
	contextID = strings.TrimSpace(contextID)
	if contextID != "" {
		c, err := s.Contexts.GetByID(ctx, contextID)
		if err != nil {
			return nil, err
		}
		if c == nil || !contextVisible(c, principal, person, payingUserID) {
			return nil, apperrors.Validation(apperrors.CodeContextNotFound, "contextId", "style context not found")
		}
		return c, nil
	}
	if !person.Invited() {
		return nil, nil
	}
	inv, err := s.Teams.GetInvite(ctx, person.InviteToken)
	if err != nil {
		return nil, err
	}
	if inv == nil || inv.ContextID == "" {
		return nil, nil
	}
	c, err := s.Contexts.GetByID(ctx, inv.ContextID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		s.Log.Warn("invite context missing", "invite", inv.Token, "context_id", inv.ContextID)
	}
	return c, nil
}

func contextVisible(c *models.StyleContext, principal Principal, person *models.Person, payingUserID string) bool {
	switch {
	case c.UserID != "" && (c.UserID == principal.UserID || c.UserID == payingUserID):
		return true
	case c.TeamID != "" && c.TeamID == person.TeamID:
		return true
	}
	return false
}

// StatusView is what a polling client sees for one generation.
type StatusView struct {
	GenerationID string
	Status       models.GenerationStatus
	Progress     *int
	Attempts     *int
	ErrorMessage string
	Outputs      []string
	AcceptedKey  string
}

// Status combines the stored row with the queue's view of the job.
func (s *GenerationService) Status(ctx context.Context, principal Principal, id string) (*StatusView, error) {
	gen, err := s.loadAuthorized(ctx, principal, id, "status")
	if err != nil {
		return nil, err
	}
	view := &StatusView{
		GenerationID: gen.ID,
		Status:       gen.Status,
		ErrorMessage: gen.ErrorMessage,
		AcceptedKey:  gen.AcceptedKey,
	}
	if gen.JobID != "" && (gen.Status == models.StatusPending || gen.Status == models.StatusProcessing) {
		job, err := s.Queue.Status(ctx, gen.JobID)
		switch {
		case err == nil:
			view.Progress = &job.Progress
			view.Attempts = &job.Attempts
			switch job.State {
			case queue.StateActive:
				view.Status = models.StatusProcessing
			case queue.StateFailed:
				view.Status = models.StatusFailed
				view.ErrorMessage = job.FailureReason
			}
		case errors.Is(err, queue.ErrJobNotFound):
		default:
			s.Log.Warn("read job status", "generation_id", gen.ID, "job_id", gen.JobID, "err", err)
		}
	}
	if s.Store != nil {
		for _, key := range gen.GeneratedKeys {
			url, err := s.Store.PresignGet(ctx, key)
			if err != nil {
				s.Log.Warn("presign output", "generation_id", gen.ID, "key", key, "err", err)
				continue
			}
			view.Outputs = append(view.Outputs, url)
		}
	}
	return view, nil
}

// CostView reports what was charged and, once the worker reported it, what
// the provider call actually cost.
type CostView struct {
	GenerationID  string
	CreditsUsed   int
	Provider      string
	ActualCostUSD *float64
}

func (s *GenerationService) Cost(ctx context.Context, principal Principal, id string) (*CostView, error) {
	gen, err := s.loadAuthorized(ctx, principal, id, "cost")
	if err != nil {
		return nil, err
	}
	view := &CostView{GenerationID: gen.ID, CreditsUsed: gen.CreditsUsed, Provider: gen.Provider}
	actual, err := s.Costs.GetByGenerationID(ctx, gen.ID)
	if err != nil {
		return nil, err
	}
	if actual != nil {
		usd := float64(actual.CostMicros) / 1e6
		view.ActualCostUSD = &usd
		view.Provider = actual.Provider
	}
	return view, nil
}

// List returns the principal's own generations, newest first.
func (s *GenerationService) List(ctx context.Context, principal Principal, limit, offset int) ([]models.Generation, error) {
	if principal.UserID == "" {
		return nil, apperrors.Unauthorized("missing principal")
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	person, err := s.Persons.GetByUserID(ctx, principal.UserID)
	if err != nil {
		return nil, err
	}
	if person == nil {
		return []models.Generation{}, nil
	}
	return s.Generations.ListByPerson(ctx, person.ID, limit, offset)
}

// Accept marks one of the generated outputs as the chosen one.
func (s *GenerationService) Accept(ctx context.Context, principal Principal, id, key string) (*models.Generation, error) {
	gen, err := s.loadAuthorized(ctx, principal, id, "accept")
	if err != nil {
		return nil, err
	}
	found := false
	for _, k := range gen.GeneratedKeys {
		if k == key {
			found = true
			break
		}
	}
	if !found {
		return nil, apperrors.Validation(apperrors.CodeInvalidRequest, "key", "key is not an output of this generation")
	}
	at, err := s.Generations.Accept(ctx, gen.ID, key)
	if err != nil {
		return nil, err
	}
	gen.AcceptedKey = key
	gen.AcceptedAt = &at
	return gen, nil
}

func (s *GenerationService) Delete(ctx context.Context, principal Principal, id string) error {
	gen, err := s.loadAuthorized(ctx, principal, id, "delete")
	if err != nil {
		return err
	}
	ok, err := s.Generations.SoftDelete(ctx, gen.ID)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.NotFound("generation", id)
	}
	s.Log.Info("generation deleted", "generation_id", gen.ID, "user_id", principal.UserID)
	return nil
}

func (s *GenerationService) loadAuthorized(ctx context.Context, principal Principal, id, action string) (*models.Generation, error) {
	gen, _, err := loadGeneration(ctx, s.Dependencies, principal, id, action)
	return gen, err
}

// loadGeneration reads a live generation and authorizes the principal
// against its owning person.
func loadGeneration(ctx context.Context, deps Dependencies, principal Principal, id, action string) (*models.Generation, *models.Person, error) {
	gen, err := deps.Generations.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if gen == nil || gen.Deleted {
		return nil, nil, apperrors.NotFound("generation", id)
	}
	owner, err := deps.Persons.GetByID(ctx, gen.PersonID)
	if err != nil {
		return nil, nil, err
	}
	if owner == nil {
		return nil, nil, apperrors.NotFound("person", gen.PersonID)
	}
	if err := deps.Access.Authorize(ctx, principal, owner, action); err != nil {
		return nil, nil, err
	}
	return gen, owner, nil
}

func admit(limiter RateLimiter, principal Principal) error {
	if principal.UserID == "" {
		return apperrors.Unauthorized("missing principal")
	}
	if limiter == nil {
		return nil
	}
	if ok, retryAfter := limiter.Allow(principal.UserID); !ok {
		return apperrors.RateLimited(retryAfter)
	}
	return nil
}

func priorityFor(source models.CreditSource) int {
	if source == models.CreditSourceTeam {
		return queue.PriorityTeam
	}
	return queue.PriorityPersonal
}

func distinctCount(ids []string) int {
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			seen[id] = struct{}{}
		}
	}
	return len(seen)
}

// knownAssetIDs returns the selfies' linked asset ids when every selfie has one.
func knownAssetIDs(selfies []models.Selfie) []string {
	ids := make([]string, 0, len(selfies))
	for _, sf := range selfies {
		if sf.AssetID == "" {
			return nil
		}
		ids = append(ids, sf.AssetID)
	}
	return ids
}
