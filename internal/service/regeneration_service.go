package service

import (
	"context"
	"database/sql"
	"time"

	"github.com/tidwall/gjson"

	"github.com/digkill/photogen/internal/apperrors"
	"github.com/digkill/photogen/internal/metrics"
	"github.com/digkill/photogen/internal/models"
	"github.com/digkill/photogen/internal/queue"
	"github.com/digkill/photogen/internal/repository"
	"github.com/digkill/photogen/internal/tracing"
)

type RegenerateResult struct {
	GenerationID           string
	JobID                  string
	Status                 models.GenerationStatus
	RemainingRegenerations int
}

// RegenerationService re-runs a stored generation for free, bounded by the
// counter held on the group's original row.
type RegenerationService struct {
	Dependencies
}

func NewRegenerationService(deps Dependencies) *RegenerationService {
	return &RegenerationService{Dependencies: deps}
}

// Regenerate creates a new row in the source's group from the stored
// settings and inputs. The request carries no style payload.
func (s *RegenerationService) Regenerate(ctx context.Context, principal Principal, sourceID string, asserted models.CreditSource) (res *RegenerateResult, err error) {
	ctx, span := tracing.Start(ctx, "generation.regenerate")
	started := time.Now()
	defer func() {
		if err != nil {
			tracing.Fail(span, err)
			metrics.RecordRejection(string(apperrors.CodeOf(err)))
		}
		metrics.ObserveCreate("regeneration", time.Since(started).Seconds())
		span.End()
	}()

	if err := admit(s.Limiter, principal); err != nil {
		return nil, err
	}
	src, owner, err := loadGeneration(ctx, s.Dependencies, principal, sourceID, "regenerate")
	if err != nil {
		return nil, err
	}
	decision, err := s.Credits.DetermineCreditSource(ctx, principal, owner, asserted)
	if err != nil {
		return nil, err
	}

	keys := stringsAt(src.StyleSettings, "inputSelfies.keys")
	if len(keys) == 0 {
		return nil, apperrors.Validation(apperrors.CodeNoSelfies, "sourceGenerationId", "the source generation has no stored selfies")
	}
	assetIDs := stringsAt(src.StyleSettings, "inputSelfies.assetIds")
	if len(assetIDs) != len(keys) {
		assetIDs = nil
	}

	groupID := src.GroupID
	gen := &models.Generation{
		PersonID:      src.PersonID,
		UserID:        principal.UserID,
		ContextID:     src.ContextID,
		PackageID:     src.PackageID,
		Status:        models.StatusPending,
		CreditSource:  decision.Source,
		Provider:      src.Provider,
		GroupID:       groupID,
		IsOriginal:    false,
		StyleSettings: src.StyleSettings,
		Fingerprint:   src.Fingerprint,
	}

	var jobID string
	err = runSteps(ctx, s.Log,
		step{
			name: "claim",
			do: func(ctx context.Context) error {
				return repository.InTx(ctx, s.DB, func(tx *sql.Tx) error {
					gens := s.Generations.WithTx(tx)
					ok, err := gens.ConsumeRegeneration(ctx, groupID)
					if err != nil {
						return err
					}
					remaining, maximum, err := gens.Regenerations(ctx, groupID)
					if err != nil {
						return err
					}
					if !ok {
						return apperrors.RegenerationLimitReached(maximum)
					}
					index, err := gens.NextGroupIndex(ctx, groupID)
					if err != nil {
						return err
					}
					gen.MaxRegenerations = maximum
					gen.RemainingRegenerations = remaining
					gen.GroupIndex = index
					_, err = gens.Create(ctx, gen)
					return err
				})
			},
			undo: func(ctx context.Context) error {
				return repository.InTx(ctx, s.DB, func(tx *sql.Tx) error {
					gens := s.Generations.WithTx(tx)
					if err := gens.RestoreRegeneration(ctx, groupID); err != nil {
						return err
					}
					return gens.Delete(ctx, gen.ID)
				})
			},
		},
		step{
			name: "enqueue",
			do: func(ctx context.Context) error {
				id, err := s.Queue.Enqueue(ctx, queue.JobSpec{
					GenerationID:   gen.ID,
					PersonID:       gen.PersonID,
					GroupID:        groupID,
					SelfieKeys:     keys,
					SelfieAssetIDs: assetIDs,
					Provider:       gen.Provider,
					Priority:       priorityFor(decision.Source),
					IsRegeneration: true,
				})
				if err != nil {
					s.Log.Error("enqueue regeneration failed",
						"generation_id", gen.ID, "group_id", groupID, "person_id", gen.PersonID, "credit_source", decision.Source, "err", err)
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
	metrics.RecordRegeneration(string(decision.Source))
	s.Log.Info("regeneration created",
		"generation_id", gen.ID, "group_id", groupID, "group_index", gen.GroupIndex,
		"remaining_regenerations", gen.RemainingRegenerations, "job_id", jobID)
	return &RegenerateResult{
		GenerationID:           gen.ID,
		JobID:                  jobID,
		Status:                 gen.Status,
		RemainingRegenerations: gen.RemainingRegenerations,
	}, nil
}

func stringsAt(raw []byte, path string) []string {
	res := gjson.GetBytes(raw, path)
	if !res.IsArray() {
		return nil
	}
	var out []string
	for _, v := range res.Array() {
		if v.Type == gjson.String && v.Str != "" {
			out = append(out, v.Str)
		}
	}
	return out
}
