package service

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/photogen/internal/apperrors"
	"github.com/digkill/photogen/internal/models"
	"github.com/digkill/photogen/pkg/logger"
)

func newAccounts(f *fixture) *AccountService {
	d := f.deps
	return NewAccountService(d.Persons, d.Teams, d.Selfies, d.Packages, d.Contexts, d.Generations, d.Costs, logger.Discard())
}

func TestInviteJoinsTeamWithAllocation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	accounts := newAccounts(f)

	team, err := accounts.CreateTeam(ctx, "Acme", "boss")
	require.NoError(t, err)
	preset, err := accounts.CreateContext(ctx, "", team.ID, "Office", json.RawMessage(`{"background":{"type":"office"}}`))
	require.NoError(t, err)

	inv, err := accounts.CreateInvite(ctx, team.ID, preset.ID, 12)
	require.NoError(t, err)
	require.NotEmpty(t, inv.Token)

	member, err := accounts.CreatePerson(ctx, PersonInput{Name: "Member", InviteToken: inv.Token})
	require.NoError(t, err)
	assert.Equal(t, team.ID, member.TeamID)
	assert.Equal(t, 12, member.CreditAllocation)
	assert.Equal(t, models.CreditSourceTeam, DeriveScope(member))

	_, err = accounts.CreateInvite(ctx, "missing", "", 1)
	requireCode(t, err, apperrors.CodeNotFound)
	_, err = accounts.CreateInvite(ctx, team.ID, "missing", 1)
	requireCode(t, err, apperrors.CodeContextNotFound)
	_, err = accounts.CreateInvite(ctx, team.ID, "", -1)
	requireCode(t, err, apperrors.CodeInvalidRequest)
}

func TestCreatePersonRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	accounts := newAccounts(f)

	_, err := accounts.CreatePerson(ctx, PersonInput{})
	requireCode(t, err, apperrors.CodeInvalidRequest)

	p, err := accounts.CreatePerson(ctx, PersonInput{UserID: "u1", Name: "Solo"})
	require.NoError(t, err)
	assert.Equal(t, models.CreditSourceIndividual, DeriveScope(p))

	_, err = accounts.CreatePerson(ctx, PersonInput{UserID: "u1"})
	requireCode(t, err, apperrors.CodeInvalidRequest)

	_, err = accounts.CreatePerson(ctx, PersonInput{UserID: "u2", InviteToken: "unknown"})
	requireCode(t, err, apperrors.CodeNotFound)

	selfie, err := accounts.AddSelfie(ctx, p.ID, "selfies/u1/a.jpg")
	require.NoError(t, err)
	assert.Equal(t, p.ID, selfie.PersonID)
	_, err = accounts.AddSelfie(ctx, "missing", "selfies/x.jpg")
	requireCode(t, err, apperrors.CodeNotFound)
}

func TestCreatePackageValidatesCategories(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	accounts := newAccounts(f)

	pkg, err := accounts.CreatePackage(ctx, "corporate", "Corporate", []string{"pose", "background"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"background", "pose"}, pkg.VisibleCategories)

	_, err = accounts.CreatePackage(ctx, "corporate", "Again", nil, nil)
	requireCode(t, err, apperrors.CodeInvalidRequest)
	_, err = accounts.CreatePackage(ctx, "hats", "Hats", []string{"hats"}, nil)
	requireCode(t, err, apperrors.CodeInvalidRequest)
	_, err = accounts.CreatePackage(ctx, "broken", "Broken", nil, json.RawMessage(`{"background":1}`))
	requireCode(t, err, apperrors.CodeInvalidRequest)

	require.NoError(t, accounts.GrantPackage(ctx, "u1", "corporate"))
	require.NoError(t, accounts.GrantPackage(ctx, "u1", "corporate"))
	owned, err := f.deps.Packages.Owns(ctx, "u1", "corporate")
	require.NoError(t, err)
	assert.True(t, owned)

	err = accounts.GrantPackage(ctx, "u1", "missing")
	requireCode(t, err, apperrors.CodeNotFound)
}

func TestRecordCostFirstReportWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	accounts := newAccounts(f)
	_, s := individual(t, f, "u1", 10)

	res, err := f.gens.CreateGeneration(ctx, Principal{UserID: "u1"}, CreateRequest{SelfieIDs: []string{s.ID}, PackageID: testFreePackage})
	require.NoError(t, err)

	cost, err := accounts.RecordCost(ctx, res.GenerationID, "", 0.0425)
	require.NoError(t, err)
	assert.Equal(t, "gemini", cost.Provider)
	assert.Equal(t, int64(42500), cost.CostMicros)

	again, err := accounts.RecordCost(ctx, res.GenerationID, "other", 9)
	require.NoError(t, err)
	assert.Equal(t, int64(42500), again.CostMicros)

	view, err := f.gens.Cost(ctx, Principal{UserID: "u1"}, res.GenerationID)
	require.NoError(t, err)
	require.NotNil(t, view.ActualCostUSD)
	assert.InDelta(t, 0.0425, *view.ActualCostUSD, 1e-9)

	_, err = accounts.RecordCost(ctx, "missing", "", 1)
	requireCode(t, err, apperrors.CodeNotFound)
}
