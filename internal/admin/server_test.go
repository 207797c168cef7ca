package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/photogen/internal/queue"
	"github.com/digkill/photogen/internal/repository"
	"github.com/digkill/photogen/internal/service"
	"github.com/digkill/photogen/internal/testutil"
	"github.com/digkill/photogen/pkg/logger"
)

type env struct {
	server  *Server
	persons *repository.PersonRepository
	teams   *repository.TeamRepository
	subs    *repository.SubscriptionRepository
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db := testutil.NewDB(t)
	log := logger.Discard()

	persons := repository.NewPersonRepository(db)
	teams := repository.NewTeamRepository(db)
	ledger := repository.NewCreditRepository(db)
	generations := repository.NewGenerationRepository(db)
	subs := repository.NewSubscriptionRepository(db)
	monitor := service.NewSecurityMonitor(repository.NewSecurityRepository(db), nil, 5, time.Hour, log)
	credits := service.NewCreditLedger(db, persons, teams, ledger, monitor, log)

	accounts := service.NewAccountService(persons, teams, repository.NewSelfieRepository(db), repository.NewPackageRepository(db),
		repository.NewContextRepository(db), generations, repository.NewCostRepository(db), log)
	reconciler := service.NewReconciler(db, generations, persons, ledger, credits, queue.NewMemoryGateway(), time.Minute, log)

	s := NewServer(":0", "admin", "secret", log, accounts, credits,
		service.NewEntitlementResolver(teams, subs, log),
		service.NewStyleResolver(repository.NewSettingsRepository(db), "freepackage", log),
		reconciler)
	return &env{server: s, persons: persons, teams: teams, subs: subs}
}

func (e *env) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.SetBasicAuth("admin", "secret")
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestBasicAuthRequired(t *testing.T) {
	e := newEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/teams", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/teams", strings.NewReader(`{}`))
	req.SetBasicAuth("admin", "wrong")
	rec = httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMetricsArePublic(t *testing.T) {
	e := newEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTeamOnboardingAndCredits(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	rec := e.do(t, http.MethodPost, "/teams/", `{"name":"Acme","admin_user_id":"boss"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	teamID := decode(t, rec)["ID"].(string)

	rec = e.do(t, http.MethodPost, "/teams/"+teamID+"/invites", `{"credit_allocation":15}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	token := decode(t, rec)["Token"].(string)

	rec = e.do(t, http.MethodPost, "/persons/", `{"name":"Member","invite_token":"`+token+`"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	personID := decode(t, rec)["ID"].(string)

	person, err := e.persons.GetByID(ctx, personID)
	require.NoError(t, err)
	assert.Equal(t, teamID, person.TeamID)
	assert.Equal(t, 15, person.CreditAllocation)
	assert.True(t, person.Invited())

	rec = e.do(t, http.MethodPost, "/teams/"+teamID+"/credits", `{"amount":40}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 40, decode(t, rec)["balance"])

	credits, err := e.teams.Credits(ctx, teamID)
	require.NoError(t, err)
	assert.Equal(t, 40, credits)

	rec = e.do(t, http.MethodPost, "/teams/missing/credits", `{"amount":40}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(t, http.MethodPost, "/persons/"+personID+"/credits", `{"amount":0}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodPost, "/persons/", `{"invite_token":"nope"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPersonCreditsAndTransactions(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodPost, "/persons/", `{"user_id":"u1","name":"Solo"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	personID := decode(t, rec)["ID"].(string)

	rec = e.do(t, http.MethodPost, "/persons/", `{"user_id":"u1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodPost, "/persons/"+personID+"/credits", `{"amount":25}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, http.MethodGet, "/persons/"+personID+"/transactions?limit=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var txs []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &txs))
	require.Len(t, txs, 1)
	assert.Equal(t, "grant", txs[0]["Type"])
	assert.EqualValues(t, 25, txs[0]["Delta"])

	rec = e.do(t, http.MethodPost, "/persons/"+personID+"/selfies", `{"key":"selfies/u1/a.jpg"}`)
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestSubscriptionSync(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodPut, "/subscriptions/u1", `{"tier":"vip","period":"annual"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	sub, err := e.subs.GetByUserID(context.Background(), "u1")
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, "vip", sub.Tier)

	rec = e.do(t, http.MethodPut, "/subscriptions/u1", `{"tier":"gold","period":"annual"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPackagesAndFreeStyle(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodPost, "/packages", `{"id":"corporate","name":"Corporate","visible_categories":["background","pose"]}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = e.do(t, http.MethodPost, "/packages", `{"id":"bad","visible_categories":["hats"]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodPost, "/users/u1/packages", `{"package_id":"corporate"}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = e.do(t, http.MethodPost, "/users/u1/packages", `{"package_id":"missing"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(t, http.MethodPut, "/settings/free-package-style", `{"background":{"type":"studio"}}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, http.MethodGet, "/settings/free-package-style", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "studio")
}

func TestRecordCostRequiresGeneration(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodPut, "/generations/missing/cost", `{"provider":"gemini","cost_usd":0.04}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(t, http.MethodPut, "/generations/missing/cost", `{"cost_usd":-1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReconcileEndpoint(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodPost, "/reconcile", "")
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode(t, rec)
	assert.EqualValues(t, 0, out["backfilled"])
	assert.EqualValues(t, 0, out["compensated"])
}
