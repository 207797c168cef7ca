package api

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

	"github.com/digkill/photogen/internal/apperrors"
	"github.com/digkill/photogen/internal/models"
	"github.com/digkill/photogen/internal/service"
	"github.com/digkill/photogen/pkg/logger"
)

var testSecret = []byte("test-secret")

type fakeGenerations struct {
	lastPrincipal service.Principal
	lastCreate    service.CreateRequest
	createErr     error
	listLimit     int
	listOffset    int
	deleted       string
}

func (f *fakeGenerations) CreateGeneration(_ context.Context, p service.Principal, req service.CreateRequest) (*service.CreateResult, error) {
	f.lastPrincipal = p
	f.lastCreate = req
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &service.CreateResult{GenerationID: "g1", JobID: "gen-g1", Status: models.StatusPending}, nil
}

func (f *fakeGenerations) Status(_ context.Context, _ service.Principal, id string) (*service.StatusView, error) {
	if id != "g1" {
		return nil, apperrors.NotFound("generation", id)
	}
	progress := 40
	return &service.StatusView{GenerationID: id, Status: models.StatusProcessing, Progress: &progress}, nil
}

func (f *fakeGenerations) Cost(_ context.Context, _ service.Principal, id string) (*service.CostView, error) {
	usd := 0.042
	return &service.CostView{GenerationID: id, CreditsUsed: 5, Provider: "kie", ActualCostUSD: &usd}, nil
}

func (f *fakeGenerations) List(_ context.Context, _ service.Principal, limit, offset int) ([]models.Generation, error) {
	f.listLimit, f.listOffset = limit, offset
	return []models.Generation{{ID: "g1", GroupID: "g1", IsOriginal: true, Status: models.StatusCompleted, GeneratedKeys: []string{"out/1.png"}}}, nil
}

func (f *fakeGenerations) Accept(_ context.Context, _ service.Principal, id, key string) (*models.Generation, error) {
	if key != "out/1.png" {
		return nil, apperrors.Validation(apperrors.CodeInvalidRequest, "key", "key is not an output of this generation")
	}
	return &models.Generation{ID: id, Status: models.StatusCompleted, GeneratedKeys: []string{key}, AcceptedKey: key}, nil
}

func (f *fakeGenerations) Delete(_ context.Context, _ service.Principal, id string) error {
	f.deleted = id
	return nil
}

type fakeRegenerations struct {
	asserted models.CreditSource
	err      error
}

func (f *fakeRegenerations) Regenerate(_ context.Context, _ service.Principal, sourceID string, asserted models.CreditSource) (*service.RegenerateResult, error) {
	f.asserted = asserted
	if f.err != nil {
		return nil, f.err
	}
	return &service.RegenerateResult{GenerationID: "r1", JobID: "gen-r1", Status: models.StatusPending, RemainingRegenerations: 0}, nil
}

func newTestServer(t *testing.T) (*Server, *fakeGenerations, *fakeRegenerations) {
	t.Helper()
	gens := &fakeGenerations{}
	regen := &fakeRegenerations{}
	return NewServer(":0", testSecret, logger.Discard(), gens, regen), gens, regen
}

func do(t *testing.T, s *Server, method, path, body, userID string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if userID != "" {
		token, err := IssueToken(testSecret, userID, []string{"member"}, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealthIsPublic(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRejectsMissingAndForgedTokens(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := do(t, s, http.MethodGet, "/v1/generations/g1/status", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "UNAUTHORIZED", decodeBody(t, rec)["error"])

	forged, err := IssueToken([]byte("other"), "u1", nil, time.Hour)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/v1/generations/g1/status", nil)
	req.Header.Set("Authorization", "Bearer "+forged)
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	expired, err := IssueToken(testSecret, "u1", nil, -time.Minute)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/v1/generations/g1/status", nil)
	req.Header.Set("Authorization", "Bearer "+expired)
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateGeneration(t *testing.T) {
	s, gens, _ := newTestServer(t)
	body := `{"selfieIds":["s1","s2"],"packageId":"pkg","styleOverrides":{"background":{"key":"custom"}},"creditSource":"team"}`

	rec := do(t, s, http.MethodPost, "/v1/generations", body, "u1")
	require.Equal(t, http.StatusAccepted, rec.Code)
	out := decodeBody(t, rec)
	assert.Equal(t, "g1", out["generationId"])
	assert.Equal(t, "gen-g1", out["jobId"])
	assert.Equal(t, "pending", out["status"])

	assert.Equal(t, "u1", gens.lastPrincipal.UserID)
	assert.Equal(t, []string{"member"}, gens.lastPrincipal.Roles)
	assert.Equal(t, []string{"s1", "s2"}, gens.lastCreate.SelfieIDs)
	assert.Equal(t, models.CreditSourceTeam, gens.lastCreate.CreditSource)
	assert.JSONEq(t, `{"background":{"key":"custom"}}`, string(gens.lastCreate.StyleOverrides))
}

func TestCreateGenerationInvalidJSON(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := do(t, s, http.MethodPost, "/v1/generations", `{"selfieIds":`, "u1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_REQUEST", decodeBody(t, rec)["error"])
}

func TestErrorRendering(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		status     int
		code       string
		retryAfter string
		check      func(t *testing.T, body map[string]any)
	}{
		{
			name:   "insufficient team credits",
			err:    apperrors.InsufficientCredits(true, 5, 2),
			status: http.StatusPaymentRequired,
			code:   "INSUFFICIENT_TEAM_CREDITS",
			check: func(t *testing.T, body map[string]any) {
				assert.EqualValues(t, 5, body["required"])
				assert.EqualValues(t, 2, body["available"])
				assert.Equal(t, apperrors.RemediationAskTeamAdmin, body["remediation"])
			},
		},
		{
			name:       "rate limited",
			err:        apperrors.RateLimited(1500 * time.Millisecond),
			status:     http.StatusTooManyRequests,
			code:       "RATE_LIMITED",
			retryAfter: "2",
			check: func(t *testing.T, body map[string]any) {
				assert.EqualValues(t, 2, body["retryAfterSeconds"])
			},
		},
		{
			name:   "start failure keeps its code",
			err:    apperrors.Internal(apperrors.CodeGenerationStartFailed, "failed to start generation", assert.AnError),
			status: http.StatusInternalServerError,
			code:   "GENERATION_START_FAILED",
		},
		{
			name:   "plumbing error is hidden",
			err:    assert.AnError,
			status: http.StatusInternalServerError,
			code:   "INTERNAL",
			check: func(t *testing.T, body map[string]any) {
				assert.Equal(t, "internal error", body["message"])
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, gens, _ := newTestServer(t)
			gens.createErr = tt.err

			rec := do(t, s, http.MethodPost, "/v1/generations", `{"selfieIds":["s1"],"packageId":"p"}`, "u1")
			assert.Equal(t, tt.status, rec.Code)
			body := decodeBody(t, rec)
			assert.Equal(t, tt.code, body["error"])
			assert.Equal(t, tt.retryAfter, rec.Header().Get("Retry-After"))
			if tt.check != nil {
				tt.check(t, body)
			}
		})
	}
}

func TestRegenerate(t *testing.T) {
	s, _, regen := newTestServer(t)

	rec := do(t, s, http.MethodPost, "/v1/generations/g1/regenerate", "", "u1")
	require.Equal(t, http.StatusAccepted, rec.Code)
	out := decodeBody(t, rec)
	assert.Equal(t, "r1", out["generationId"])
	assert.EqualValues(t, 0, out["remainingRegenerations"])
	assert.Empty(t, regen.asserted)

	rec = do(t, s, http.MethodPost, "/v1/generations/g1/regenerate", `{"creditSource":"individual"}`, "u1")
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, models.CreditSourceIndividual, regen.asserted)

	regen.err = apperrors.RegenerationLimitReached(2)
	rec = do(t, s, http.MethodPost, "/v1/generations/g1/regenerate", "", "u1")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "REGENERATION_LIMIT_REACHED", decodeBody(t, rec)["error"])
}

func TestReadSide(t *testing.T) {
	s, gens, _ := newTestServer(t)

	rec := do(t, s, http.MethodGet, "/v1/generations/g1/status", "", "u1")
	require.Equal(t, http.StatusOK, rec.Code)
	out := decodeBody(t, rec)
	assert.Equal(t, "processing", out["status"])
	assert.EqualValues(t, 40, out["progress"])

	rec = do(t, s, http.MethodGet, "/v1/generations/nope/status", "", "u1")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, s, http.MethodGet, "/v1/generations/g1/cost", "", "u1")
	require.Equal(t, http.StatusOK, rec.Code)
	out = decodeBody(t, rec)
	assert.EqualValues(t, 5, out["creditsUsed"])
	assert.InDelta(t, 0.042, out["actualCost"], 1e-9)

	rec = do(t, s, http.MethodGet, "/v1/generations?limit=5&offset=10", "", "u1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, gens.listLimit)
	assert.Equal(t, 10, gens.listOffset)
	list := decodeBody(t, rec)["generations"].([]any)
	require.Len(t, list, 1)

	rec = do(t, s, http.MethodGet, "/v1/generations?limit=abc", "", "u1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAcceptAndDelete(t *testing.T) {
	s, gens, _ := newTestServer(t)

	rec := do(t, s, http.MethodPost, "/v1/generations/g1/accept", `{"key":"out/1.png"}`, "u1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "out/1.png", decodeBody(t, rec)["acceptedKey"])

	rec = do(t, s, http.MethodPost, "/v1/generations/g1/accept", `{"key":"other.png"}`, "u1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "key", decodeBody(t, rec)["field"])

	rec = do(t, s, http.MethodPost, "/v1/generations/g1/accept", `{}`, "u1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodDelete, "/v1/generations/g1", "", "u1")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "g1", gens.deleted)
}
