package apperrors_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/photogen/internal/apperrors"
)

func TestInsufficientCreditsCarriesAmounts(t *testing.T) {
	err := apperrors.InsufficientCredits(false, 5, 3)
	assert.Equal(t, apperrors.CodeInsufficientIndividualCredits, err.Code)
	assert.Equal(t, 5, err.Required)
	assert.Equal(t, 3, err.Available)
	assert.Equal(t, apperrors.RemediationBuyCredits, err.Remediation)
	assert.Equal(t, apperrors.KindEconomic, err.Kind())
	assert.Equal(t, http.StatusPaymentRequired, err.HTTPStatus())

	team := apperrors.InsufficientCredits(true, 5, 0)
	assert.Equal(t, apperrors.CodeInsufficientTeamCredits, team.Code)
	assert.Equal(t, apperrors.RemediationAskTeamAdmin, team.Remediation)
}

func TestErrorsIsMatchesByCode(t *testing.T) {
	wrapped := fmt.Errorf("create generation: %w", apperrors.ReservationRaceLost())
	assert.True(t, errors.Is(wrapped, apperrors.ReservationRaceLost()))
	assert.False(t, errors.Is(wrapped, apperrors.Unauthorized("x")))
	assert.True(t, apperrors.HasCode(wrapped, apperrors.CodeReservationRaceLost))
}

func TestCodeOfPlumbingError(t *testing.T) {
	assert.Equal(t, apperrors.CodeInternal, apperrors.CodeOf(errors.New("boom")))
}

func TestInternalHidesCauseFromMessage(t *testing.T) {
	cause := errors.New("dial tcp 10.0.0.1:6379: refused")
	err := apperrors.Internal(apperrors.CodeGenerationStartFailed, "failed to start generation", cause)
	assert.Equal(t, "failed to start generation", err.Message)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, http.StatusInternalServerError, err.HTTPStatus())
}

func TestHTTPStatusMapping(t *testing.T) {
	cases := map[*apperrors.Error]int{
		apperrors.Unauthorized("no"):                                                       http.StatusForbidden,
		apperrors.New(apperrors.CodePackageNotOwned, "no"):                                 http.StatusForbidden,
		apperrors.CreditSourceMismatch("team", "individual"):                               http.StatusConflict,
		apperrors.RegenerationLimitReached(2):                                              http.StatusConflict,
		apperrors.RateLimited(time.Second):                                                 http.StatusTooManyRequests,
		apperrors.NotFound("generation", "g1"):                                             http.StatusNotFound,
		apperrors.Validation(apperrors.CodeDisallowedCategory, "styleOverrides", "hidden"): http.StatusUnprocessableEntity,
		apperrors.Validation(apperrors.CodeInvalidRequest, "packageId", "required"):        http.StatusBadRequest,
	}
	for err, status := range cases {
		assert.Equal(t, status, err.HTTPStatus(), string(err.Code))
	}
}

func TestAs(t *testing.T) {
	e, ok := apperrors.As(fmt.Errorf("wrap: %w", apperrors.NotFound("selfie", "")))
	require.True(t, ok)
	assert.Equal(t, "selfie not found", e.Message)
}
