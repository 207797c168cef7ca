// Package apperrors defines the stable rejection taxonomy returned to callers.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind groups codes by how they propagate.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindAuthorization Kind = "authorization"
	KindEconomic      Kind = "economic"
	KindRateLimited   Kind = "rate_limited"
	KindNotFound      Kind = "not_found"
	KindInternal      Kind = "internal"
)

// Code is a machine-readable error code.
type Code string

const (
	CodeInvalidRequest                Code = "INVALID_REQUEST"
	CodeNoSelfies                     Code = "NO_SELFIES"
	CodeInsufficientSelfies           Code = "INSUFFICIENT_SELFIES"
	CodeSelfieOwnerMismatch           Code = "SELFIE_OWNER_MISMATCH"
	CodeDisallowedCategory            Code = "DISALLOWED_CATEGORY"
	CodeContextNotFound               Code = "CONTEXT_NOT_FOUND"
	CodeUnauthorized                  Code = "UNAUTHORIZED"
	CodePackageNotOwned               Code = "PACKAGE_NOT_OWNED"
	CodeInsufficientIndividualCredits Code = "INSUFFICIENT_INDIVIDUAL_CREDITS"
	CodeInsufficientTeamCredits       Code = "INSUFFICIENT_TEAM_CREDITS"
	CodeCreditSourceMismatch          Code = "CREDIT_SOURCE_MISMATCH"
	CodeReservationRaceLost           Code = "RESERVATION_RACE_LOST"
	CodeRegenerationLimitReached      Code = "REGENERATION_LIMIT_REACHED"
	CodeRateLimited                   Code = "RATE_LIMITED"
	CodeNotFound                      Code = "NOT_FOUND"
	CodePlanMisconfigured             Code = "PLAN_MISCONFIGURED"
	CodeGenerationStartFailed         Code = "GENERATION_START_FAILED"
	CodeInternal                      Code = "INTERNAL"
)

// Remediation pointers shown next to economic rejections.
const (
	RemediationBuyCredits     = "buy more credits at /app/credits"
	RemediationAskTeamAdmin   = "ask your team admin to add team credits"
	RemediationUpgradePlan    = "upgrade your plan for more regenerations"
	RemediationRetryLater     = "retry after the indicated delay"
	RemediationCheckTeamSetup = "generations for team members are paid from the team pool"
)

var kinds = map[Code]Kind{
	CodeInvalidRequest:                KindValidation,
	CodeNoSelfies:                     KindValidation,
	CodeInsufficientSelfies:           KindValidation,
	CodeSelfieOwnerMismatch:           KindValidation,
	CodeDisallowedCategory:            KindValidation,
	CodeContextNotFound:               KindValidation,
	CodeUnauthorized:                  KindAuthorization,
	CodePackageNotOwned:               KindAuthorization,
	CodeInsufficientIndividualCredits: KindEconomic,
	CodeInsufficientTeamCredits:       KindEconomic,
	CodeCreditSourceMismatch:          KindEconomic,
	CodeReservationRaceLost:           KindEconomic,
	CodeRegenerationLimitReached:      KindEconomic,
	CodeRateLimited:                   KindRateLimited,
	CodeNotFound:                      KindNotFound,
	CodePlanMisconfigured:             KindInternal,
	CodeGenerationStartFailed:         KindInternal,
	CodeInternal:                      KindInternal,
}

// KindOf returns the propagation kind of a code.
func KindOf(code Code) Kind {
	if k, ok := kinds[code]; ok {
		return k
	}
	return KindInternal
}

// Error is a structured rejection. Err carries the internal cause and is never
// shown to callers.
type Error struct {
	Code        Code
	Message     string
	Field       string
	Remediation string
	Required    int
	Available   int
	RetryAfter  time.Duration
	Err         error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Kind returns the propagation kind.
func (e *Error) Kind() Kind {
	return KindOf(e.Code)
}

// Is matches two Errors by code so errors.Is works against the constructors.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return other.Code == e.Code
	}
	return false
}

// HTTPStatus maps the rejection to a transport status.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case CodeCreditSourceMismatch, CodeRegenerationLimitReached:
		return http.StatusConflict
	case CodeDisallowedCategory, CodeInsufficientSelfies, CodeNoSelfies, CodeSelfieOwnerMismatch:
		return http.StatusUnprocessableEntity
	}
	switch e.Kind() {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthorization:
		return http.StatusForbidden
	case KindEconomic:
		return http.StatusPaymentRequired
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Validation(code Code, field, message string) *Error {
	return &Error{Code: code, Field: field, Message: message}
}

func Unauthorized(message string) *Error {
	return &Error{Code: CodeUnauthorized, Message: message}
}

func NotFound(resource, id string) *Error {
	if id == "" {
		return &Error{Code: CodeNotFound, Message: resource + " not found"}
	}
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf("%s %q not found", resource, id)}
}

// InsufficientCredits builds the pool-specific economic rejection.
func InsufficientCredits(team bool, required, available int) *Error {
	if team {
		return &Error{
			Code:        CodeInsufficientTeamCredits,
			Message:     fmt.Sprintf("team credits are insufficient: %d required, %d available", required, available),
			Remediation: RemediationAskTeamAdmin,
			Required:    required,
			Available:   available,
		}
	}
	return &Error{
		Code:        CodeInsufficientIndividualCredits,
		Message:     fmt.Sprintf("credits are insufficient: %d required, %d available", required, available),
		Remediation: RemediationBuyCredits,
		Required:    required,
		Available:   available,
	}
}

func CreditSourceMismatch(asserted, derived string) *Error {
	return &Error{
		Code:        CodeCreditSourceMismatch,
		Message:     fmt.Sprintf("credit source %q does not match the %q pool for this person", asserted, derived),
		Field:       "creditSource",
		Remediation: RemediationCheckTeamSetup,
	}
}

func ReservationRaceLost() *Error {
	return &Error{Code: CodeReservationRaceLost, Message: "credit balance changed while reserving"}
}

func RegenerationLimitReached(max int) *Error {
	return &Error{
		Code:        CodeRegenerationLimitReached,
		Message:     fmt.Sprintf("all %d regenerations for this generation have been used", max),
		Remediation: RemediationUpgradePlan,
	}
}

func RateLimited(retryAfter time.Duration) *Error {
	return &Error{
		Code:        CodeRateLimited,
		Message:     "too many generation requests",
		Remediation: RemediationRetryLater,
		RetryAfter:  retryAfter,
	}
}

func Internal(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Err: cause}
}

// As extracts an *Error from a chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// CodeOf returns the code of err, or CodeInternal for plumbing errors.
func CodeOf(err error) Code {
	if e, ok := As(err); ok {
		return e.Code
	}
	return CodeInternal
}

// HasCode reports whether err carries code.
func HasCode(err error, code Code) bool {
	e, ok := As(err)
	return ok && e.Code == code
}
