// Package api serves the public generation API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/digkill/photogen/internal/apperrors"
	"github.com/digkill/photogen/internal/models"
	"github.com/digkill/photogen/internal/service"
)

// Generations is the generation service as seen by the HTTP layer.
type Generations interface {
	CreateGeneration(ctx context.Context, principal service.Principal, req service.CreateRequest) (*service.CreateResult, error)
	Status(ctx context.Context, principal service.Principal, id string) (*service.StatusView, error)
	Cost(ctx context.Context, principal service.Principal, id string) (*service.CostView, error)
	List(ctx context.Context, principal service.Principal, limit, offset int) ([]models.Generation, error)
	Accept(ctx context.Context, principal service.Principal, id, key string) (*models.Generation, error)
	Delete(ctx context.Context, principal service.Principal, id string) error
}

type Regenerations interface {
	Regenerate(ctx context.Context, principal service.Principal, sourceID string, asserted models.CreditSource) (*service.RegenerateResult, error)
}

type Server struct {
	addr   string
	secret []byte
	log    *slog.Logger
	gens   Generations
	regen  Regenerations
	router *chi.Mux
}

func NewServer(addr string, secret []byte, log *slog.Logger, gens Generations, regen Regenerations) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	s := &Server{
		addr:   addr,
		secret: secret,
		log:    log,
		gens:   gens,
		regen:  regen,
		router: r,
	}
	r.Get("/health", s.handleHealth)
	r.Route("/v1/generations", func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Get("/", s.handleList)
		r.Post("/", s.handleCreate)
		r.Route("/{id}", func(r chi.Router) {
			r.Delete("/", s.handleDelete)
			r.Get("/status", s.handleStatus)
			r.Get("/cost", s.handleCost)
			r.Post("/regenerate", s.handleRegenerate)
			r.Post("/accept", s.handleAccept)
		})
	})
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error("api shutdown error", "err", err)
		}
	}()

	s.log.Info("api listening", "addr", s.addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api listen: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createRequest struct {
	SelfieIDs      []string        `json:"selfieIds"`
	PackageID      string          `json:"packageId"`
	StyleOverrides json.RawMessage `json:"styleOverrides"`
	ContextID      string          `json:"contextId"`
	CreditSource   string          `json:"creditSource"`
	Prompt         string          `json:"prompt"`
}

type createResponse struct {
	GenerationID           string `json:"generationId"`
	JobID                  string `json:"jobId"`
	Status                 string `json:"status"`
	RemainingRegenerations *int   `json:"remainingRegenerations,omitempty"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if !s.decode(w, r, &req) {
		return
	}
	principal, _ := PrincipalFrom(r.Context())
	res, err := s.gens.CreateGeneration(r.Context(), principal, service.CreateRequest{
		SelfieIDs:      req.SelfieIDs,
		PackageID:      req.PackageID,
		StyleOverrides: req.StyleOverrides,
		ContextID:      req.ContextID,
		CreditSource:   models.CreditSource(strings.TrimSpace(req.CreditSource)),
		Prompt:         req.Prompt,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, createResponse{
		GenerationID: res.GenerationID,
		JobID:        res.JobID,
		Status:       string(res.Status),
	})
}

type regenerateRequest struct {
	CreditSource string `json:"creditSource"`
}

func (s *Server) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	var req regenerateRequest
	if r.ContentLength != 0 && !s.decode(w, r, &req) {
		return
	}
	principal, _ := PrincipalFrom(r.Context())
	res, err := s.regen.Regenerate(r.Context(), principal, chi.URLParam(r, "id"), models.CreditSource(strings.TrimSpace(req.CreditSource)))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	remaining := res.RemainingRegenerations
	s.writeJSON(w, http.StatusAccepted, createResponse{
		GenerationID:           res.GenerationID,
		JobID:                  res.JobID,
		Status:                 string(res.Status),
		RemainingRegenerations: &remaining,
	})
}

type statusResponse struct {
	GenerationID string   `json:"generationId"`
	Status       string   `json:"status"`
	Progress     *int     `json:"progress,omitempty"`
	Attempts     *int     `json:"attempts,omitempty"`
	ErrorMessage string   `json:"errorMessage,omitempty"`
	Outputs      []string `json:"outputs,omitempty"`
	AcceptedKey  string   `json:"acceptedKey,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFrom(r.Context())
	view, err := s.gens.Status(r.Context(), principal, chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, statusResponse{
		GenerationID: view.GenerationID,
		Status:       string(view.Status),
		Progress:     view.Progress,
		Attempts:     view.Attempts,
		ErrorMessage: view.ErrorMessage,
		Outputs:      view.Outputs,
		AcceptedKey:  view.AcceptedKey,
	})
}

type costResponse struct {
	GenerationID string   `json:"generationId"`
	CreditsUsed  int      `json:"creditsUsed"`
	Provider     string   `json:"provider"`
	ActualCost   *float64 `json:"actualCost,omitempty"`
}

func (s *Server) handleCost(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFrom(r.Context())
	view, err := s.gens.Cost(r.Context(), principal, chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, costResponse{
		GenerationID: view.GenerationID,
		CreditsUsed:  view.CreditsUsed,
		Provider:     view.Provider,
		ActualCost:   view.ActualCostUSD,
	})
}

type generationResponse struct {
	ID                     string     `json:"id"`
	GroupID                string     `json:"generationGroupId"`
	IsOriginal             bool       `json:"isOriginal"`
	GroupIndex             int        `json:"groupIndex"`
	PackageID              string     `json:"packageId"`
	Status                 string     `json:"status"`
	CreditSource           string     `json:"creditSource"`
	CreditsUsed            int        `json:"creditsUsed"`
	MaxRegenerations       int        `json:"maxRegenerations"`
	RemainingRegenerations int        `json:"remainingRegenerations"`
	GeneratedKeys          []string   `json:"generatedKeys"`
	AcceptedKey            string     `json:"acceptedKey,omitempty"`
	CreatedAt              time.Time  `json:"createdAt"`
	AcceptedAt             *time.Time `json:"acceptedAt,omitempty"`
}

func toGenerationResponse(g models.Generation) generationResponse {
	keys := g.GeneratedKeys
	if keys == nil {
		keys = []string{}
	}
	return generationResponse{
		ID:                     g.ID,
		GroupID:                g.GroupID,
		IsOriginal:             g.IsOriginal,
		GroupIndex:             g.GroupIndex,
		PackageID:              g.PackageID,
		Status:                 string(g.Status),
		CreditSource:           string(g.CreditSource),
		CreditsUsed:            g.CreditsUsed,
		MaxRegenerations:       g.MaxRegenerations,
		RemainingRegenerations: g.RemainingRegenerations,
		GeneratedKeys:          keys,
		AcceptedKey:            g.AcceptedKey,
		CreatedAt:              g.CreatedAt,
		AcceptedAt:             g.AcceptedAt,
	}
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 20)
	if err != nil {
		s.writeError(w, r, apperrors.Validation(apperrors.CodeInvalidRequest, "limit", "limit must be a number"))
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		s.writeError(w, r, apperrors.Validation(apperrors.CodeInvalidRequest, "offset", "offset must be a number"))
		return
	}
	principal, _ := PrincipalFrom(r.Context())
	gens, err := s.gens.List(r.Context(), principal, limit, offset)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]generationResponse, 0, len(gens))
	for _, g := range gens {
		out = append(out, toGenerationResponse(g))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"generations": out})
}

type acceptRequest struct {
	Key string `json:"key"`
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	var req acceptRequest
	if !s.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Key) == "" {
		s.writeError(w, r, apperrors.Validation(apperrors.CodeInvalidRequest, "key", "key is required"))
		return
	}
	principal, _ := PrincipalFrom(r.Context())
	gen, err := s.gens.Accept(r.Context(), principal, chi.URLParam(r, "id"), req.Key)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toGenerationResponse(*gen))
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFrom(r.Context())
	if err := s.gens.Delete(r.Context(), principal, chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type errorBody struct {
	Error       string `json:"error"`
	Message     string `json:"message"`
	Field       string `json:"field,omitempty"`
	Remediation string `json:"remediation,omitempty"`
	Required    *int   `json:"required,omitempty"`
	Available   *int   `json:"available,omitempty"`
	RetryAfter  int    `json:"retryAfterSeconds,omitempty"`
}

// writeError renders a rejection. Plumbing errors and internal-kind
// rejections are logged and reported without detail, except a failed start.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	appErr, ok := apperrors.As(err)
	if !ok || appErr.Kind() == apperrors.KindInternal {
		s.log.Error("api handler error", "path", r.URL.Path, "request_id", middleware.GetReqID(r.Context()), "err", err)
		body := errorBody{Error: string(apperrors.CodeInternal), Message: "internal error"}
		if ok && appErr.Code == apperrors.CodeGenerationStartFailed {
			body = errorBody{Error: string(appErr.Code), Message: appErr.Message}
		}
		s.writeJSON(w, http.StatusInternalServerError, body)
		return
	}

	body := errorBody{
		Error:       string(appErr.Code),
		Message:     appErr.Message,
		Field:       appErr.Field,
		Remediation: appErr.Remediation,
	}
	if appErr.Kind() == apperrors.KindEconomic && (appErr.Required > 0 || appErr.Available > 0) {
		required, available := appErr.Required, appErr.Available
		body.Required = &required
		body.Available = &available
	}
	if appErr.RetryAfter > 0 {
		seconds := int(math.Ceil(appErr.RetryAfter.Seconds()))
		body.RetryAfter = seconds
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
	}
	s.writeJSON(w, appErr.HTTPStatus(), body)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeError(w, r, apperrors.Validation(apperrors.CodeInvalidRequest, "", "invalid json"))
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}
