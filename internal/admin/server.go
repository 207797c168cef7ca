package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/digkill/photogen/internal/apperrors"
	"github.com/digkill/photogen/internal/metrics"
	"github.com/digkill/photogen/internal/models"
	"github.com/digkill/photogen/internal/service"
)

type Server struct {
	addr         string
	username     string
	password     string
	log          *slog.Logger
	accounts     *service.AccountService
	credits      *service.CreditLedger
	entitlements *service.EntitlementResolver
	styles       *service.StyleResolver
	reconciler   *service.Reconciler
	router       *chi.Mux
}

func NewServer(addr, username, password string, log *slog.Logger, accounts *service.AccountService, credits *service.CreditLedger, entitlements *service.EntitlementResolver, styles *service.StyleResolver, reconciler *service.Reconciler) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	s := &Server{
		addr:         addr,
		username:     username,
		password:     password,
		log:          log,
		accounts:     accounts,
		credits:      credits,
		entitlements: entitlements,
		styles:       styles,
		reconciler:   reconciler,
		router:       r,
	}
	r.Handle("/metrics", metrics.Handler())
	r.Group(func(protected chi.Router) {
		protected.Use(s.basicAuthMiddleware())
		protected.Post("/reconcile", s.handleReconcile)
		protected.Route("/teams", func(r chi.Router) {
			r.Post("/", s.handleCreateTeam)
			r.Post("/{id}/invites", s.handleCreateInvite)
			r.Post("/{id}/credits", s.handleGrantTeam)
		})
		protected.Route("/persons", func(r chi.Router) {
			r.Post("/", s.handleCreatePerson)
			r.Post("/{id}/credits", s.handleGrantPerson)
			r.Get("/{id}/transactions", s.handleListTransactions)
			r.Post("/{id}/selfies", s.handleAddSelfie)
		})
		protected.Post("/packages", s.handleCreatePackage)
		protected.Post("/users/{userID}/packages", s.handleGrantPackage)
		protected.Put("/subscriptions/{userID}", s.handleSyncSubscription)
		protected.Post("/contexts", s.handleCreateContext)
		protected.Get("/settings/free-package-style", s.handleGetFreeStyle)
		protected.Put("/settings/free-package-style", s.handlePutFreeStyle)
		protected.Put("/generations/{id}/cost", s.handleRecordCost)
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
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error("admin shutdown error", "err", err)
		}
	}()

	s.log.Info("admin panel listening", "addr", s.addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("admin listen: %w", err)
	}
	return nil
}

type teamRequest struct {
	Name        string `json:"name"`
	AdminUserID string `json:"admin_user_id"`
}

func (s *Server) handleCreateTeam(w http.ResponseWriter, r *http.Request) {
	var req teamRequest
	if !s.decode(w, r, &req) {
		return
	}
	team, err := s.accounts.CreateTeam(r.Context(), req.Name, req.AdminUserID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, team)
}

type inviteRequest struct {
	ContextID        string `json:"context_id"`
	CreditAllocation int    `json:"credit_allocation"`
}

func (s *Server) handleCreateInvite(w http.ResponseWriter, r *http.Request) {
	var req inviteRequest
	if !s.decode(w, r, &req) {
		return
	}
	inv, err := s.accounts.CreateInvite(r.Context(), chi.URLParam(r, "id"), req.ContextID, req.CreditAllocation)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, inv)
}

type grantRequest struct {
	Amount int `json:"amount"`
}

func (s *Server) handleGrantTeam(w http.ResponseWriter, r *http.Request) {
	s.grant(w, r, models.CreditSourceTeam)
}

func (s *Server) handleGrantPerson(w http.ResponseWriter, r *http.Request) {
	s.grant(w, r, models.CreditSourceIndividual)
}

func (s *Server) grant(w http.ResponseWriter, r *http.Request, source models.CreditSource) {
	var req grantRequest
	if !s.decode(w, r, &req) {
		return
	}
	id := chi.URLParam(r, "id")
	balance, err := s.credits.Grant(r.Context(), source, id, req.Amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.log.Info("credits granted", "pool", source, "id", id, "amount", req.Amount, "balance", balance)
	s.writeJSON(w, http.StatusOK, map[string]any{"balance": balance})
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	txs, err := s.credits.ListTransactions(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, txs)
}

type personRequest struct {
	UserID      string `json:"user_id"`
	Name        string `json:"name"`
	InviteToken string `json:"invite_token"`
}

func (s *Server) handleCreatePerson(w http.ResponseWriter, r *http.Request) {
	var req personRequest
	if !s.decode(w, r, &req) {
		return
	}
	person, err := s.accounts.CreatePerson(r.Context(), service.PersonInput{
		UserID:      req.UserID,
		Name:        req.Name,
		InviteToken: req.InviteToken,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, person)
}

type selfieRequest struct {
	Key string `json:"key"`
}

func (s *Server) handleAddSelfie(w http.ResponseWriter, r *http.Request) {
	var req selfieRequest
	if !s.decode(w, r, &req) {
		return
	}
	selfie, err := s.accounts.AddSelfie(r.Context(), chi.URLParam(r, "id"), req.Key)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, selfie)
}

type packageRequest struct {
	ID                string          `json:"id"`
	Name              string          `json:"name"`
	VisibleCategories []string        `json:"visible_categories"`
	Defaults          json.RawMessage `json:"defaults"`
}

func (s *Server) handleCreatePackage(w http.ResponseWriter, r *http.Request) {
	var req packageRequest
	if !s.decode(w, r, &req) {
		return
	}
	pkg, err := s.accounts.CreatePackage(r.Context(), req.ID, req.Name, req.VisibleCategories, req.Defaults)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, pkg)
}

type packageGrantRequest struct {
	PackageID string `json:"package_id"`
}

func (s *Server) handleGrantPackage(w http.ResponseWriter, r *http.Request) {
	var req packageGrantRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.accounts.GrantPackage(r.Context(), chi.URLParam(r, "userID"), req.PackageID); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type subscriptionRequest struct {
	Tier   string `json:"tier"`
	Period string `json:"period"`
	Status string `json:"status"`
}

func (s *Server) handleSyncSubscription(w http.ResponseWriter, r *http.Request) {
	var req subscriptionRequest
	if !s.decode(w, r, &req) {
		return
	}
	sub, err := s.entitlements.SyncSubscription(r.Context(), chi.URLParam(r, "userID"), req.Tier, req.Period, models.SubscriptionStatus(req.Status))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sub)
}

type contextRequest struct {
	UserID   string          `json:"user_id"`
	TeamID   string          `json:"team_id"`
	Name     string          `json:"name"`
	Settings json.RawMessage `json:"settings"`
}

func (s *Server) handleCreateContext(w http.ResponseWriter, r *http.Request) {
	var req contextRequest
	if !s.decode(w, r, &req) {
		return
	}
	c, err := s.accounts.CreateContext(r.Context(), req.UserID, req.TeamID, req.Name, req.Settings)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleGetFreeStyle(w http.ResponseWriter, r *http.Request) {
	baseline, err := s.styles.FreePackageBaseline(r.Context())
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, baseline)
}

func (s *Server) handlePutFreeStyle(w http.ResponseWriter, r *http.Request) {
	var raw json.RawMessage
	if !s.decode(w, r, &raw) {
		return
	}
	baseline, err := s.styles.SetFreePackageBaseline(r.Context(), raw)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, baseline)
}

type costRequest struct {
	Provider string  `json:"provider"`
	CostUSD  float64 `json:"cost_usd"`
}

func (s *Server) handleRecordCost(w http.ResponseWriter, r *http.Request) {
	var req costRequest
	if !s.decode(w, r, &req) {
		return
	}
	cost, err := s.accounts.RecordCost(r.Context(), chi.URLParam(r, "id"), req.Provider, req.CostUSD)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, cost)
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	report, err := s.reconciler.RunOnce(r.Context())
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{
		"backfilled":  report.Backfilled,
		"compensated": report.Compensated,
	})
}

func (s *Server) basicAuthMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if !ok || user != s.username || pass != s.password {
				w.Header().Set("WWW-Authenticate", `Basic realm="photogen"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps rejections to their status and logs everything else.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	appErr, ok := apperrors.As(err)
	if !ok || appErr.Kind() == apperrors.KindInternal {
		s.internalError(w, err)
		return
	}
	http.Error(w, appErr.Message, appErr.HTTPStatus())
}

func (s *Server) internalError(w http.ResponseWriter, err error) {
	s.log.Error("admin handler error", "err", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}
