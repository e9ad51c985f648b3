package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/digkill/TGSubscriptionBot/internal/config"
	"github.com/digkill/TGSubscriptionBot/internal/gateway"
	"github.com/digkill/TGSubscriptionBot/internal/models"
	"github.com/digkill/TGSubscriptionBot/internal/service"
)

// Reconciler resolves a payment against the gateway by external id.
type Reconciler interface {
	Reconcile(ctx context.Context, externalID string) error
}

type Server struct {
	cfg        config.Config
	log        *slog.Logger
	users      *service.UserService
	subs       *service.SubscriptionService
	payments   *service.PaymentService
	promos     *service.PromoService
	reconciler Reconciler
	router     *chi.Mux
}

func NewServer(
	cfg config.Config,
	log *slog.Logger,
	users *service.UserService,
	subs *service.SubscriptionService,
	payments *service.PaymentService,
	promos *service.PromoService,
	reconciler Reconciler,
) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	s := &Server{
		cfg:        cfg,
		log:        log,
		users:      users,
		subs:       subs,
		payments:   payments,
		promos:     promos,
		reconciler: reconciler,
		router:     r,
	}

	r.Post("/webhook/yookassa", s.handleGatewayWebhook)

	r.Route("/api", func(r chi.Router) {
		r.Post("/users/ensure", s.handleEnsureUser)
		r.Get("/plans", s.handleListPlans)
		r.Post("/subscriptions", s.handleCreateSubscription)
		r.Get("/subscriptions/{id}", s.handleGetSubscription)
		r.Post("/subscriptions/trial", s.handleCreateTrial)
		r.Post("/subscriptions/{id}/cancel", s.handleCancelSubscription)
		r.Post("/payments/confirm", s.handleConfirmPayment)
		r.Get("/payments/{id}", s.handleGetPayment)
		r.Post("/payments/{id}/refund", s.handleRefund)
		r.Post("/promo/apply", s.handleApplyPromo)
		r.Get("/users/{id}", s.handleGetUser)
		r.Get("/users/{id}/subscription", s.handleUserSubscription)
		r.Get("/users/{id}/payments", s.handleUserPayments)
	})

	r.Group(func(admin chi.Router) {
		admin.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.adminOrigins(),
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			AllowCredentials: true,
		}))
		admin.Use(s.basicAuthMiddleware())
		admin.Route("/admin", func(r chi.Router) {
			r.Get("/promo-codes", s.handleListPromos)
			r.Post("/promo-codes", s.handleCreatePromo)
			r.Put("/promo-codes/{id}/active", s.handleSetPromoActive)
			r.Delete("/promo-codes/{id}", s.handleDeletePromo)
			r.Get("/promo-codes/{id}/usages", s.handlePromoUsages)
			r.Get("/plans", s.handleAdminPlans)
			r.Get("/auto-payments", s.handleAutoPayments)
			r.Get("/subscriptions", s.handleListSubscriptions)
			r.Post("/subscriptions/{id}/extend", s.handleExtendSubscription)
		})
	})

	return s
}

func (s *Server) adminOrigins() []string {
	if len(s.cfg.AdminCORSHosts) > 0 {
		return s.cfg.AdminCORSHosts
	}
	return []string{"*"}
}

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error("api shutdown error", "err", err)
		}
	}()

	s.log.Info("billing api listening", "addr", s.cfg.ListenAddr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api listen: %w", err)
	}
	return nil
}

func (s *Server) Handler() http.Handler {
	return s.router
}

type ensureUserRequest struct {
	ExternalID string `json:"external_id"`
}

func (s *Server) handleEnsureUser(w http.ResponseWriter, r *http.Request) {
	var req ensureUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.ExternalID) == "" {
		http.Error(w, "external_id required", http.StatusBadRequest)
		return
	}
	user, created, err := s.users.Ensure(r.Context(), req.ExternalID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	s.writeJSON(w, status, map[string]any{
		"user_id":          user.ID,
		"external_id":      user.ExternalID,
		"has_saved_method": user.HasSavedMethod(),
	})
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	user, err := s.users.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"user_id":          user.ID,
		"external_id":      user.ExternalID,
		"has_saved_method": user.HasSavedMethod(),
	})
}

func (s *Server) handleListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := s.subs.Plans(r.Context(), false)
	if err != nil {
		s.internalError(w, err)
		return
	}
	views := make([]map[string]any, 0, len(plans))
	for _, plan := range plans {
		views = append(views, map[string]any{
			"id":            plan.ID,
			"name":          plan.Name,
			"currency":      plan.Currency,
			"price":         plan.PriceMinorUnits,
			"duration_days": plan.DurationDays,
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"plans": views})
}

type createSubscriptionRequest struct {
	UserID    int64  `json:"user_id"`
	PlanID    int64  `json:"plan_id"`
	PromoCode string `json:"promo_code"`
}

func (s *Server) handleCreateSubscription(w http.ResponseWriter, r *http.Request) {
	var req createSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.UserID <= 0 || req.PlanID <= 0 {
		http.Error(w, "user_id and plan_id required", http.StatusBadRequest)
		return
	}
	result, err := s.subs.Create(r.Context(), req.UserID, req.PlanID, req.PromoCode)
	if err != nil {
		s.writeError(w, err)
		return
	}

	resp := map[string]any{
		"subscription_id": result.Subscription.ID,
		"status":          result.Subscription.Status,
	}
	if result.Payment != nil {
		resp["payment_id"] = result.Payment.ID
		resp["amount"] = result.Payment.Amount
		resp["currency"] = result.Payment.Currency
		resp["payment_status"] = result.Payment.Status
	}
	if result.RedirectURL != "" {
		resp["redirect_url"] = result.RedirectURL
	}
	if result.Subscription.EndDate != nil {
		resp["end_date"] = result.Subscription.EndDate
	}
	s.writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleGetSubscription(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	sub, err := s.subs.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"id":         sub.ID,
		"user_id":    sub.UserID,
		"plan_id":    sub.PlanID,
		"status":     sub.Status,
		"start_date": sub.StartDate,
		"end_date":   sub.EndDate,
		"auto_renew": sub.AutoRenew,
	})
}

type createTrialRequest struct {
	UserID int64 `json:"user_id"`
	PlanID int64 `json:"plan_id"`
	Days   int   `json:"days"`
}

func (s *Server) handleCreateTrial(w http.ResponseWriter, r *http.Request) {
	var req createTrialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.UserID <= 0 || req.PlanID <= 0 {
		http.Error(w, "user_id and plan_id required", http.StatusBadRequest)
		return
	}
	days := req.Days
	if days <= 0 {
		days = s.cfg.TrialDays
	}
	sub, err := s.subs.CreateTrial(r.Context(), req.UserID, req.PlanID, days)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{
		"subscription_id": sub.ID,
		"payment_id":      nil,
		"status":          sub.Status,
		"end_date":        sub.EndDate,
		"message":         fmt.Sprintf("trial active for %d days", days),
	})
}

type cancelRequest struct {
	AtPeriodEnd *bool `json:"at_period_end"`
}

func (s *Server) handleCancelSubscription(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	var req cancelRequest
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	atPeriodEnd := true
	if req.AtPeriodEnd != nil {
		atPeriodEnd = *req.AtPeriodEnd
	}
	sub, err := s.subs.Cancel(r.Context(), id, atPeriodEnd)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"subscription_id": sub.ID,
		"status":          sub.Status,
		"auto_renew":      sub.AutoRenew,
		"end_date":        sub.EndDate,
	})
}

type confirmPaymentRequest struct {
	ExternalID string `json:"external_id"`
}

func (s *Server) handleConfirmPayment(w http.ResponseWriter, r *http.Request) {
	var req confirmPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.ExternalID == "" {
		http.Error(w, "external_id required", http.StatusBadRequest)
		return
	}
	if err := s.reconciler.Reconcile(r.Context(), req.ExternalID); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGetPayment(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	payment, err := s.payments.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	refunds, err := s.payments.RefundsByPayment(r.Context(), id)
	if err != nil {
		s.internalError(w, err)
		return
	}

	refundViews := make([]map[string]any, 0, len(refunds))
	for _, rf := range refunds {
		refundViews = append(refundViews, map[string]any{
			"id":       rf.ID,
			"amount":   rf.Amount,
			"currency": rf.Currency,
			"status":   rf.Status,
			"reason":   rf.Reason,
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"id":              payment.ID,
		"user_id":         payment.UserID,
		"subscription_id": payment.SubscriptionID,
		"amount":          payment.Amount,
		"currency":        payment.Currency,
		"status":          payment.Status,
		"created_at":      payment.CreatedAt,
		"refunds":         refundViews,
	})
}

type refundRequest struct {
	Amount *int64 `json:"amount"`
	Reason string `json:"reason"`
}

func (s *Server) handleRefund(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	var req refundRequest
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	refund, err := s.payments.Refund(r.Context(), id, req.Amount, req.Reason)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{
		"refund_id": refund.ID,
		"amount":    refund.Amount,
		"currency":  refund.Currency,
		"status":    refund.Status,
	})
}

type applyPromoRequest struct {
	UserID         int64  `json:"user_id"`
	Code           string `json:"code"`
	SubscriptionID *int64 `json:"subscription_id"`
}

func (s *Server) handleApplyPromo(w http.ResponseWriter, r *http.Request) {
	var req applyPromoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.UserID <= 0 || strings.TrimSpace(req.Code) == "" {
		http.Error(w, "user_id and code required", http.StatusBadRequest)
		return
	}
	result, err := s.promos.Apply(r.Context(), req.UserID, req.Code, req.SubscriptionID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"subscription_id": result.SubscriptionID,
		"end_date":        result.EndDate,
		"kind":            result.Effect.Promotion.Kind,
	})
}

func (s *Server) handleUserSubscription(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	sub, err := s.subs.Current(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if sub == nil {
		s.writeJSON(w, http.StatusOK, map[string]any{"subscription": nil})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"subscription": map[string]any{
			"id":         sub.ID,
			"plan_id":    sub.PlanID,
			"status":     sub.Status,
			"start_date": sub.StartDate,
			"end_date":   sub.EndDate,
			"auto_renew": sub.AutoRenew,
		},
	})
}

func (s *Server) handleUserPayments(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	switch r.URL.Query().Get("kind") {
	case "upcoming":
		charges, err := s.payments.Upcoming(r.Context(), id)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]any{"upcoming": charges})
	case "past", "":
		payments, err := s.payments.ListPast(r.Context(), id)
		if err != nil {
			s.writeError(w, err)
			return
		}
		views := make([]map[string]any, 0, len(payments))
		for _, p := range payments {
			views = append(views, map[string]any{
				"id":              p.ID,
				"subscription_id": p.SubscriptionID,
				"amount":          p.Amount,
				"currency":        p.Currency,
				"status":          p.Status,
				"created_at":      p.CreatedAt,
			})
		}
		s.writeJSON(w, http.StatusOK, map[string]any{"payments": views})
	default:
		http.Error(w, "kind must be past or upcoming", http.StatusBadRequest)
	}
}

// handleGatewayWebhook receives YooKassa payment notifications. The handler
// is best-effort: unknown charges are acknowledged so the provider stops
// retrying, transient failures are not.
func (s *Server) handleGatewayWebhook(w http.ResponseWriter, r *http.Request) {
	var evt struct {
		Event  string `json:"event"`
		Object struct {
			ID string `json:"id"`
		} `json:"object"`
	}
	if err := json.NewDecoder(r.Body).Decode(&evt); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if evt.Object.ID == "" {
		http.Error(w, "missing object id", http.StatusBadRequest)
		return
	}

	if err := s.reconciler.Reconcile(r.Context(), evt.Object.ID); err != nil {
		if errors.Is(err, service.ErrNotFound) {
			s.log.Warn("webhook for unknown payment", "external_id", evt.Object.ID)
			w.WriteHeader(http.StatusOK)
			return
		}
		s.log.Error("webhook reconcile", "external_id", evt.Object.ID, "err", err)
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleListPromos(w http.ResponseWriter, r *http.Request) {
	promos, err := s.promos.List(r.Context())
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, promos)
}

type promoRequest struct {
	Code      string    `json:"code"`
	Kind      string    `json:"kind"`
	Value     int64     `json:"value"`
	ValidFrom time.Time `json:"valid_from"`
	ValidTo   time.Time `json:"valid_to"`
	MaxUses   *int64    `json:"max_uses"`
	IsActive  *bool     `json:"is_active"`
}

func (s *Server) handleCreatePromo(w http.ResponseWriter, r *http.Request) {
	var req promoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	isActive := true
	if req.IsActive != nil {
		isActive = *req.IsActive
	}
	promo, err := s.promos.Create(r.Context(), service.CreateInput{
		Code:      req.Code,
		Kind:      models.PromotionKind(req.Kind),
		Value:     req.Value,
		ValidFrom: req.ValidFrom,
		ValidTo:   req.ValidTo,
		MaxUses:   req.MaxUses,
		IsActive:  isActive,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, promo)
}

type setActiveRequest struct {
	Active bool `json:"active"`
}

func (s *Server) handleSetPromoActive(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	var req setActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if err := s.promos.SetActive(r.Context(), id, req.Active); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeletePromo(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	if err := s.promos.Delete(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePromoUsages(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	usages, err := s.promos.Usages(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	views := make([]map[string]any, 0, len(usages))
	for _, u := range usages {
		views = append(views, map[string]any{
			"user_id":         u.UserID,
			"subscription_id": u.SubscriptionID,
			"redeemed_at":     u.CreatedAt,
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"usages": views})
}

func (s *Server) handleAdminPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := s.subs.Plans(r.Context(), true)
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, plans)
}

type extendRequest struct {
	Days int `json:"days"`
}

func (s *Server) handleExtendSubscription(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	var req extendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Days <= 0 {
		http.Error(w, "days must be positive", http.StatusBadRequest)
		return
	}
	sub, err := s.subs.Extend(r.Context(), id, req.Days)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"subscription_id": sub.ID,
		"end_date":        sub.EndDate,
	})
}

func (s *Server) handleAutoPayments(w http.ResponseWriter, r *http.Request) {
	subs, err := s.subs.AutoRenewing(r.Context())
	if err != nil {
		s.internalError(w, err)
		return
	}
	views := make([]map[string]any, 0, len(subs))
	for _, sub := range subs {
		views = append(views, map[string]any{
			"subscription_id": sub.ID,
			"user_id":         sub.UserID,
			"plan_id":         sub.PlanID,
			"status":          sub.Status,
			"next_charge_at":  sub.EndDate,
		})
	}
	s.writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleListSubscriptions(w http.ResponseWriter, r *http.Request) {
	status := models.SubscriptionStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = models.SubscriptionActive
	}
	subs, err := s.subs.ListByStatus(r.Context(), status)
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, subs)
}

func (s *Server) basicAuthMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if !ok || user != s.cfg.AdminUsername || pass != s.cfg.AdminPassword {
				w.Header().Set("WWW-Authenticate", `Basic realm="billing"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps billing errors onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		s.internalError(w, err)
		return
	}
	http.Error(w, err.Error(), status)
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, service.ErrNotFound), errors.Is(err, service.ErrPromoNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrAlreadyActive),
		errors.Is(err, service.ErrConflict),
		errors.Is(err, service.ErrPromoAlreadyUsed),
		errors.Is(err, service.ErrPromoExhausted):
		return http.StatusConflict
	case service.IsPromoError(err), errors.Is(err, service.ErrInvalidState):
		return http.StatusUnprocessableEntity
	case gateway.IsRejected(err):
		return http.StatusPaymentRequired
	case errors.Is(err, gateway.ErrUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) internalError(w http.ResponseWriter, err error) {
	s.log.Error("api handler error", "err", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

// decodeBody decodes an optional JSON body. An empty body leaves the
// destination at its zero value.
func decodeBody(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func parseID(value string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", value)
	}
	return id, nil
}
