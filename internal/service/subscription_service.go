package service

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/digkill/TGSubscriptionBot/internal/config"
	"github.com/digkill/TGSubscriptionBot/internal/gateway"
	"github.com/digkill/TGSubscriptionBot/internal/models"
	"github.com/digkill/TGSubscriptionBot/internal/repository"
)

type SubscriptionService struct {
	cfg      config.Config
	log      *slog.Logger
	users    *repository.UserRepository
	plans    *repository.PlanRepository
	subs     *repository.SubscriptionRepository
	payments *repository.PaymentRepository
	promos   *PromoService
	gw       gateway.Gateway
	now      func() time.Time
}

func NewSubscriptionService(
	cfg config.Config,
	log *slog.Logger,
	users *repository.UserRepository,
	plans *repository.PlanRepository,
	subs *repository.SubscriptionRepository,
	payments *repository.PaymentRepository,
	promos *PromoService,
	gw gateway.Gateway,
) *SubscriptionService {
	return &SubscriptionService{
		cfg:      cfg,
		log:      log,
		users:    users,
		plans:    plans,
		subs:     subs,
		payments: payments,
		promos:   promos,
		gw:       gw,
		now:      time.Now,
	}
}

// CreateResult is returned from subscription creation. RedirectURL is empty
// when the charge completed synchronously or no charge was needed.
type CreateResult struct {
	Subscription *models.Subscription
	Payment      *models.Payment
	RedirectURL  string
}

// Plans lists subscription plans. Inactive plans are kept out of the public
// listing but stay visible to the admin panel.
func (s *SubscriptionService) Plans(ctx context.Context, includeInactive bool) ([]models.SubscriptionPlan, error) {
	plans, err := s.plans.List(ctx)
	if err != nil {
		return nil, err
	}
	if includeInactive {
		return plans, nil
	}
	active := plans[:0]
	for _, plan := range plans {
		if plan.IsActive {
			active = append(active, plan)
		}
	}
	return active, nil
}

// Create opens a subscription for the user on the given plan, optionally
// applying a promo code. Trial codes produce a zero-cost trial subscription;
// discount codes reduce the charge; bonus-day codes are rejected because
// there is no current period to extend here.
func (s *SubscriptionService) Create(ctx context.Context, userID, planID int64, promoCode string) (*CreateResult, error) {
	plan, err := s.plans.GetByID(ctx, planID)
	if err != nil {
		return nil, fmt.Errorf("get plan: %w", err)
	}
	if plan == nil {
		return nil, fmt.Errorf("plan %d: %w", planID, ErrNotFound)
	}
	if !plan.IsActive {
		return nil, fmt.Errorf("plan %d inactive: %w", planID, ErrInvalidState)
	}

	var effect *PromoEffect
	if promoCode != "" {
		effect, err = s.promos.Validate(ctx, promoCode, userID, planID)
		if err != nil {
			return nil, err
		}
		if effect.BonusDays > 0 {
			return nil, ErrInvalidState
		}
	}

	if effect != nil && effect.TrialDays > 0 {
		sub, err := s.createTrial(ctx, userID, plan, effect)
		if err != nil {
			return nil, err
		}
		return &CreateResult{Subscription: sub}, nil
	}

	amount := plan.PriceMinorUnits
	if effect != nil {
		amount = max(amount-effect.Discount, 0)
	}

	sub, payment, err := s.openPending(ctx, userID, plan, effect, amount)
	if err != nil {
		return nil, err
	}

	if amount == 0 {
		// Fully discounted; nothing to charge, activate outright.
		if err := s.activateFree(ctx, sub, payment, plan); err != nil {
			return nil, err
		}
		return &CreateResult{Subscription: sub, Payment: payment}, nil
	}

	return s.charge(ctx, userID, plan, sub, payment, amount)
}

// createTrial persists a trial subscription and redeems the trial code in the
// same transaction. No payment is created.
func (s *SubscriptionService) createTrial(ctx context.Context, userID int64, plan *models.SubscriptionPlan, effect *PromoEffect) (*models.Subscription, error) {
	tx, err := s.subs.DB().BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	current, err := s.subs.CurrentByUser(ctx, tx, userID, true)
	if err != nil {
		return nil, err
	}
	if current != nil {
		return nil, ErrAlreadyActive
	}

	now := s.now()
	end := now.AddDate(0, 0, effect.TrialDays)
	promoID := effect.Promotion.ID
	sub := &models.Subscription{
		UserID:      userID,
		PlanID:      plan.ID,
		Status:      models.SubscriptionTrial,
		StartDate:   &now,
		EndDate:     &end,
		AutoRenew:   true,
		PromotionID: &promoID,
	}
	if err := s.subs.Create(ctx, tx, sub); err != nil {
		return nil, err
	}
	if err := s.promos.RedeemInTx(ctx, tx, effect, userID, &sub.ID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit trial tx: %w", err)
	}
	return sub, nil
}

// CreateTrial grants a trial period directly, without a promotion. One trial
// per user lifetime.
func (s *SubscriptionService) CreateTrial(ctx context.Context, userID, planID int64, days int) (*models.Subscription, error) {
	plan, err := s.plans.GetByID(ctx, planID)
	if err != nil {
		return nil, fmt.Errorf("get plan: %w", err)
	}
	if plan == nil {
		return nil, fmt.Errorf("plan %d: %w", planID, ErrNotFound)
	}
	if days <= 0 {
		return nil, fmt.Errorf("trial days must be positive")
	}

	hasHistory, err := s.subs.HasNonPendingHistory(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("check history: %w", err)
	}
	if hasHistory {
		return nil, ErrTrialNotAllowed
	}

	tx, err := s.subs.DB().BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	current, err := s.subs.CurrentByUser(ctx, tx, userID, true)
	if err != nil {
		return nil, err
	}
	if current != nil {
		return nil, ErrAlreadyActive
	}

	now := s.now()
	end := now.AddDate(0, 0, days)
	sub := &models.Subscription{
		UserID:    userID,
		PlanID:    plan.ID,
		Status:    models.SubscriptionTrial,
		StartDate: &now,
		EndDate:   &end,
		AutoRenew: true,
	}
	if err := s.subs.Create(ctx, tx, sub); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit trial tx: %w", err)
	}
	return sub, nil
}

// openPending inserts the pending subscription, its pending payment and the
// discount redemption as one transaction, with both sides of the
// subscription-payment link set.
func (s *SubscriptionService) openPending(ctx context.Context, userID int64, plan *models.SubscriptionPlan, effect *PromoEffect, amount int64) (*models.Subscription, *models.Payment, error) {
	tx, err := s.subs.DB().BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	current, err := s.subs.CurrentByUser(ctx, tx, userID, true)
	if err != nil {
		return nil, nil, err
	}
	if current != nil {
		return nil, nil, ErrAlreadyActive
	}

	sub := &models.Subscription{
		UserID:    userID,
		PlanID:    plan.ID,
		Status:    models.SubscriptionPending,
		AutoRenew: true,
	}
	if effect != nil {
		promoID := effect.Promotion.ID
		sub.PromotionID = &promoID
	}
	if err := s.subs.Create(ctx, tx, sub); err != nil {
		return nil, nil, err
	}

	payment := &models.Payment{
		UserID:         userID,
		SubscriptionID: &sub.ID,
		Amount:         amount,
		Currency:       plan.Currency,
		Status:         models.PaymentPending,
	}
	if err := s.payments.Create(ctx, tx, payment); err != nil {
		return nil, nil, err
	}
	if err := s.subs.SetPayment(ctx, tx, sub.ID, payment.ID); err != nil {
		return nil, nil, err
	}
	sub.PaymentID = &payment.ID

	if effect != nil {
		if err := s.promos.RedeemInTx(ctx, tx, effect, userID, &sub.ID); err != nil {
			return nil, nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit subscription tx: %w", err)
	}
	return sub, payment, nil
}

func (s *SubscriptionService) activateFree(ctx context.Context, sub *models.Subscription, payment *models.Payment, plan *models.SubscriptionPlan) error {
	tx, err := s.subs.DB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := s.now()
	end := now.Add(plan.Duration())
	if err := s.payments.UpdateStatus(ctx, tx, payment.ID, models.PaymentSucceeded); err != nil {
		return err
	}
	if err := s.subs.Activate(ctx, tx, sub.ID, now, end); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit activation tx: %w", err)
	}

	sub.Status = models.SubscriptionActive
	sub.StartDate = &now
	sub.EndDate = &end
	payment.Status = models.PaymentSucceeded
	return nil
}

// charge creates the provider charge for a freshly opened subscription.
func (s *SubscriptionService) charge(ctx context.Context, userID int64, plan *models.SubscriptionPlan, sub *models.Subscription, payment *models.Payment, amount int64) (*CreateResult, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if user == nil {
		return nil, fmt.Errorf("user %d: %w", userID, ErrNotFound)
	}

	req := gateway.ChargeRequest{
		Amount:      amount,
		Currency:    plan.Currency,
		Description: plan.Name,
		SaveMethod:  true,
	}
	if user.HasSavedMethod() {
		req.SavedMethodID = *user.SavedPaymentMethodID
		req.SaveMethod = false
	}

	result, err := s.gw.CreateCharge(ctx, req)
	if err != nil {
		// No provider charge exists, so the pending rows have no external
		// id to reconcile by. Close them out so the user can retry with a
		// fresh subscription instead of hitting the single-current guard.
		if ferr := s.failPending(ctx, payment.ID, sub.ID); ferr != nil {
			s.log.Error("close unchargeable subscription", "payment", payment.ID, "err", ferr)
		}
		return nil, fmt.Errorf("create charge: %w", err)
	}

	tx, err := s.subs.DB().BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var redirect *string
	if result.RedirectURL != "" {
		redirect = &result.RedirectURL
	}
	if err := s.payments.SetExternal(ctx, tx, payment.ID, result.ExternalID, redirect); err != nil {
		return nil, err
	}
	payment.ExternalID = &result.ExternalID
	payment.RedirectURL = redirect

	if result.Status == models.PaymentSucceeded {
		at := s.now()
		if result.PaidAt != nil {
			at = *result.PaidAt
		}
		end := at.Add(plan.Duration())
		if err := s.payments.UpdateStatus(ctx, tx, payment.ID, models.PaymentSucceeded); err != nil {
			return nil, err
		}
		if err := s.subs.Activate(ctx, tx, sub.ID, at, end); err != nil {
			return nil, err
		}
		if result.MethodToken != "" {
			if err := s.users.SaveMethodToken(ctx, tx, userID, result.MethodToken); err != nil {
				return nil, err
			}
		}
		sub.Status = models.SubscriptionActive
		sub.StartDate = &at
		sub.EndDate = &end
		payment.Status = models.PaymentSucceeded
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit charge tx: %w", err)
	}

	return &CreateResult{
		Subscription: sub,
		Payment:      payment,
		RedirectURL:  result.RedirectURL,
	}, nil
}

func (s *SubscriptionService) failPending(ctx context.Context, paymentID, subscriptionID int64) error {
	tx, err := s.subs.DB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := s.payments.UpdateStatus(ctx, tx, paymentID, models.PaymentFailed); err != nil {
		return err
	}
	if err := s.subs.UpdateStatus(ctx, tx, subscriptionID, models.SubscriptionCancelled); err != nil {
		return err
	}
	return tx.Commit()
}

// ConfirmPayment reconciles a local payment with the authoritative gateway
// state. Idempotent: confirming an already succeeded payment is a no-op.
func (s *SubscriptionService) ConfirmPayment(ctx context.Context, externalID string) error {
	status, err := s.gw.ConfirmStatus(ctx, externalID)
	if err != nil {
		return fmt.Errorf("confirm status: %w", err)
	}

	tx, err := s.subs.DB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	payment, err := s.payments.FindByExternalID(ctx, tx, externalID, true)
	if err != nil {
		return err
	}
	if payment == nil {
		return fmt.Errorf("payment %s: %w", externalID, ErrNotFound)
	}
	if payment.Status.IsTerminal() {
		return nil
	}

	switch status.Status {
	case models.PaymentSucceeded:
		if err := s.payments.UpdateStatus(ctx, tx, payment.ID, models.PaymentSucceeded); err != nil {
			return err
		}
		at := s.now()
		if status.PaidAt != nil {
			at = *status.PaidAt
		}
		if payment.SubscriptionID != nil {
			if err := s.settleSubscription(ctx, tx, *payment.SubscriptionID, payment.ID, at); err != nil {
				return err
			}
		}
		if status.MethodToken != "" {
			if err := s.users.SaveMethodToken(ctx, tx, payment.UserID, status.MethodToken); err != nil {
				return err
			}
		}
	case models.PaymentFailed:
		if err := s.payments.UpdateStatus(ctx, tx, payment.ID, models.PaymentFailed); err != nil {
			return err
		}
		if payment.SubscriptionID != nil {
			sub, err := s.subs.LockByID(ctx, tx, *payment.SubscriptionID)
			if err != nil {
				return err
			}
			if sub != nil && sub.Status == models.SubscriptionPending {
				if err := s.subs.UpdateStatus(ctx, tx, sub.ID, models.SubscriptionCancelled); err != nil {
					return err
				}
			}
		}
	default:
		// Still pending on the provider side; nothing to record.
		return nil
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit confirm tx: %w", err)
	}
	return nil
}

// settleSubscription applies a succeeded payment to its subscription: a
// pending subscription activates, a running one renews anchored to its old
// end date.
func (s *SubscriptionService) settleSubscription(ctx context.Context, tx *sql.Tx, subscriptionID, paymentID int64, at time.Time) error {
	sub, err := s.subs.LockByID(ctx, tx, subscriptionID)
	if err != nil {
		return err
	}
	if sub == nil {
		return nil
	}

	plan, err := s.plans.GetByID(ctx, sub.PlanID)
	if err != nil {
		return fmt.Errorf("get plan: %w", err)
	}
	if plan == nil {
		return fmt.Errorf("plan %d: %w", sub.PlanID, ErrNotFound)
	}

	switch {
	case sub.Status == models.SubscriptionPending:
		return s.subs.Activate(ctx, tx, sub.ID, at, at.Add(plan.Duration()))
	case sub.Status.IsRunning() && sub.EndDate != nil:
		// Late-confirmed renewal; anchor to the old end date, not to now.
		return s.subs.Renew(ctx, tx, sub.ID, sub.EndDate.Add(plan.Duration()), paymentID)
	}
	return nil
}

// Cancel turns auto-renew off; with atPeriodEnd=false the subscription is
// cancelled immediately. No refund is issued either way.
func (s *SubscriptionService) Cancel(ctx context.Context, subscriptionID int64, atPeriodEnd bool) (*models.Subscription, error) {
	tx, err := s.subs.DB().BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	sub, err := s.subs.LockByID(ctx, tx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, fmt.Errorf("subscription %d: %w", subscriptionID, ErrNotFound)
	}
	if !sub.Status.IsRunning() {
		return nil, ErrInvalidState
	}

	if err := s.subs.SetAutoRenew(ctx, tx, sub.ID, false); err != nil {
		return nil, err
	}
	sub.AutoRenew = false
	if !atPeriodEnd {
		if err := s.subs.UpdateStatus(ctx, tx, sub.ID, models.SubscriptionCancelled); err != nil {
			return nil, err
		}
		sub.Status = models.SubscriptionCancelled
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit cancel tx: %w", err)
	}
	return sub, nil
}

// Extend pushes the end date of a running subscription by days.
func (s *SubscriptionService) Extend(ctx context.Context, subscriptionID int64, days int) (*models.Subscription, error) {
	if days <= 0 {
		return nil, fmt.Errorf("days must be positive")
	}

	tx, err := s.subs.DB().BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	sub, err := s.subs.LockByID(ctx, tx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, fmt.Errorf("subscription %d: %w", subscriptionID, ErrNotFound)
	}
	if !sub.Status.IsRunning() || sub.EndDate == nil {
		return nil, ErrInvalidState
	}

	newEnd := sub.EndDate.AddDate(0, 0, days)
	if err := s.subs.ExtendEnd(ctx, tx, sub.ID, newEnd); err != nil {
		return nil, err
	}
	sub.EndDate = &newEnd

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit extend tx: %w", err)
	}
	return sub, nil
}

// Current returns the user's active or trial subscription, or nil.
func (s *SubscriptionService) Current(ctx context.Context, userID int64) (*models.Subscription, error) {
	sub, err := s.subs.CurrentByUser(ctx, s.subs.DB(), userID, false)
	if err != nil {
		return nil, err
	}
	if sub == nil || sub.Status == models.SubscriptionPending {
		return nil, nil
	}
	return sub, nil
}

func (s *SubscriptionService) Get(ctx context.Context, id int64) (*models.Subscription, error) {
	sub, err := s.subs.GetByID(ctx, s.subs.DB(), id)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, fmt.Errorf("subscription %d: %w", id, ErrNotFound)
	}
	return sub, nil
}

// AutoRenewing lists running subscriptions that will be charged at their
// period end, for the admin auto-payments view.
func (s *SubscriptionService) AutoRenewing(ctx context.Context) ([]models.Subscription, error) {
	var out []models.Subscription
	for _, status := range []models.SubscriptionStatus{models.SubscriptionActive, models.SubscriptionTrial} {
		subs, err := s.subs.ListByStatus(ctx, status)
		if err != nil {
			return nil, err
		}
		for _, sub := range subs {
			if sub.AutoRenew {
				out = append(out, sub)
			}
		}
	}
	return out, nil
}

func (s *SubscriptionService) ListByStatus(ctx context.Context, status models.SubscriptionStatus) ([]models.Subscription, error) {
	return s.subs.ListByStatus(ctx, status)
}
