package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/digkill/TGSubscriptionBot/internal/gateway"
	"github.com/digkill/TGSubscriptionBot/internal/models"
	"github.com/digkill/TGSubscriptionBot/internal/repository"
)

type PaymentService struct {
	log      *slog.Logger
	payments *repository.PaymentRepository
	refunds  *repository.RefundRepository
	users    *repository.UserRepository
	plans    *repository.PlanRepository
	subs     *repository.SubscriptionRepository
	subsSvc  *SubscriptionService
	gw       gateway.Gateway
}

func NewPaymentService(
	log *slog.Logger,
	payments *repository.PaymentRepository,
	refunds *repository.RefundRepository,
	users *repository.UserRepository,
	plans *repository.PlanRepository,
	subs *repository.SubscriptionRepository,
	subsSvc *SubscriptionService,
	gw gateway.Gateway,
) *PaymentService {
	return &PaymentService{
		log:      log,
		payments: payments,
		refunds:  refunds,
		users:    users,
		plans:    plans,
		subs:     subs,
		subsSvc:  subsSvc,
		gw:       gw,
	}
}

// Initiate creates a pending payment row and a provider charge for it.
// On a transient gateway failure the row stays pending and the error is
// retryable; on a terminal rejection the row is marked failed.
func (s *PaymentService) Initiate(ctx context.Context, userID, amount int64, currency string, subscriptionID *int64, useSavedMethod bool, description string) (*models.Payment, error) {
	req := gateway.ChargeRequest{
		Amount:      amount,
		Currency:    currency,
		Description: description,
		SaveMethod:  !useSavedMethod,
	}
	if useSavedMethod {
		user, err := s.users.GetByID(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("get user: %w", err)
		}
		if user == nil {
			return nil, fmt.Errorf("user %d: %w", userID, ErrNotFound)
		}
		if !user.HasSavedMethod() {
			return nil, fmt.Errorf("no saved payment method: %w", ErrInvalidState)
		}
		req.SavedMethodID = *user.SavedPaymentMethodID
	}

	payment := &models.Payment{
		UserID:         userID,
		SubscriptionID: subscriptionID,
		Amount:         amount,
		Currency:       currency,
		Status:         models.PaymentPending,
	}
	if err := s.payments.Create(ctx, s.payments.DB(), payment); err != nil {
		return nil, err
	}

	result, err := s.gw.CreateCharge(ctx, req)
	switch {
	case errors.Is(err, gateway.ErrUnavailable):
		return payment, fmt.Errorf("create charge: %w", err)
	case gateway.IsRejected(err):
		if uerr := s.payments.UpdateStatus(ctx, s.payments.DB(), payment.ID, models.PaymentFailed); uerr != nil {
			s.log.Error("mark payment failed", "payment", payment.ID, "err", uerr)
		}
		payment.Status = models.PaymentFailed
		return payment, fmt.Errorf("create charge: %w", err)
	case err != nil:
		return payment, fmt.Errorf("create charge: %w", err)
	}

	var redirect *string
	if result.RedirectURL != "" {
		redirect = &result.RedirectURL
	}
	if err := s.payments.SetExternal(ctx, s.payments.DB(), payment.ID, result.ExternalID, redirect); err != nil {
		return nil, err
	}
	payment.ExternalID = &result.ExternalID
	payment.RedirectURL = redirect

	if result.Status == models.PaymentSucceeded {
		// The status transition and the method token land together or not
		// at all, matching the reconcile path.
		tx, err := s.payments.DB().BeginTx(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback()

		if err := s.payments.UpdateStatus(ctx, tx, payment.ID, models.PaymentSucceeded); err != nil {
			return nil, err
		}
		if result.MethodToken != "" {
			if err := s.users.SaveMethodToken(ctx, tx, userID, result.MethodToken); err != nil {
				return nil, err
			}
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit settle tx: %w", err)
		}
		payment.Status = models.PaymentSucceeded
	}
	return payment, nil
}

// Reconcile resolves a payment against the gateway by its external id.
// Subscription transitions ride along; the call is idempotent and safe for
// webhook retries.
func (s *PaymentService) Reconcile(ctx context.Context, externalID string) error {
	return s.subsSvc.ConfirmPayment(ctx, externalID)
}

// Refund issues a partial or full refund of a succeeded payment. A nil
// amount refunds whatever remains. The refund row records the gateway
// outcome either way.
func (s *PaymentService) Refund(ctx context.Context, paymentID int64, amount *int64, reason string) (*models.Refund, error) {
	tx, err := s.payments.DB().BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	payment, err := s.payments.LockByID(ctx, tx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, fmt.Errorf("payment %d: %w", paymentID, ErrNotFound)
	}
	if payment.Status != models.PaymentSucceeded || payment.ExternalID == nil {
		return nil, fmt.Errorf("payment %d not refundable: %w", paymentID, ErrInvalidState)
	}

	reserved, err := s.refunds.ReservedAmount(ctx, tx, paymentID)
	if err != nil {
		return nil, err
	}
	amt, err := refundableAmount(payment.Amount, reserved, amount)
	if err != nil {
		return nil, err
	}

	refund := &models.Refund{
		PaymentID: paymentID,
		Amount:    amt,
		Currency:  payment.Currency,
		Status:    models.RefundPending,
		Reason:    reason,
	}
	if err := s.refunds.Create(ctx, tx, refund); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit refund tx: %w", err)
	}

	result, err := s.gw.Refund(ctx, *payment.ExternalID, amt, payment.Currency, reason)
	switch {
	case errors.Is(err, gateway.ErrUnavailable):
		// Row stays pending; a later retry with the gateway resolves it.
		return refund, fmt.Errorf("gateway refund: %w", err)
	case gateway.IsRejected(err):
		if uerr := s.refunds.SetResult(ctx, refund.ID, nil, models.RefundFailed); uerr != nil {
			s.log.Error("mark refund failed", "refund", refund.ID, "err", uerr)
		}
		refund.Status = models.RefundFailed
		return refund, nil
	case err != nil:
		return refund, fmt.Errorf("gateway refund: %w", err)
	}

	if err := s.refunds.SetResult(ctx, refund.ID, &result.ExternalRefundID, result.Status); err != nil {
		return nil, err
	}
	refund.ExternalRefundID = &result.ExternalRefundID
	refund.Status = result.Status
	return refund, nil
}

// Get returns a single payment by id.
func (s *PaymentService) Get(ctx context.Context, id int64) (*models.Payment, error) {
	payment, err := s.payments.GetByID(ctx, s.payments.DB(), id)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, fmt.Errorf("payment %d: %w", id, ErrNotFound)
	}
	return payment, nil
}

// refundableAmount resolves the refund amount against what the payment still
// holds. reserved covers succeeded refunds plus pending ones that may yet
// land. A nil request refunds the whole remainder.
func refundableAmount(paid, reserved int64, requested *int64) (int64, error) {
	remaining := paid - reserved
	amt := remaining
	if requested != nil {
		amt = *requested
	}
	if amt <= 0 || amt > remaining {
		return 0, fmt.Errorf("refund amount %d exceeds remaining %d: %w", amt, remaining, ErrConflict)
	}
	return amt, nil
}

// ListPast returns the user's payment history, newest first.
func (s *PaymentService) ListPast(ctx context.Context, userID int64) ([]models.Payment, error) {
	return s.payments.ListByUser(ctx, userID)
}

// UpcomingCharge is a derived view of the next recurring charge for a
// subscription; nothing is persisted for it until the scheduler acts.
type UpcomingCharge struct {
	SubscriptionID int64     `json:"subscription_id"`
	PlanID         int64     `json:"plan_id"`
	PlanName       string    `json:"plan_name"`
	Amount         int64     `json:"amount"`
	Currency       string    `json:"currency"`
	DueAt          time.Time `json:"due_at"`
}

// Upcoming derives the next charge for the user's current auto-renewing
// subscription, if any.
func (s *PaymentService) Upcoming(ctx context.Context, userID int64) ([]UpcomingCharge, error) {
	sub, err := s.subs.CurrentByUser(ctx, s.subs.DB(), userID, false)
	if err != nil {
		return nil, err
	}
	if sub == nil || !sub.Status.IsRunning() || !sub.AutoRenew || sub.EndDate == nil {
		return nil, nil
	}
	plan, err := s.plans.GetByID(ctx, sub.PlanID)
	if err != nil {
		return nil, fmt.Errorf("get plan: %w", err)
	}
	if plan == nil {
		return nil, nil
	}
	return []UpcomingCharge{{
		SubscriptionID: sub.ID,
		PlanID:         plan.ID,
		PlanName:       plan.Name,
		Amount:         plan.PriceMinorUnits,
		Currency:       plan.Currency,
		DueAt:          *sub.EndDate,
	}}, nil
}

// RefundsByPayment lists refunds recorded for a payment.
func (s *PaymentService) RefundsByPayment(ctx context.Context, paymentID int64) ([]models.Refund, error) {
	return s.refunds.ListByPayment(ctx, paymentID)
}
