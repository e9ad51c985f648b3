package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/digkill/TGSubscriptionBot/internal/models"
	"github.com/digkill/TGSubscriptionBot/internal/repository"
	"github.com/digkill/TGSubscriptionBot/internal/scheduler"
)

// RenewalService backs the scheduler: it claims due subscriptions from the
// database and charges saved payment methods through the payment service.
type RenewalService struct {
	log        *slog.Logger
	users      *repository.UserRepository
	plans      *repository.PlanRepository
	subs       *repository.SubscriptionRepository
	payments   *repository.PaymentRepository
	paymentSvc *PaymentService
	leadWindow time.Duration
}

func NewRenewalService(
	log *slog.Logger,
	users *repository.UserRepository,
	plans *repository.PlanRepository,
	subs *repository.SubscriptionRepository,
	payments *repository.PaymentRepository,
	paymentSvc *PaymentService,
	leadWindow time.Duration,
) *RenewalService {
	return &RenewalService{
		log:        log,
		users:      users,
		plans:      plans,
		subs:       subs,
		payments:   payments,
		paymentSvc: paymentSvc,
		leadWindow: leadWindow,
	}
}

// DueForRenewal claims due subscriptions under row locks and bundles them
// with plan, saved-method and attempt-count context. The claim transaction
// keeps parallel workers from picking the same rows; attempt counting covers
// the gap after the locks release, since a pending renewal payment counts as
// an attempt.
func (s *RenewalService) DueForRenewal(ctx context.Context, cutoff time.Time, limit int) ([]scheduler.Candidate, error) {
	tx, err := s.subs.DB().BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	subs, err := s.subs.DueForRenewal(ctx, tx, cutoff, limit)
	if err != nil {
		return nil, err
	}

	candidates := make([]scheduler.Candidate, 0, len(subs))
	for _, sub := range subs {
		plan, err := s.plans.GetByID(ctx, sub.PlanID)
		if err != nil {
			return nil, fmt.Errorf("get plan: %w", err)
		}
		if plan == nil {
			s.log.Error("subscription references missing plan", "subscription", sub.ID, "plan", sub.PlanID)
			continue
		}
		user, err := s.users.GetByID(ctx, sub.UserID)
		if err != nil {
			return nil, fmt.Errorf("get user: %w", err)
		}
		if user == nil {
			continue
		}

		attempts := 0
		if sub.EndDate != nil {
			attempts, err = s.payments.CountForSubscriptionSince(ctx, tx, sub.ID, sub.EndDate.Add(-s.leadWindow))
			if err != nil {
				return nil, err
			}
		}

		candidates = append(candidates, scheduler.Candidate{
			Subscription:   sub,
			Plan:           *plan,
			UserExternalID: user.ExternalID,
			HasSavedMethod: user.HasSavedMethod(),
			Attempts:       attempts,
		})
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim tx: %w", err)
	}
	return candidates, nil
}

// Renew extends the subscription period after a successful recurring charge.
func (s *RenewalService) Renew(ctx context.Context, subscriptionID int64, newEnd time.Time, paymentID int64) error {
	return s.subs.Renew(ctx, s.subs.DB(), subscriptionID, newEnd, paymentID)
}

// Expire transitions a run-out subscription to expired.
func (s *RenewalService) Expire(ctx context.Context, subscriptionID int64) error {
	return s.subs.Expire(ctx, s.subs.DB(), subscriptionID)
}

// ChargeSaved charges the plan price against the user's saved method for a
// renewal. The payment rides the normal initiate path so rejection and
// idempotency handling stay in one place.
func (s *RenewalService) ChargeSaved(ctx context.Context, c scheduler.Candidate) (scheduler.Outcome, error) {
	subID := c.Subscription.ID
	payment, err := s.paymentSvc.Initiate(
		ctx,
		c.Subscription.UserID,
		c.Plan.PriceMinorUnits,
		c.Plan.Currency,
		&subID,
		true,
		fmt.Sprintf("Продление: %s", c.Plan.Name),
	)
	if err != nil {
		var paymentID int64
		if payment != nil {
			paymentID = payment.ID
		}
		return scheduler.Outcome{PaymentID: paymentID}, err
	}
	return scheduler.Outcome{
		PaymentID: payment.ID,
		Renewed:   payment.Status == models.PaymentSucceeded,
	}, nil
}
