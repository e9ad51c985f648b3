package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/digkill/TGSubscriptionBot/internal/models"
	"github.com/digkill/TGSubscriptionBot/internal/repository"
)

// PromoEffect is the validated outcome of a promo code for a user and plan.
// Exactly one of the effect fields is meaningful, per the promotion kind.
type PromoEffect struct {
	Promotion models.Promotion
	TrialDays int
	BonusDays int
	// Discount is the minor-unit reduction of the next charge.
	Discount int64
}

// ApplyResult describes what a standalone redemption did.
type ApplyResult struct {
	Effect         PromoEffect
	SubscriptionID int64
	EndDate        time.Time
}

type PromoService struct {
	promos *repository.PromoRepository
	subs   *repository.SubscriptionRepository
	plans  *repository.PlanRepository
	now    func() time.Time
}

func NewPromoService(promos *repository.PromoRepository, subs *repository.SubscriptionRepository, plans *repository.PlanRepository) *PromoService {
	return &PromoService{
		promos: promos,
		subs:   subs,
		plans:  plans,
		now:    time.Now,
	}
}

// Validate resolves a code for a user and plan and computes its effect
// without redeeming it.
func (s *PromoService) Validate(ctx context.Context, code string, userID, planID int64) (*PromoEffect, error) {
	promo, err := s.promos.GetByCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("get promo: %w", err)
	}

	var plan *models.SubscriptionPlan
	if promo != nil {
		plan, err = s.plans.GetByID(ctx, planID)
		if err != nil {
			return nil, fmt.Errorf("get plan: %w", err)
		}
		if plan == nil {
			return nil, fmt.Errorf("plan %d: %w", planID, ErrNotFound)
		}
	}

	used := false
	hasHistory := false
	if promo != nil {
		used, err = s.promos.HasUsage(ctx, userID, promo.ID)
		if err != nil {
			return nil, fmt.Errorf("check usage: %w", err)
		}
		if promo.Kind == models.PromoTrial {
			hasHistory, err = s.subs.HasNonPendingHistory(ctx, userID)
			if err != nil {
				return nil, fmt.Errorf("check history: %w", err)
			}
		}
	}

	return evaluatePromo(promo, plan, s.now(), used, hasHistory)
}

// evaluatePromo applies the resolution order over already-loaded state.
// Kept pure so the order and arithmetic are testable without a database.
// plan may be nil when the caller only accepts effects that carry no price.
func evaluatePromo(promo *models.Promotion, plan *models.SubscriptionPlan, now time.Time, used, hasHistory bool) (*PromoEffect, error) {
	if promo == nil {
		return nil, ErrPromoNotFound
	}
	if !promo.IsActive {
		return nil, ErrPromoInactive
	}
	if now.Before(promo.ValidFrom) || now.After(promo.ValidTo) {
		return nil, ErrPromoOutOfWindow
	}
	if promo.Exhausted() {
		return nil, ErrPromoExhausted
	}
	if used {
		return nil, ErrPromoAlreadyUsed
	}

	effect := &PromoEffect{Promotion: *promo}
	switch promo.Kind {
	case models.PromoTrial:
		if hasHistory {
			return nil, ErrTrialNotAllowed
		}
		effect.TrialDays = int(promo.Value)
	case models.PromoBonusDays:
		effect.BonusDays = int(promo.Value)
	case models.PromoPercentDiscount:
		if plan == nil {
			return nil, ErrInvalidState
		}
		effect.Discount = percentDiscount(plan.PriceMinorUnits, promo.Value)
	case models.PromoFixedDiscount:
		if plan == nil {
			return nil, ErrInvalidState
		}
		effect.Discount = min(promo.Value, plan.PriceMinorUnits)
	default:
		return nil, fmt.Errorf("unknown promotion kind %q", promo.Kind)
	}
	return effect, nil
}

// percentDiscount computes price*pct/100 with banker's rounding, capped at
// the full price.
func percentDiscount(price, pct int64) int64 {
	d := roundHalfEven(price*pct, 100)
	return min(d, price)
}

// roundHalfEven divides n by d rounding halves to the nearest even quotient.
// Both arguments must be non-negative.
func roundHalfEven(n, d int64) int64 {
	q := n / d
	r := n % d
	switch {
	case 2*r > d:
		q++
	case 2*r == d && q%2 != 0:
		q++
	}
	return q
}

/// Apply redeems a code outside a purchase: trials create a subscription,
// bonus days extend the user's current subscription, or subscriptionID when
// given. Discount codes bind to a charge and must come through subscription
// creation instead.
func (s *PromoService) Apply(ctx context.Context, userID int64, code string, subscriptionID *int64) (*ApplyResult, error) {
	promo, err := s.promos.GetByCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("get promo: %w", err)
	}

	used := false
	hasHistory := false
	if promo != nil {
		used, err = s.promos.HasUsage(ctx, userID, promo.ID)
		if err != nil {
			return nil, fmt.Errorf("check usage: %w", err)
		}
		if promo.Kind == models.PromoTrial {
			hasHistory, err = s.subs.HasNonPendingHistory(ctx, userID)
			if err != nil {
				return nil, fmt.Errorf("check history: %w", err)
			}
		}
	}

	// Bonus codes carry no price, so no plan is needed to evaluate them.
	effect, err := evaluatePromo(promo, nil, s.now(), used, hasHistory)
	if err != nil {
		return nil, err
	}

	tx, err := s.promos.DB().BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	result := &ApplyResult{Effect: *effect}
	now := s.now()

	switch {
	case effect.TrialDays > 0:
		plan, err := s.plans.GetDefault(ctx)
		if err != nil {
			return nil, fmt.Errorf("get default plan: %w", err)
		}
		if plan == nil {
			return nil, fmt.Errorf("no active plan: %w", ErrNotFound)
		}
		current, err := s.subs.CurrentByUser(ctx, tx, userID, true)
		if err != nil {
			return nil, err
		}
		if current != nil {
			return nil, ErrAlreadyActive
		}
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
		result.SubscriptionID = sub.ID
		result.EndDate = end

	case effect.BonusDays > 0:
		var current *models.Subscription
		if subscriptionID != nil {
			current, err = s.subs.LockByID(ctx, tx, *subscriptionID)
			if err != nil {
				return nil, err
			}
			if current != nil && current.UserID != userID {
				return nil, fmt.Errorf("subscription %d: %w", *subscriptionID, ErrNotFound)
			}
		} else {
			current, err = s.subs.CurrentByUser(ctx, tx, userID, true)
			if err != nil {
				return nil, err
			}
		}
		if current == nil || !current.Status.IsRunning() || current.EndDate == nil {
			return nil, ErrInvalidState
		}
		newEnd := current.EndDate.AddDate(0, 0, effect.BonusDays)
		if err := s.subs.ExtendEnd(ctx, tx, current.ID, newEnd); err != nil {
			return nil, err
		}
		result.SubscriptionID = current.ID
		result.EndDate = newEnd

	default:
		return nil, ErrInvalidState
	}

	var subID *int64
	if result.SubscriptionID != 0 {
		subID = &result.SubscriptionID
	}
	if err := s.redeem(ctx, tx, &effect.Promotion, userID, subID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit promo tx: %w", err)
	}
	return result, nil
}

// RedeemInTx records a redemption inside a transaction owned by another
// service, for discount codes attached to a purchase.
func (s *PromoService) RedeemInTx(ctx context.Context, tx *sql.Tx, effect *PromoEffect, userID int64, subscriptionID *int64) error {
	return s.redeem(ctx, tx, &effect.Promotion, userID, subscriptionID)
}

// redeem increments uses_count and inserts the usage row under the promo row
// lock. The unique (user_id, promotion_id) key aborts concurrent double
// spends; the violation surfaces as ErrPromoAlreadyUsed and the whole
// transaction rolls back with it.
func (s *PromoService) redeem(ctx context.Context, tx *sql.Tx, promo *models.Promotion, userID int64, subscriptionID *int64) error {
	locked, err := s.promos.LockByID(ctx, tx, promo.ID)
	if err != nil {
		return err
	}
	if locked == nil {
		return ErrPromoNotFound
	}
	if locked.Exhausted() {
		return ErrPromoExhausted
	}
	if err := s.promos.InsertUsage(ctx, tx, userID, promo.ID, subscriptionID); err != nil {
		if repository.IsDuplicate(err) {
			return ErrPromoAlreadyUsed
		}
		return err
	}
	if err := s.promos.IncrementUses(ctx, tx, promo.ID); err != nil {
		return err
	}
	return nil
}

// List exposes promotions for the admin panel.
func (s *PromoService) List(ctx context.Context) ([]models.Promotion, error) {
	return s.promos.List(ctx)
}

// CreateInput describes a new promotion for the admin panel.
type CreateInput struct {
	Code      string
	Kind      models.PromotionKind
	Value     int64
	ValidFrom time.Time
	ValidTo   time.Time
	MaxUses   *int64
	IsActive  bool
}

func (s *PromoService) Create(ctx context.Context, input CreateInput) (*models.Promotion, error) {
	if input.Code == "" {
		return nil, fmt.Errorf("code is required")
	}
	switch input.Kind {
	case models.PromoTrial, models.PromoBonusDays:
		if input.Value <= 0 {
			return nil, fmt.Errorf("value must be positive days")
		}
	case models.PromoPercentDiscount:
		if input.Value < 1 || input.Value > 100 {
			return nil, fmt.Errorf("percent must be between 1 and 100")
		}
	case models.PromoFixedDiscount:
		if input.Value <= 0 {
			return nil, fmt.Errorf("value must be a positive amount")
		}
	default:
		return nil, fmt.Errorf("unknown promotion kind %q", input.Kind)
	}
	if !input.ValidTo.After(input.ValidFrom) {
		return nil, fmt.Errorf("valid_to must be after valid_from")
	}

	promo, err := s.promos.Create(ctx, &models.Promotion{
		Code:      input.Code,
		Kind:      input.Kind,
		Value:     input.Value,
		ValidFrom: input.ValidFrom,
		ValidTo:   input.ValidTo,
		MaxUses:   input.MaxUses,
		IsActive:  input.IsActive,
	})
	if err != nil {
		if repository.IsDuplicate(err) {
			return nil, fmt.Errorf("code already exists: %w", ErrConflict)
		}
		return nil, err
	}
	return promo, nil
}

func (s *PromoService) SetActive(ctx context.Context, id int64, active bool) error {
	promo, err := s.promos.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if promo == nil {
		return ErrNotFound
	}
	return s.promos.SetActive(ctx, id, active)
}

// Usages lists redemptions of a promotion for the admin panel.
func (s *PromoService) Usages(ctx context.Context, id int64) ([]models.PromotionUsage, error) {
	promo, err := s.promos.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if promo == nil {
		return nil, ErrNotFound
	}
	return s.promos.ListUsages(ctx, id)
}

// Delete removes a promotion. Usage rows go with it; subscriptions opened
// through it keep running.
func (s *PromoService) Delete(ctx context.Context, id int64) error {
	promo, err := s.promos.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if promo == nil {
		return ErrNotFound
	}
	return s.promos.Delete(ctx, id)
}
