package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/digkill/TGSubscriptionBot/internal/gateway"
	"github.com/digkill/TGSubscriptionBot/internal/models"
)

// Clock abstracts time so tests can advance it deterministically.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func SystemClock() Clock { return systemClock{} }

// Candidate is a subscription due for renewal together with everything the
// scheduler needs to decide on it.
type Candidate struct {
	Subscription   models.Subscription
	Plan           models.SubscriptionPlan
	UserExternalID string
	HasSavedMethod bool
	// Attempts counts charges already made for this renewal window,
	// including pending ones awaiting reconciliation.
	Attempts int
}

// Store claims and transitions subscriptions around the renewal boundary.
type Store interface {
	// DueForRenewal returns running subscriptions with end_date <= cutoff,
	// ordered by end_date then id.
	DueForRenewal(ctx context.Context, cutoff time.Time, limit int) ([]Candidate, error)
	Renew(ctx context.Context, subscriptionID int64, newEnd time.Time, paymentID int64) error
	Expire(ctx context.Context, subscriptionID int64) error
}

// Outcome reports a charge attempt. Renewed is true only for a synchronous
// success; otherwise the payment awaits reconciliation.
type Outcome struct {
	PaymentID int64
	Renewed   bool
}

// Charger issues a recurring charge against the user's saved method.
type Charger interface {
	ChargeSaved(ctx context.Context, c Candidate) (Outcome, error)
}

// Notifier delivers renewal outcomes to the user. Implementations must be
// fire-and-forget; the scheduler ignores delivery failures.
type Notifier interface {
	RenewalSucceeded(ctx context.Context, externalID string, until time.Time)
	RenewalFailed(ctx context.Context, externalID, reason string)
	SubscriptionExpired(ctx context.Context, externalID string)
}

type Scheduler struct {
	store       Store
	charger     Charger
	notifier    Notifier
	clock       Clock
	log         *slog.Logger
	tick        time.Duration
	leadWindow  time.Duration
	maxAttempts int
	batchSize   int
}

type Config struct {
	Tick        time.Duration
	LeadWindow  time.Duration
	MaxAttempts int
	BatchSize   int
}

func New(cfg Config, store Store, charger Charger, notifier Notifier, clock Clock, log *slog.Logger) *Scheduler {
	if clock == nil {
		clock = SystemClock()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Scheduler{
		store:       store,
		charger:     charger,
		notifier:    notifier,
		clock:       clock,
		log:         log,
		tick:        cfg.Tick,
		leadWindow:  cfg.LeadWindow,
		maxAttempts: cfg.MaxAttempts,
		batchSize:   cfg.BatchSize,
	}
}

// Run ticks until the context is cancelled. The first tick fires immediately.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		if err := s.Tick(ctx); err != nil {
			s.log.Error("renewal tick failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick processes one renewal pass: charges due auto-renewing subscriptions
// and expires the ones that ran out without a way to renew.
func (s *Scheduler) Tick(ctx context.Context) error {
	now := s.clock.Now()
	candidates, err := s.store.DueForRenewal(ctx, now.Add(s.leadWindow), s.batchSize)
	if err != nil {
		return fmt.Errorf("select due subscriptions: %w", err)
	}

	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.process(ctx, c, now)
	}
	return nil
}

func (s *Scheduler) process(ctx context.Context, c Candidate, now time.Time) {
	sub := c.Subscription
	if sub.EndDate == nil {
		return
	}
	end := *sub.EndDate
	overdue := !end.After(now)

	if !sub.AutoRenew || !c.HasSavedMethod {
		if overdue {
			s.expire(ctx, c)
		}
		return
	}

	if c.Attempts >= s.maxAttempts {
		if overdue {
			s.expire(ctx, c)
		}
		return
	}

	outcome, err := s.charger.ChargeSaved(ctx, c)
	switch {
	case err == nil && outcome.Renewed:
		// Anchor to the old end date so renewal timing never drifts.
		newEnd := end.Add(c.Plan.Duration())
		if err := s.store.Renew(ctx, sub.ID, newEnd, outcome.PaymentID); err != nil {
			s.log.Error("renew subscription", "subscription", sub.ID, "err", err)
			return
		}
		s.log.Info("subscription renewed", "subscription", sub.ID, "until", newEnd)
		if s.notifier != nil {
			s.notifier.RenewalSucceeded(ctx, c.UserExternalID, newEnd)
		}

	case err == nil:
		// Charge accepted but asynchronous; reconciliation settles it.
		s.log.Info("renewal charge pending", "subscription", sub.ID, "payment", outcome.PaymentID)

	case gateway.IsRejected(err):
		s.log.Warn("renewal charge rejected", "subscription", sub.ID, "attempt", c.Attempts+1, "err", err)
		if s.notifier != nil {
			s.notifier.RenewalFailed(ctx, c.UserExternalID, err.Error())
		}
		if overdue {
			s.expire(ctx, c)
		}

	case errors.Is(err, gateway.ErrUnavailable):
		// Transient; back off until the next tick with no state change.
		s.log.Warn("gateway unavailable, will retry", "subscription", sub.ID)

	default:
		s.log.Error("renewal charge failed", "subscription", sub.ID, "err", err)
	}
}

func (s *Scheduler) expire(ctx context.Context, c Candidate) {
	if err := s.store.Expire(ctx, c.Subscription.ID); err != nil {
		s.log.Error("expire subscription", "subscription", c.Subscription.ID, "err", err)
		return
	}
	s.log.Info("subscription expired", "subscription", c.Subscription.ID)
	if s.notifier != nil {
		s.notifier.SubscriptionExpired(ctx, c.UserExternalID)
	}
}
