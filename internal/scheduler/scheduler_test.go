package scheduler

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/digkill/TGSubscriptionBot/internal/gateway"
	"github.com/digkill/TGSubscriptionBot/internal/models"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

type fakeStore struct {
	candidates []Candidate

	renewed   map[int64]time.Time
	renewedBy map[int64]int64
	expired   map[int64]bool
}

func newFakeStore(candidates ...Candidate) *fakeStore {
	return &fakeStore{
		candidates: candidates,
		renewed:    map[int64]time.Time{},
		renewedBy:  map[int64]int64{},
		expired:    map[int64]bool{},
	}
}

func (s *fakeStore) DueForRenewal(_ context.Context, cutoff time.Time, limit int) ([]Candidate, error) {
	var due []Candidate
	for _, c := range s.candidates {
		if c.Subscription.EndDate != nil && !c.Subscription.EndDate.After(cutoff) {
			due = append(due, c)
		}
		if len(due) == limit {
			break
		}
	}
	return due, nil
}

func (s *fakeStore) Renew(_ context.Context, id int64, newEnd time.Time, paymentID int64) error {
	s.renewed[id] = newEnd
	s.renewedBy[id] = paymentID
	return nil
}

func (s *fakeStore) Expire(_ context.Context, id int64) error {
	s.expired[id] = true
	return nil
}

type fakeCharger struct {
	outcome Outcome
	err     error
	calls   int
}

func (c *fakeCharger) ChargeSaved(context.Context, Candidate) (Outcome, error) {
	c.calls++
	return c.outcome, c.err
}

type fakeNotifier struct {
	succeeded []string
	failed    []string
	expired   []string
}

func (n *fakeNotifier) RenewalSucceeded(_ context.Context, externalID string, _ time.Time) {
	n.succeeded = append(n.succeeded, externalID)
}

func (n *fakeNotifier) RenewalFailed(_ context.Context, externalID, _ string) {
	n.failed = append(n.failed, externalID)
}

func (n *fakeNotifier) SubscriptionExpired(_ context.Context, externalID string) {
	n.expired = append(n.expired, externalID)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testCandidate(id int64, end time.Time) Candidate {
	return Candidate{
		Subscription: models.Subscription{
			ID:        id,
			UserID:    id,
			PlanID:    1,
			Status:    models.SubscriptionActive,
			EndDate:   &end,
			AutoRenew: true,
		},
		Plan: models.SubscriptionPlan{
			ID:              1,
			Name:            "Месяц",
			Currency:        "RUB",
			PriceMinorUnits: 29900,
			DurationDays:    30,
			IsActive:        true,
		},
		UserExternalID: "100500",
		HasSavedMethod: true,
	}
}

func newTestScheduler(store Store, charger Charger, notifier Notifier, clock Clock) *Scheduler {
	return New(Config{
		Tick:        time.Hour,
		LeadWindow:  24 * time.Hour,
		MaxAttempts: 3,
		BatchSize:   100,
	}, store, charger, notifier, clock, testLogger())
}

func TestTickRenewsAnchoredToOldEnd(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	end := now.Add(6 * time.Hour) // inside the lead window, not yet overdue

	store := newFakeStore(testCandidate(1, end))
	charger := &fakeCharger{outcome: Outcome{PaymentID: 42, Renewed: true}}
	notifier := &fakeNotifier{}

	s := newTestScheduler(store, charger, notifier, &fakeClock{now: now})
	if err := s.Tick(context.Background()); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}

	wantEnd := end.AddDate(0, 0, 30)
	if got := store.renewed[1]; !got.Equal(wantEnd) {
		t.Errorf("renewed until %v, want %v (anchored to the old end, not to now)", got, wantEnd)
	}
	if store.renewedBy[1] != 42 {
		t.Errorf("renewed with payment %d, want 42", store.renewedBy[1])
	}
	if len(notifier.succeeded) != 1 {
		t.Errorf("success notifications = %d, want 1", len(notifier.succeeded))
	}
	if store.expired[1] {
		t.Error("subscription must not be expired on successful renewal")
	}
}

func TestTickSkipsSubscriptionsNotYetDue(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	end := now.Add(48 * time.Hour) // beyond the lead window

	store := newFakeStore(testCandidate(1, end))
	charger := &fakeCharger{outcome: Outcome{PaymentID: 1, Renewed: true}}

	s := newTestScheduler(store, charger, nil, &fakeClock{now: now})
	if err := s.Tick(context.Background()); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}
	if charger.calls != 0 {
		t.Errorf("charger called %d times, want 0", charger.calls)
	}
}

func TestTickExpiresWithoutSavedMethod(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	overdue := testCandidate(1, now.Add(-time.Hour))
	overdue.HasSavedMethod = false
	upcoming := testCandidate(2, now.Add(6*time.Hour))
	upcoming.HasSavedMethod = false

	store := newFakeStore(overdue, upcoming)
	charger := &fakeCharger{}
	notifier := &fakeNotifier{}

	s := newTestScheduler(store, charger, notifier, &fakeClock{now: now})
	if err := s.Tick(context.Background()); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}

	if charger.calls != 0 {
		t.Errorf("charger called %d times, want 0", charger.calls)
	}
	if !store.expired[1] {
		t.Error("overdue subscription without a saved method must expire")
	}
	if store.expired[2] {
		t.Error("subscription still inside its period must not expire yet")
	}
	if len(notifier.expired) != 1 {
		t.Errorf("expiry notifications = %d, want 1", len(notifier.expired))
	}
}

func TestTickRejectionExpiresOnlyWhenOverdue(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	store := newFakeStore(testCandidate(1, now.Add(6*time.Hour)))
	charger := &fakeCharger{err: &gateway.RejectedError{Reason: "insufficient_funds"}}
	notifier := &fakeNotifier{}

	s := newTestScheduler(store, charger, notifier, &fakeClock{now: now})
	if err := s.Tick(context.Background()); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}

	if store.expired[1] {
		t.Error("rejection before end_date must not expire the subscription")
	}
	if len(notifier.failed) != 1 {
		t.Errorf("failure notifications = %d, want 1", len(notifier.failed))
	}

	// Past the end date the same rejection ends the subscription.
	store = newFakeStore(testCandidate(1, now.Add(-time.Hour)))
	s = newTestScheduler(store, charger, notifier, &fakeClock{now: now})
	if err := s.Tick(context.Background()); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}
	if !store.expired[1] {
		t.Error("rejection after end_date must expire the subscription")
	}
}

func TestTickStopsChargingAfterMaxAttempts(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	c := testCandidate(1, now.Add(-time.Hour))
	c.Attempts = 3

	store := newFakeStore(c)
	charger := &fakeCharger{}
	notifier := &fakeNotifier{}

	s := newTestScheduler(store, charger, notifier, &fakeClock{now: now})
	if err := s.Tick(context.Background()); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}

	if charger.calls != 0 {
		t.Errorf("charger called %d times after attempt limit, want 0", charger.calls)
	}
	if !store.expired[1] {
		t.Error("overdue subscription past the attempt limit must expire")
	}
}

func TestTickUnavailableGatewayLeavesStateAlone(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	store := newFakeStore(testCandidate(1, now.Add(-time.Hour)))
	charger := &fakeCharger{err: gateway.ErrUnavailable}
	notifier := &fakeNotifier{}

	s := newTestScheduler(store, charger, notifier, &fakeClock{now: now})
	if err := s.Tick(context.Background()); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}

	if store.expired[1] {
		t.Error("transient gateway failure must not expire the subscription")
	}
	if len(store.renewed) != 0 {
		t.Error("transient gateway failure must not renew the subscription")
	}
	if len(notifier.failed)+len(notifier.expired) != 0 {
		t.Error("transient gateway failure must not notify the user")
	}
}

func TestTickPendingChargeWaitsForReconciliation(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	store := newFakeStore(testCandidate(1, now.Add(-time.Hour)))
	charger := &fakeCharger{outcome: Outcome{PaymentID: 7, Renewed: false}}
	notifier := &fakeNotifier{}

	s := newTestScheduler(store, charger, notifier, &fakeClock{now: now})
	if err := s.Tick(context.Background()); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}

	if len(store.renewed) != 0 {
		t.Error("pending charge must not renew until reconciled")
	}
	if store.expired[1] {
		t.Error("pending charge must not expire the subscription")
	}
}
