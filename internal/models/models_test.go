package models

import (
	"testing"
	"time"
)

func TestSubscriptionStatusPredicates(t *testing.T) {
	tests := []struct {
		status  SubscriptionStatus
		current bool
		running bool
	}{
		{status: SubscriptionPending, current: true, running: false},
		{status: SubscriptionActive, current: true, running: true},
		{status: SubscriptionTrial, current: true, running: true},
		{status: SubscriptionCancelled, current: false, running: false},
		{status: SubscriptionExpired, current: false, running: false},
	}

	for _, tt := range tests {
		if got := tt.status.IsCurrent(); got != tt.current {
			t.Errorf("%s.IsCurrent() = %v, want %v", tt.status, got, tt.current)
		}
		if got := tt.status.IsRunning(); got != tt.running {
			t.Errorf("%s.IsRunning() = %v, want %v", tt.status, got, tt.running)
		}
	}
}

func TestPaymentStatusIsTerminal(t *testing.T) {
	tests := []struct {
		status PaymentStatus
		want   bool
	}{
		{status: PaymentPending, want: false},
		{status: PaymentSucceeded, want: true},
		{status: PaymentFailed, want: true},
		{status: PaymentCancelled, want: false},
	}

	for _, tt := range tests {
		if got := tt.status.IsTerminal(); got != tt.want {
			t.Errorf("%s.IsTerminal() = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestUserHasSavedMethod(t *testing.T) {
	empty := ""
	token := "pm-1"

	if (&User{}).HasSavedMethod() {
		t.Error("user without a token must not have a saved method")
	}
	if (&User{SavedPaymentMethodID: &empty}).HasSavedMethod() {
		t.Error("empty token must not count as a saved method")
	}
	if !(&User{SavedPaymentMethodID: &token}).HasSavedMethod() {
		t.Error("user with a token must have a saved method")
	}
}

func TestPromotionExhausted(t *testing.T) {
	limit := int64(3)

	if (&Promotion{UsesCount: 100}).Exhausted() {
		t.Error("promotion without a limit can never exhaust")
	}
	if (&Promotion{MaxUses: &limit, UsesCount: 2}).Exhausted() {
		t.Error("promotion below its limit is not exhausted")
	}
	if !(&Promotion{MaxUses: &limit, UsesCount: 3}).Exhausted() {
		t.Error("promotion at its limit is exhausted")
	}
}

func TestPlanDuration(t *testing.T) {
	plan := SubscriptionPlan{DurationDays: 30}
	if got := plan.Duration(); got != 30*24*time.Hour {
		t.Errorf("Duration() = %v, want %v", got, 30*24*time.Hour)
	}
}
