package models

import "time"

type SubscriptionStatus string

const (
	SubscriptionPending   SubscriptionStatus = "pending"
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionTrial     SubscriptionStatus = "trial"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
	SubscriptionExpired   SubscriptionStatus = "expired"
)

// IsCurrent reports whether the status counts against the
// one-subscription-per-user rule.
func (s SubscriptionStatus) IsCurrent() bool {
	return s == SubscriptionPending || s == SubscriptionActive || s == SubscriptionTrial
}

// IsRunning reports whether the subscription grants access right now
// and is eligible for renewal or extension.
func (s SubscriptionStatus) IsRunning() bool {
	return s == SubscriptionActive || s == SubscriptionTrial
}

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentSucceeded PaymentStatus = "succeeded"
	PaymentFailed    PaymentStatus = "failed"
	PaymentCancelled PaymentStatus = "cancelled"
)

// IsTerminal reports whether the payment can no longer change status.
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentSucceeded || s == PaymentFailed
}

type RefundStatus string

const (
	RefundPending   RefundStatus = "pending"
	RefundSucceeded RefundStatus = "succeeded"
	RefundFailed    RefundStatus = "failed"
)

type PromotionKind string

const (
	PromoTrial           PromotionKind = "trial"
	PromoBonusDays       PromotionKind = "bonus_days"
	PromoPercentDiscount PromotionKind = "percent_discount"
	PromoFixedDiscount   PromotionKind = "fixed_discount"
)

type User struct {
	ID                   int64
	ExternalID           string
	SavedPaymentMethodID *string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// HasSavedMethod reports whether the user can be charged without a checkout.
func (u *User) HasSavedMethod() bool {
	return u.SavedPaymentMethodID != nil && *u.SavedPaymentMethodID != ""
}

type SubscriptionPlan struct {
	ID              int64
	Name            string
	Currency        string
	PriceMinorUnits int64
	DurationDays    int
	IsActive        bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Duration returns the plan period as a time.Duration.
func (p *SubscriptionPlan) Duration() time.Duration {
	return time.Duration(p.DurationDays) * 24 * time.Hour
}

type Subscription struct {
	ID          int64
	UserID      int64
	PlanID      int64
	Status      SubscriptionStatus
	StartDate   *time.Time
	EndDate     *time.Time
	AutoRenew   bool
	PromotionID *int64
	PaymentID   *int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Payment struct {
	ID             int64
	UserID         int64
	SubscriptionID *int64
	Amount         int64
	Currency       string
	Status         PaymentStatus
	ExternalID     *string
	RedirectURL    *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type Refund struct {
	ID               int64
	PaymentID        int64
	ExternalRefundID *string
	Amount           int64
	Currency         string
	Status           RefundStatus
	Reason           string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type Promotion struct {
	ID        int64
	Code      string
	Kind      PromotionKind
	Value     int64
	ValidFrom time.Time
	ValidTo   time.Time
	MaxUses   *int64
	UsesCount int64
	IsActive  bool
	CreatedAt time.Time
}

// Exhausted reports whether the promotion has no redemptions left.
func (p *Promotion) Exhausted() bool {
	return p.MaxUses != nil && p.UsesCount >= *p.MaxUses
}

type PromotionUsage struct {
	ID             int64
	UserID         int64
	PromotionID    int64
	SubscriptionID *int64
	CreatedAt      time.Time
}
