package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/digkill/TGSubscriptionBot/internal/models"
)

// ErrUnavailable signals a transient provider failure; the caller may retry
// with the same charge untouched.
var ErrUnavailable = errors.New("payment gateway unavailable")

// RejectedError is a terminal provider-side rejection.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("payment rejected by gateway: %s", e.Reason)
}

// IsRejected reports whether err carries a terminal gateway rejection.
func IsRejected(err error) bool {
	var re *RejectedError
	return errors.As(err, &re)
}

type ChargeRequest struct {
	Amount      int64
	Currency    string
	Description string
	// SavedMethodID charges a stored payment method without a checkout
	// redirect when non-empty.
	SavedMethodID string
	// SaveMethod asks the provider to tokenize the method used so future
	// charges can skip checkout.
	SaveMethod bool
	ReturnURL  string
}

type ChargeResult struct {
	ExternalID  string
	RedirectURL string
	Status      models.PaymentStatus
	PaidAt      *time.Time
	// MethodToken is set when the provider issued a reusable method token
	// on a synchronous success.
	MethodToken string
}

type ChargeStatus struct {
	Status      models.PaymentStatus
	PaidAt      *time.Time
	MethodToken string
}

type RefundResult struct {
	ExternalRefundID string
	Status           models.RefundStatus
}

// Gateway abstracts the external payment provider.
type Gateway interface {
	CreateCharge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
	ConfirmStatus(ctx context.Context, externalID string) (*ChargeStatus, error)
	Refund(ctx context.Context, externalID string, amount int64, currency, reason string) (*RefundResult, error)
}
