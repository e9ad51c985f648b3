package service

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrAlreadyActive = errors.New("user already has a current subscription")
	ErrInvalidState  = errors.New("operation not allowed in current state")

	ErrPromoNotFound    = errors.New("promo code not found")
	ErrPromoInactive    = errors.New("promo code inactive")
	ErrPromoOutOfWindow = errors.New("promo code outside its validity window")
	ErrPromoExhausted   = errors.New("promo code exhausted")
	ErrPromoAlreadyUsed = errors.New("promo code already redeemed by this user")
	ErrTrialNotAllowed  = errors.New("trial not allowed for this user")
)

// IsPromoError reports whether err is one of the promo rejection kinds.
func IsPromoError(err error) bool {
	for _, target := range []error{
		ErrPromoNotFound, ErrPromoInactive, ErrPromoOutOfWindow,
		ErrPromoExhausted, ErrPromoAlreadyUsed, ErrTrialNotAllowed,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
