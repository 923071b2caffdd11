package offer

import (
	"fmt"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-pricing/internal/domain/money"
)

var (
	// ErrOfferNotFound is returned by a Store when no offer matches.
	ErrOfferNotFound = errors.New("offer not found")

	// ErrCodeNotFound is returned when a requested code does not exist or is inactive.
	ErrCodeNotFound = errors.New("offer code not found")
	// ErrCodeExpired is returned when a requested code is outside its validity window.
	ErrCodeExpired = errors.New("offer code expired")
	// ErrBelowMinimum is returned when the matched subtotal is under the offer minimum.
	ErrBelowMinimum = errors.New("cart below offer minimum")
	// ErrUsageLimitReached is returned when an offer has no uses left.
	ErrUsageLimitReached = errors.New("offer usage limit reached")
	// ErrCodeNotApplicable is returned when a requested code matches no cart
	// items or its structural requirement is not met.
	ErrCodeNotApplicable = errors.New("offer code not applicable to cart")

	// ErrIneligible is returned by discount calculators when the offer does
	// not apply to the matched items.
	ErrIneligible = errors.New("offer ineligible")
	// ErrMisconfigured marks offers whose configuration cannot be evaluated.
	ErrMisconfigured = errors.New("offer misconfigured")
)

// BelowMinimumError carries the required matched subtotal.
type BelowMinimumError struct {
	Code     string
	Required money.Money
}

func (e *BelowMinimumError) Error() string {
	return fmt.Sprintf("offer %q requires a subtotal of at least %s", e.Code, e.Required)
}

// Is matches both ErrBelowMinimum and ErrIneligible.
func (e *BelowMinimumError) Is(target error) bool {
	return target == ErrBelowMinimum || target == ErrIneligible
}

// MisconfiguredError describes an offer dropped from evaluation.
type MisconfiguredError struct {
	OfferID int64
	Reason  string
}

func (e *MisconfiguredError) Error() string {
	return fmt.Sprintf("offer %d misconfigured: %s", e.OfferID, e.Reason)
}

func (e *MisconfiguredError) Unwrap() error {
	return ErrMisconfigured
}
