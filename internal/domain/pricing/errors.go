package pricing

import (
	"fmt"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-pricing/internal/domain/ledger"
	"github.com/xenking/kart-pricing/internal/domain/offer"
)

var (
	// ErrEmptyCart is returned when a request carries no line items.
	ErrEmptyCart = errors.New("cart has no items")
	// ErrInvalidOrderID is returned when an order id is blank.
	ErrInvalidOrderID = errors.New("order id required")
)

// InvalidLineItemError indicates a malformed cart line.
type InvalidLineItemError struct {
	Index     int
	ProductID string
	Reason    string
}

func (e *InvalidLineItemError) Error() string {
	return fmt.Sprintf("item %d (%s): %s", e.Index, e.ProductID, e.Reason)
}

// Error codes reported to callers.
const (
	CodeNotFound            = "CODE_NOT_FOUND"
	CodeExpired             = "CODE_EXPIRED"
	CodeBelowMinimum        = "BELOW_MINIMUM"
	CodeUsageLimitReached   = "USAGE_LIMIT_REACHED"
	CodeNotApplicable       = "CODE_NOT_APPLICABLE"
	CodeAlreadyRedeemed     = "ALREADY_REDEEMED"
	CodeReservationNotFound = "RESERVATION_NOT_FOUND"
	CodeOfferNotFound       = "OFFER_NOT_FOUND"
	CodeInvalidRequest      = "INVALID_REQUEST"
)

// ErrorCode maps a service error to its caller-facing code. It returns an
// empty string for internal errors.
func ErrorCode(err error) string {
	var itemErr *InvalidLineItemError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, offer.ErrCodeNotFound):
		return CodeNotFound
	case errors.Is(err, offer.ErrCodeExpired):
		return CodeExpired
	case errors.Is(err, offer.ErrBelowMinimum):
		return CodeBelowMinimum
	case errors.Is(err, offer.ErrUsageLimitReached), errors.Is(err, ledger.ErrLimitReached):
		return CodeUsageLimitReached
	case errors.Is(err, offer.ErrCodeNotApplicable):
		return CodeNotApplicable
	case errors.Is(err, ledger.ErrAlreadyRedeemed):
		return CodeAlreadyRedeemed
	case errors.Is(err, ledger.ErrReservationNotFound):
		return CodeReservationNotFound
	case errors.Is(err, offer.ErrOfferNotFound):
		return CodeOfferNotFound
	case errors.Is(err, ErrEmptyCart), errors.Is(err, ErrInvalidOrderID), errors.As(err, &itemErr):
		return CodeInvalidRequest
	default:
		return ""
	}
}
