// Package ledger tracks offer usage against usage limits.
//
// A checkout reserves a usage slot before payment, then commits it against an
// order id or releases it. Reservations that are neither committed nor
// released within their window are released by the Sweeper.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"go.jetify.com/typeid/v2"
)

var (
	// ErrLimitReached is returned when an offer has no usage slots left.
	ErrLimitReached = errors.New("usage limit reached")
	// ErrReservationNotFound is returned for unknown, released or expired reservations.
	ErrReservationNotFound = errors.New("reservation not found")
	// ErrAlreadyRedeemed is returned when an order already redeemed the offer.
	ErrAlreadyRedeemed = errors.New("offer already redeemed by order")
)

// reservationPrefix is the TypeID prefix of reservation ids.
const reservationPrefix = "rsv"

// Reservation holds one usage slot of an offer until it is committed,
// released or expires.
type Reservation struct {
	ID        string
	OfferID   int64
	ExpiresAt time.Time
}

// Redemption is the durable record of an offer applied to an order.
type Redemption struct {
	OfferID    int64
	OrderID    string
	RedeemedAt time.Time
}

// Ledger is the usage counter store. Reserve must be a single atomic
// conditional increment: K concurrent reserves against a limit of N < K
// yield exactly N reservations.
type Ledger interface {
	// Usage returns the number of committed plus reserved slots per offer.
	// Offers without usage are absent from the map.
	Usage(ctx context.Context, offerIDs []int64) (map[int64]int, error)
	// Reserve claims a slot. A nil limit means unlimited.
	Reserve(ctx context.Context, offerID int64, limit *int, expiresAt time.Time) (*Reservation, error)
	// Commit turns a live reservation into a redemption for orderID.
	Commit(ctx context.Context, reservationID, orderID string, now time.Time) (*Redemption, error)
	// Release returns the reserved slot.
	Release(ctx context.Context, reservationID string) error
	// ReleaseExpired releases every reservation expired at now and returns
	// how many were released.
	ReleaseExpired(ctx context.Context, now time.Time) (int, error)
}

// NewReservationID returns a new "rsv_" prefixed TypeID.
func NewReservationID() string {
	id, err := typeid.Generate(reservationPrefix)
	if err != nil {
		panic(fmt.Sprintf("generate reservation id: %v", err))
	}
	return id.String()
}

// ValidReservationID reports whether s is a well-formed reservation id.
func ValidReservationID(s string) bool {
	id, err := typeid.Parse(s)
	return err == nil && id.Prefix() == reservationPrefix
}
