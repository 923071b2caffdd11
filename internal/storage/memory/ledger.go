package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xenking/kart-pricing/internal/domain/ledger"
)

var _ ledger.Ledger = (*Ledger)(nil)

type redemptionKey struct {
	offerID int64
	orderID string
}

// Ledger keeps per-offer usage counters claimed with compare-and-swap loops.
// Reservation and redemption records live under a mutex; the counters are
// only ever decremented after their reservation has been removed under it.
type Ledger struct {
	counters sync.Map // int64 -> *atomic.Int64

	mu           sync.Mutex
	reservations map[string]ledger.Reservation
	redemptions  map[redemptionKey]ledger.Redemption
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		reservations: make(map[string]ledger.Reservation),
		redemptions:  make(map[redemptionKey]ledger.Redemption),
	}
}

func (l *Ledger) counter(offerID int64) *atomic.Int64 {
	if c, ok := l.counters.Load(offerID); ok {
		return c.(*atomic.Int64)
	}
	c, _ := l.counters.LoadOrStore(offerID, new(atomic.Int64))
	return c.(*atomic.Int64)
}

// Usage returns committed plus reserved slots for the given offers.
func (l *Ledger) Usage(_ context.Context, offerIDs []int64) (map[int64]int, error) {
	usage := make(map[int64]int, len(offerIDs))
	for _, id := range offerIDs {
		c, ok := l.counters.Load(id)
		if !ok {
			continue
		}
		if n := c.(*atomic.Int64).Load(); n > 0 {
			usage[id] = int(n)
		}
	}
	return usage, nil
}

// Reserve claims a slot if the counter is below limit.
func (l *Ledger) Reserve(_ context.Context, offerID int64, limit *int, expiresAt time.Time) (*ledger.Reservation, error) {
	if limit != nil && *limit <= 0 {
		return nil, ledger.ErrLimitReached
	}

	c := l.counter(offerID)
	for {
		used := c.Load()
		if limit != nil && used >= int64(*limit) {
			return nil, ledger.ErrLimitReached
		}
		if c.CompareAndSwap(used, used+1) {
			break
		}
	}

	r := ledger.Reservation{
		ID:        ledger.NewReservationID(),
		OfferID:   offerID,
		ExpiresAt: expiresAt,
	}
	l.mu.Lock()
	l.reservations[r.ID] = r
	l.mu.Unlock()

	return &r, nil
}

// Commit converts a live reservation into a redemption. The slot stays
// counted.
func (l *Ledger) Commit(_ context.Context, reservationID, orderID string, now time.Time) (*ledger.Redemption, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.reservations[reservationID]
	if !ok || !now.Before(r.ExpiresAt) {
		return nil, ledger.ErrReservationNotFound
	}
	key := redemptionKey{offerID: r.OfferID, orderID: orderID}
	if _, dup := l.redemptions[key]; dup {
		return nil, ledger.ErrAlreadyRedeemed
	}

	delete(l.reservations, reservationID)
	red := ledger.Redemption{OfferID: r.OfferID, OrderID: orderID, RedeemedAt: now}
	l.redemptions[key] = red
	return &red, nil
}

// Release returns a reserved slot.
func (l *Ledger) Release(_ context.Context, reservationID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.reservations[reservationID]
	if !ok {
		return ledger.ErrReservationNotFound
	}
	delete(l.reservations, reservationID)
	l.counter(r.OfferID).Add(-1)
	return nil
}

// ReleaseExpired releases reservations whose expiry is at or before now.
func (l *Ledger) ReleaseExpired(_ context.Context, now time.Time) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	released := 0
	for id, r := range l.reservations {
		if r.ExpiresAt.After(now) {
			continue
		}
		delete(l.reservations, id)
		l.counter(r.OfferID).Add(-1)
		released++
	}
	return released, nil
}

// Redemptions returns the redemptions recorded for an offer.
func (l *Ledger) Redemptions(offerID int64) []ledger.Redemption {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []ledger.Redemption
	for key, red := range l.redemptions {
		if key.offerID == offerID {
			out = append(out, red)
		}
	}
	return out
}
