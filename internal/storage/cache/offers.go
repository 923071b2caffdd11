// Package cache keeps a short-lived copy of the live offer catalog in front
// of an offer.Store.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"golang.org/x/sync/singleflight"

	"github.com/xenking/kart-pricing/internal/domain/offer"
)

const codeFilterFPR = 0.01

// Source is the store behind the cache. Codes must include inactive and
// expired offers so that their codes still reach the store.
type Source interface {
	offer.Store
	Codes(ctx context.Context) ([]string, error)
}

var _ offer.Store = (*OfferCache)(nil)

type snapshot struct {
	offers   []offer.Offer
	codes    *bloom.BloomFilter
	loadedAt time.Time
}

// OfferCache serves ActiveOffers from a snapshot refreshed every ttl and
// rejects unknown codes with a bloom filter before querying the store.
// Offers that start after a reload become visible on the next reload.
type OfferCache struct {
	src Source
	ttl time.Duration
	now func() time.Time

	group singleflight.Group

	mu   sync.RWMutex
	snap *snapshot
}

// NewOfferCache wraps src with a cache of the given ttl.
func NewOfferCache(src Source, ttl time.Duration) *OfferCache {
	return &OfferCache{src: src, ttl: ttl, now: time.Now}
}

// ActiveOffers returns cached offers that are live at now.
func (c *OfferCache) ActiveOffers(ctx context.Context, now time.Time) ([]offer.Offer, error) {
	snap, err := c.current(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]offer.Offer, 0, len(snap.offers))
	for _, o := range snap.offers {
		if o.Live(now) {
			out = append(out, o)
		}
	}
	return out, nil
}

// OfferByCode answers unknown codes from the filter and forwards the rest.
func (c *OfferCache) OfferByCode(ctx context.Context, code string) (*offer.Offer, error) {
	snap, err := c.current(ctx)
	if err != nil {
		return nil, err
	}
	if !snap.codes.TestString(offer.CodeKey(code)) {
		return nil, offer.ErrOfferNotFound
	}
	return c.src.OfferByCode(ctx, code)
}

// OfferByID forwards to the store.
func (c *OfferCache) OfferByID(ctx context.Context, id int64) (*offer.Offer, error) {
	return c.src.OfferByID(ctx, id)
}

// Invalidate drops the snapshot so the next call reloads it.
func (c *OfferCache) Invalidate() {
	c.mu.Lock()
	c.snap = nil
	c.mu.Unlock()
}

func (c *OfferCache) current(ctx context.Context) (*snapshot, error) {
	c.mu.RLock()
	snap := c.snap
	c.mu.RUnlock()
	if snap != nil && c.now().Sub(snap.loadedAt) < c.ttl {
		return snap, nil
	}

	v, err, _ := c.group.Do("reload", func() (any, error) {
		return c.reload(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*snapshot), nil
}

func (c *OfferCache) reload(ctx context.Context) (*snapshot, error) {
	now := c.now()
	offers, err := c.src.ActiveOffers(ctx, now)
	if err != nil {
		return nil, errors.Wrap(err, "load active offers")
	}
	codes, err := c.src.Codes(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "load offer codes")
	}

	filter := bloom.NewWithEstimates(uint(max(len(codes), 1)), codeFilterFPR)
	for _, code := range codes {
		filter.AddString(offer.CodeKey(code))
	}

	snap := &snapshot{offers: offers, codes: filter, loadedAt: now}
	c.mu.Lock()
	c.snap = snap
	c.mu.Unlock()
	return snap, nil
}
