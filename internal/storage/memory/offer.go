// Package memory provides in-process implementations of the offer store and
// usage ledger for tests and single-instance runs.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/xenking/kart-pricing/internal/domain/offer"
)

var _ offer.Store = (*OfferStore)(nil)

// OfferStore is a thread-safe in-memory offer catalog keyed by offer id.
type OfferStore struct {
	mu     sync.RWMutex
	offers map[int64]offer.Offer
	order  []int64
}

// NewOfferStore creates a store seeded with offers.
func NewOfferStore(offers ...offer.Offer) *OfferStore {
	s := &OfferStore{offers: make(map[int64]offer.Offer, len(offers))}
	for _, o := range offers {
		s.Put(o)
	}
	return s
}

// Put inserts or replaces an offer, keeping the original insertion position.
func (s *OfferStore) Put(o offer.Offer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.offers[o.ID]; !exists {
		s.order = append(s.order, o.ID)
	}
	s.offers[o.ID] = o
}

// ActiveOffers returns live offers in insertion order.
func (s *OfferStore) ActiveOffers(_ context.Context, now time.Time) ([]offer.Offer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]offer.Offer, 0, len(s.order))
	for _, id := range s.order {
		if o := s.offers[id]; o.Live(now) {
			out = append(out, o)
		}
	}
	return out, nil
}

// OfferByCode finds an offer by case-insensitive code.
func (s *OfferStore) OfferByCode(_ context.Context, code string) (*offer.Offer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, id := range s.order {
		if o := s.offers[id]; o.HasCode(code) {
			return &o, nil
		}
	}
	return nil, offer.ErrOfferNotFound
}

// OfferByID finds an offer by id.
func (s *OfferStore) OfferByID(_ context.Context, id int64) (*offer.Offer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.offers[id]
	if !ok {
		return nil, offer.ErrOfferNotFound
	}
	return &o, nil
}

// Codes returns the codes of all stored offers.
func (s *OfferStore) Codes(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	codes := make([]string, 0, len(s.order))
	for _, id := range s.order {
		if c := s.offers[id].Code; c != "" {
			codes = append(codes, c)
		}
	}
	return codes, nil
}
