package offer

import (
	"cmp"
	"fmt"
	"slices"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-pricing/internal/domain/money"
)

// MatchedOffer is an offer evaluated against a cart. It is never persisted.
type MatchedOffer struct {
	Offer    Offer
	Items    []LineItem
	Discount money.Money
}

// Evaluation is the outcome of evaluating a set of offers against a cart.
type Evaluation struct {
	// Ranked holds eligible offers, best first.
	Ranked []MatchedOffer
	// Misconfigured holds offers dropped for configuration problems.
	Misconfigured []error
}

// Best returns the top ranked offer or nil.
func (e *Evaluation) Best() *MatchedOffer {
	if len(e.Ranked) == 0 {
		return nil
	}
	return &e.Ranked[0]
}

// Rank evaluates offers against the cart and returns the eligible ones ordered
// by priority desc, discount desc, id asc. Offers outside their window,
// inactive, exhausted, misconfigured or yielding no discount are dropped.
func Rank(now time.Time, items []LineItem, offers []Offer, usage Usage) Evaluation {
	var ev Evaluation
	for i := range offers {
		o := &offers[i]
		if !o.Live(now) || o.Exhausted(usage[o.ID]) {
			continue
		}
		m, err := evaluate(o, items)
		if err != nil {
			if errors.Is(err, ErrMisconfigured) {
				ev.Misconfigured = append(ev.Misconfigured, err)
			}
			continue
		}
		if m.Discount <= 0 {
			continue
		}
		ev.Ranked = append(ev.Ranked, m)
	}

	slices.SortFunc(ev.Ranked, func(a, b MatchedOffer) int {
		if c := cmp.Compare(b.Offer.Priority, a.Offer.Priority); c != 0 {
			return c
		}
		if c := cmp.Compare(b.Discount, a.Discount); c != 0 {
			return c
		}
		return cmp.Compare(a.Offer.ID, b.Offer.ID)
	})
	return ev
}

// SelectCode evaluates the offer carrying the requested code. Unlike Rank it
// reports why the code does not apply instead of dropping it: ErrCodeNotFound,
// ErrCodeExpired, ErrUsageLimitReached, *BelowMinimumError or
// ErrCodeNotApplicable. Misconfigured offers report ErrCodeNotApplicable
// wrapped around the *MisconfiguredError.
func SelectCode(now time.Time, items []LineItem, o *Offer, code string, usage Usage) (*MatchedOffer, error) {
	if o == nil || !o.HasCode(code) || !o.IsActive {
		return nil, ErrCodeNotFound
	}
	if !o.Started(now) || o.Ended(now) {
		return nil, ErrCodeExpired
	}
	if o.Exhausted(usage[o.ID]) {
		return nil, ErrUsageLimitReached
	}

	m, err := evaluate(o, items)
	if err != nil {
		var below *BelowMinimumError
		switch {
		case errors.As(err, &below):
			return nil, below
		case errors.Is(err, ErrMisconfigured):
			return nil, fmt.Errorf("%w: %w", ErrCodeNotApplicable, err)
		default:
			return nil, ErrCodeNotApplicable
		}
	}
	if m.Discount <= 0 {
		return nil, ErrCodeNotApplicable
	}
	return &m, nil
}

func evaluate(o *Offer, items []LineItem) (MatchedOffer, error) {
	if err := Validate(o); err != nil {
		return MatchedOffer{}, err
	}
	matched := Match(o, items)
	discount, err := ComputeDiscount(o, matched)
	if err != nil {
		return MatchedOffer{}, err
	}
	return MatchedOffer{Offer: *o, Items: matched, Discount: discount}, nil
}
