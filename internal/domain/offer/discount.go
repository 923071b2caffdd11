package offer

import (
	"cmp"
	"slices"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-pricing/internal/domain/money"
)

// ComputeDiscount calculates the discount the offer yields on the matched
// items. It returns an error matching ErrIneligible when the offer does not
// apply, and a *BelowMinimumError when the matched subtotal is under
// MinAmount. The result is always within [0, Subtotal(matched)].
func ComputeDiscount(o *Offer, matched []LineItem) (money.Money, error) {
	if len(matched) == 0 {
		return 0, errors.Wrap(ErrIneligible, "no matched items")
	}
	subtotal := Subtotal(matched)

	var (
		discount money.Money
		err      error
	)
	switch o.Type {
	case TypePercentage:
		discount, err = percentage(o, subtotal)
	case TypeFixed:
		discount, err = fixed(o, subtotal)
	case TypeBundle, TypeMixMatch, TypeQuantityDiscount:
		discount, err = bundle(o, matched)
	case TypeBOGO:
		discount, err = bogo(o, matched)
	case TypeTiered:
		discount, err = tiered(o, matched, subtotal)
	default:
		return 0, &MisconfiguredError{OfferID: o.ID, Reason: "unknown offer type " + string(o.Type)}
	}
	if err != nil {
		return 0, err
	}
	return discount.Clamp(0, subtotal), nil
}

func belowMinimum(o *Offer, subtotal money.Money) error {
	if subtotal < o.MinAmount {
		return &BelowMinimumError{Code: o.Code, Required: o.MinAmount}
	}
	return nil
}

func percentage(o *Offer, subtotal money.Money) (money.Money, error) {
	if err := belowMinimum(o, subtotal); err != nil {
		return 0, err
	}
	discount := subtotal.Percent(o.Value)
	if o.MaxDiscount != nil && discount > *o.MaxDiscount {
		discount = *o.MaxDiscount
	}
	return discount, nil
}

func fixed(o *Offer, subtotal money.Money) (money.Money, error) {
	if err := belowMinimum(o, subtotal); err != nil {
		return 0, err
	}
	value, err := money.FromMajor(o.Value)
	if err != nil {
		return 0, &MisconfiguredError{OfferID: o.ID, Reason: err.Error()}
	}
	return min(value, subtotal), nil
}

func bundle(o *Offer, matched []LineItem) (money.Money, error) {
	if o.BundleQuantity <= 0 {
		return 0, &MisconfiguredError{OfferID: o.ID, Reason: "bundle quantity must be positive"}
	}
	n := TotalQuantity(matched) / o.BundleQuantity
	if n == 0 {
		return 0, errors.Wrapf(ErrIneligible, "need %d units for bundle", o.BundleQuantity)
	}
	if !o.BundlePrice.CanTimes(n) {
		return 0, nil
	}
	original := cheapestUnits(matched, n*o.BundleQuantity)
	return max(original-o.BundlePrice.Times(n), 0), nil
}

func bogo(o *Offer, matched []LineItem) (money.Money, error) {
	group := o.BuyQuantity + o.GetQuantity
	if o.BuyQuantity <= 0 || o.GetQuantity <= 0 {
		return 0, &MisconfiguredError{OfferID: o.ID, Reason: "buy and get quantities must be positive"}
	}
	groups := TotalQuantity(matched) / group
	if groups == 0 {
		return 0, errors.Wrapf(ErrIneligible, "need %d units for buy %d get %d", group, o.BuyQuantity, o.GetQuantity)
	}
	discounted := cheapestUnits(matched, groups*o.GetQuantity)
	return discounted.Percent(o.GetDiscount), nil
}

func tiered(o *Offer, matched []LineItem, subtotal money.Money) (money.Money, error) {
	if len(o.Tiers) == 0 {
		return 0, &MisconfiguredError{OfferID: o.ID, Reason: "tiered offer has no tiers"}
	}
	tiers := slices.Clone(o.Tiers)
	slices.SortStableFunc(tiers, func(a, b Tier) int {
		return cmp.Compare(b.Quantity, a.Quantity)
	})

	qty := TotalQuantity(matched)
	for _, tier := range tiers {
		if tier.Quantity <= qty {
			return subtotal.Percent(tier.DiscountPercent), nil
		}
	}
	return 0, errors.Wrapf(ErrIneligible, "need %d units for the first tier", tiers[len(tiers)-1].Quantity)
}

// cheapestUnits sums the unit prices of the k cheapest units across items.
func cheapestUnits(items []LineItem, k int) money.Money {
	sorted := slices.Clone(items)
	slices.SortStableFunc(sorted, func(a, b LineItem) int {
		return cmp.Compare(a.UnitPrice, b.UnitPrice)
	})

	var sum money.Money
	for _, it := range sorted {
		if k == 0 {
			break
		}
		take := min(it.Quantity, k)
		sum += it.UnitPrice.Times(take)
		k -= take
	}
	return sum
}
