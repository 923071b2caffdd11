package offer

import (
	"slices"

	"github.com/xenking/kart-pricing/internal/domain/money"
)

// Match returns the line items the offer's targeting rule selects. Offers
// that need applicable ids but have none match nothing.
func Match(o *Offer, items []LineItem) []LineItem {
	var keep func(LineItem) bool
	switch o.ApplicableType {
	case ApplicableAll:
		keep = func(LineItem) bool { return true }
	case ApplicableCategory:
		keep = func(it LineItem) bool { return slices.Contains(o.ApplicableIDs, it.CategoryID) }
	case ApplicableProduct:
		keep = func(it LineItem) bool { return slices.Contains(o.ApplicableIDs, it.ProductID) }
	case ApplicablePriceRange:
		keep = func(it LineItem) bool { return inRange(it.UnitPrice, o.MinPrice, o.MaxPrice) }
	case ApplicableCombined:
		keep = func(it LineItem) bool {
			return slices.Contains(o.ApplicableIDs, it.CategoryID) &&
				inRange(it.UnitPrice, o.MinPrice, o.MaxPrice)
		}
	default:
		return nil
	}

	var matched []LineItem
	for _, it := range items {
		if keep(it) {
			matched = append(matched, it)
		}
	}
	return matched
}

func inRange(price money.Money, lo, hi *money.Money) bool {
	if lo != nil && price < *lo {
		return false
	}
	if hi != nil && price > *hi {
		return false
	}
	return true
}

// Validate reports configuration problems that make an offer impossible to
// evaluate. Such offers never apply.
func Validate(o *Offer) error {
	misconfigured := func(reason string) error {
		return &MisconfiguredError{OfferID: o.ID, Reason: reason}
	}

	switch o.ApplicableType {
	case ApplicableCategory, ApplicableProduct, ApplicableCombined:
		if len(o.ApplicableIDs) == 0 {
			return misconfigured(string(o.ApplicableType) + " targeting with no applicable ids")
		}
	case ApplicableAll, ApplicablePriceRange:
	default:
		return misconfigured("unknown applicable type " + string(o.ApplicableType))
	}

	switch o.Type {
	case TypeBundle, TypeMixMatch, TypeQuantityDiscount:
		if o.BundleQuantity <= 0 {
			return misconfigured("bundle quantity must be positive")
		}
		if o.BundlePrice < 0 {
			return misconfigured("bundle price is negative")
		}
	case TypeBOGO:
		if o.BuyQuantity <= 0 || o.GetQuantity <= 0 {
			return misconfigured("buy and get quantities must be positive")
		}
	case TypeTiered:
		if len(o.Tiers) == 0 {
			return misconfigured("tiered offer has no tiers")
		}
	case TypePercentage, TypeFixed:
		if o.Value.IsNegative() {
			return misconfigured("value is negative")
		}
	default:
		return misconfigured("unknown offer type " + string(o.Type))
	}
	return nil
}
