// Package offer models promotional offers and evaluates them against a cart.
package offer

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/kart-pricing/internal/domain/money"
)

// Type enumerates the supported discount strategies.
type Type string

const (
	// TypePercentage takes a percentage of the matched subtotal.
	TypePercentage Type = "PERCENTAGE"
	// TypeFixed takes a fixed amount capped at the matched subtotal.
	TypeFixed Type = "FIXED"
	// TypeBundle sells groups of BundleQuantity units for BundlePrice.
	TypeBundle Type = "BUNDLE"
	// TypeBOGO discounts GetQuantity units for every BuyQuantity bought.
	TypeBOGO Type = "BOGO"
	// TypeMixMatch is priced like a bundle over a mixed set of products.
	TypeMixMatch Type = "MIX_MATCH"
	// TypeQuantityDiscount is priced like a bundle ("3 for 2400").
	TypeQuantityDiscount Type = "QUANTITY_DISCOUNT"
	// TypeTiered picks a percentage by total matched quantity.
	TypeTiered Type = "TIERED"
)

// Valid reports whether t is a known discount strategy.
func (t Type) Valid() bool {
	switch t {
	case TypePercentage, TypeFixed, TypeBundle, TypeBOGO,
		TypeMixMatch, TypeQuantityDiscount, TypeTiered:
		return true
	default:
		return false
	}
}

// ApplicableType enumerates the targeting strategies.
type ApplicableType string

const (
	ApplicableAll        ApplicableType = "ALL"
	ApplicableCategory   ApplicableType = "CATEGORY"
	ApplicableProduct    ApplicableType = "PRODUCT"
	ApplicablePriceRange ApplicableType = "PRICE_RANGE"
	ApplicableCombined   ApplicableType = "COMBINED"
)

// Valid reports whether a is a known targeting strategy.
func (a ApplicableType) Valid() bool {
	switch a {
	case ApplicableAll, ApplicableCategory, ApplicableProduct,
		ApplicablePriceRange, ApplicableCombined:
		return true
	default:
		return false
	}
}

// Tier is one step of a quantity discount table.
type Tier struct {
	Quantity        int
	DiscountPercent decimal.Decimal
}

// Offer is a declarative discount rule.
//
// Value is a percentage for PERCENTAGE offers and a major-unit amount for
// FIXED offers. All other amounts are in minor units.
type Offer struct {
	ID          int64
	Code        string
	Title       string
	Name        string
	Description string

	Type        Type
	Value       decimal.Decimal
	MinAmount   money.Money
	MaxDiscount *money.Money

	BundleQuantity int
	BundlePrice    money.Money

	BuyQuantity int
	GetQuantity int
	GetDiscount decimal.Decimal

	Tiers []Tier

	ApplicableType ApplicableType
	ApplicableIDs  []string
	MinPrice       *money.Money
	MaxPrice       *money.Money

	Priority   int
	StartDate  *time.Time
	EndDate    *time.Time
	UsageLimit *int
	IsActive   bool
}

// HasCode reports whether the offer is redeemed by code. Codes compare
// case-insensitively.
func (o *Offer) HasCode(code string) bool {
	return o.Code != "" && strings.EqualFold(o.Code, code)
}

// CodeKey folds a code to the key under which codes compare equal. Keys of
// two codes match exactly when HasCode would match them.
func CodeKey(code string) string {
	return strings.ToUpper(strings.ToLower(code))
}

// Started reports whether now is at or after the start of the window.
func (o *Offer) Started(now time.Time) bool {
	return o.StartDate == nil || !now.Before(*o.StartDate)
}

// Ended reports whether now is past the end of the window.
func (o *Offer) Ended(now time.Time) bool {
	return o.EndDate != nil && now.After(*o.EndDate)
}

// Live reports whether the offer is active and within its validity window.
func (o *Offer) Live(now time.Time) bool {
	return o.IsActive && o.Started(now) && !o.Ended(now)
}

// Exhausted reports whether the usage limit is consumed given the current
// usage count.
func (o *Offer) Exhausted(used int) bool {
	return o.UsageLimit != nil && used >= *o.UsageLimit
}

// LineItem is one cart line as seen by the engine.
type LineItem struct {
	ProductID  string
	CategoryID string
	UnitPrice  money.Money
	Quantity   int
}

// Subtotal returns the sum of unitPrice * quantity across items.
func Subtotal(items []LineItem) money.Money {
	var sum money.Money
	for _, item := range items {
		sum += item.UnitPrice.Times(item.Quantity)
	}
	return sum
}

// TotalQuantity returns the sum of quantities across items.
func TotalQuantity(items []LineItem) int {
	total := 0
	for _, item := range items {
		total += item.Quantity
	}
	return total
}

// Usage maps offer ids to their current usage counts.
type Usage map[int64]int

// Store provides read access to the offer catalog.
type Store interface {
	// ActiveOffers returns offers that are active and within their window at now.
	ActiveOffers(ctx context.Context, now time.Time) ([]Offer, error)
	// OfferByCode returns the offer with the given code regardless of its
	// state. Returns ErrOfferNotFound when no offer carries the code.
	OfferByCode(ctx context.Context, code string) (*Offer, error)
	// OfferByID returns ErrOfferNotFound when the id is unknown.
	OfferByID(ctx context.Context, id int64) (*Offer, error)
}
