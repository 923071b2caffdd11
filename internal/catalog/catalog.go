// Package catalog loads offer definitions from YAML files.
//
// Amounts are written in major units and may be quoted ("499.50") or bare
// (499.5); either way they are parsed as decimals, never floats. Files whose
// name ends in .gz are decompressed with pgzip.
package catalog

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"time"

	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/xenking/kart-pricing/internal/domain/money"
	"github.com/xenking/kart-pricing/internal/domain/offer"
)

// Catalog is a set of offers loaded from one or more files.
type Catalog struct {
	Currency string
	Offers   []offer.Offer
}

// Amount is a decimal scalar in a catalog file.
type Amount struct {
	decimal.Decimal
	Set bool
}

// UnmarshalYAML parses quoted and bare numeric scalars.
func (a *Amount) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return errors.Errorf("line %d: amount must be a scalar", node.Line)
	}
	if node.Tag == "!!null" {
		return nil
	}
	v, err := decimal.NewFromString(strings.TrimSpace(node.Value))
	if err != nil {
		return errors.Wrapf(err, "line %d: parse amount %q", node.Line, node.Value)
	}
	a.Decimal, a.Set = v, true
	return nil
}

type tierEntry struct {
	Quantity        int    `yaml:"quantity"`
	DiscountPercent Amount `yaml:"discountPercent"`
}

// entry mirrors one offer in a catalog file.
type entry struct {
	ID             int64       `yaml:"id"`
	Code           string      `yaml:"code"`
	Title          string      `yaml:"title"`
	Name           string      `yaml:"name"`
	Description    string      `yaml:"description"`
	Type           string      `yaml:"type"`
	Value          Amount      `yaml:"value"`
	MinAmount      Amount      `yaml:"minAmount"`
	MaxDiscount    Amount      `yaml:"maxDiscount"`
	BundleQuantity int         `yaml:"bundleQuantity"`
	BundlePrice    Amount      `yaml:"bundlePrice"`
	BuyQuantity    int         `yaml:"buyQuantity"`
	GetQuantity    int         `yaml:"getQuantity"`
	GetDiscount    Amount      `yaml:"getDiscount"`
	Tiers          []tierEntry `yaml:"tiers"`
	ApplicableType string      `yaml:"applicableType"`
	ApplicableIDs  []string    `yaml:"applicableIds"`
	MinPrice       Amount      `yaml:"minPrice"`
	MaxPrice       Amount      `yaml:"maxPrice"`
	Priority       int         `yaml:"priority"`
	StartDate      *time.Time  `yaml:"startDate"`
	EndDate        *time.Time  `yaml:"endDate"`
	UsageLimit     *int        `yaml:"usageLimit"`
	IsActive       *bool       `yaml:"isActive"`
}

type file struct {
	Currency string  `yaml:"currency"`
	Offers   []entry `yaml:"offers"`
}

// Parse decodes a catalog document and validates every offer.
func Parse(r io.Reader) (*Catalog, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f file
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return &Catalog{}, nil
		}
		return nil, errors.Wrap(err, "decode catalog")
	}

	c := &Catalog{Currency: f.Currency, Offers: make([]offer.Offer, 0, len(f.Offers))}
	for i, e := range f.Offers {
		o, err := e.offer()
		if err != nil {
			return nil, errors.Wrapf(err, "offer #%d (id %d)", i+1, e.ID)
		}
		c.Offers = append(c.Offers, o)
	}
	if err := checkUnique(c.Offers); err != nil {
		return nil, err
	}
	return c, nil
}

// Load reads a catalog file, decompressing it when the name ends in .gz.
func Load(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := pgzip.NewReader(f)
		if err != nil {
			return nil, errors.Wrapf(err, "create gzip reader for %s", path)
		}
		defer func() { _ = gz.Close() }()
		r = gz
	}

	c, err := Parse(r)
	if err != nil {
		return nil, errors.Wrap(err, path)
	}
	return c, nil
}

// LoadFiles loads catalogs concurrently and merges them in argument order.
// Offer ids and codes must be unique across all files, and files that name a
// currency must agree on it.
func LoadFiles(ctx context.Context, paths ...string) (*Catalog, error) {
	parts := make([]*Catalog, len(paths))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			c, err := Load(path)
			if err != nil {
				return err
			}
			parts[i] = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := &Catalog{}
	for i, c := range parts {
		if c.Currency != "" {
			if merged.Currency != "" && merged.Currency != c.Currency {
				return nil, errors.Errorf("%s: currency %s conflicts with %s", paths[i], c.Currency, merged.Currency)
			}
			merged.Currency = c.Currency
		}
		merged.Offers = append(merged.Offers, c.Offers...)
	}
	if err := checkUnique(merged.Offers); err != nil {
		return nil, err
	}
	return merged, nil
}

func checkUnique(offers []offer.Offer) error {
	ids := make(map[int64]struct{}, len(offers))
	codes := make(map[string]int64, len(offers))
	for _, o := range offers {
		if _, dup := ids[o.ID]; dup {
			return errors.Errorf("duplicate offer id %d", o.ID)
		}
		ids[o.ID] = struct{}{}

		if o.Code == "" {
			continue
		}
		key := offer.CodeKey(o.Code)
		if other, dup := codes[key]; dup {
			return errors.Errorf("code %s used by offers %d and %d", o.Code, other, o.ID)
		}
		codes[key] = o.ID
	}
	return nil
}

func (e entry) offer() (offer.Offer, error) {
	o := offer.Offer{
		ID:             e.ID,
		Code:           strings.TrimSpace(e.Code),
		Title:          e.Title,
		Name:           e.Name,
		Description:    e.Description,
		Type:           offer.Type(strings.ToUpper(e.Type)),
		Value:          e.Value.Decimal,
		BundleQuantity: e.BundleQuantity,
		BuyQuantity:    e.BuyQuantity,
		GetQuantity:    e.GetQuantity,
		GetDiscount:    e.GetDiscount.Decimal,
		ApplicableType: offer.ApplicableType(strings.ToUpper(e.ApplicableType)),
		ApplicableIDs:  e.ApplicableIDs,
		Priority:       e.Priority,
		StartDate:      e.StartDate,
		EndDate:        e.EndDate,
		UsageLimit:     e.UsageLimit,
		IsActive:       e.IsActive == nil || *e.IsActive,
	}
	if o.ID <= 0 {
		return o, errors.New("id must be positive")
	}
	if o.ApplicableType == "" {
		o.ApplicableType = offer.ApplicableAll
	}
	if o.Type == offer.TypeBOGO && !e.GetDiscount.Set {
		// A BOGO without getDiscount gives the free units away entirely.
		o.GetDiscount = decimal.NewFromInt(100)
	}
	if o.UsageLimit != nil && *o.UsageLimit < 0 {
		return o, errors.New("usageLimit must not be negative")
	}
	if o.UsageLimit != nil && *o.UsageLimit > math.MaxInt32 {
		return o, errors.Errorf("usageLimit must not exceed %d", math.MaxInt32)
	}
	if o.StartDate != nil && o.EndDate != nil && o.EndDate.Before(*o.StartDate) {
		return o, errors.New("endDate before startDate")
	}

	var err error
	if o.MinAmount, err = amount("minAmount", e.MinAmount); err != nil {
		return o, err
	}
	if o.BundlePrice, err = amount("bundlePrice", e.BundlePrice); err != nil {
		return o, err
	}
	if o.MaxDiscount, err = optionalAmount("maxDiscount", e.MaxDiscount); err != nil {
		return o, err
	}
	if o.MinPrice, err = optionalAmount("minPrice", e.MinPrice); err != nil {
		return o, err
	}
	if o.MaxPrice, err = optionalAmount("maxPrice", e.MaxPrice); err != nil {
		return o, err
	}
	for _, t := range e.Tiers {
		o.Tiers = append(o.Tiers, offer.Tier{Quantity: t.Quantity, DiscountPercent: t.DiscountPercent.Decimal})
	}

	if err := offer.Validate(&o); err != nil {
		return o, err
	}
	return o, nil
}

func amount(field string, a Amount) (money.Money, error) {
	m, err := money.FromMajor(a.Decimal)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	if m < 0 {
		return 0, fmt.Errorf("%s must not be negative", field)
	}
	return m, nil
}

func optionalAmount(field string, a Amount) (*money.Money, error) {
	if !a.Set {
		return nil, nil
	}
	m, err := amount(field, a)
	if err != nil {
		return nil, err
	}
	return &m, nil
}
