package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-pricing/internal/domain/money"
	"github.com/xenking/kart-pricing/internal/domain/offer"
)

const (
	offerColumns = `o.id, COALESCE(o.code, ''), o.title, o.name, o.description,
		o.type, o.value, o.min_amount, o.max_discount,
		o.bundle_quantity, o.bundle_price, o.buy_quantity, o.get_quantity, o.get_discount,
		o.applicable_type, o.min_price, o.max_price,
		o.priority, o.start_date, o.end_date, o.usage_limit, o.is_active,
		ARRAY(SELECT a.applicable_id FROM offer_applicable_ids a
			WHERE a.offer_id = o.id ORDER BY a.applicable_id) AS applicable_ids,
		ARRAY(SELECT t.quantity FROM offer_tiers t
			WHERE t.offer_id = o.id ORDER BY t.quantity) AS tier_quantities,
		ARRAY(SELECT t.discount_percent::text FROM offer_tiers t
			WHERE t.offer_id = o.id ORDER BY t.quantity) AS tier_percents`

	listActiveOffersSQL = `SELECT ` + offerColumns + ` FROM offers o
		WHERE o.is_active
			AND (o.start_date IS NULL OR o.start_date <= $1)
			AND (o.end_date IS NULL OR o.end_date >= $1)
		ORDER BY o.id`

	getOfferByCodeSQL = `SELECT ` + offerColumns + ` FROM offers o WHERE UPPER(LOWER(o.code)) = UPPER(LOWER($1))`

	getOfferByIDSQL = `SELECT ` + offerColumns + ` FROM offers o WHERE o.id = $1`

	listOfferCodesSQL = `SELECT code FROM offers WHERE code IS NOT NULL`

	upsertOfferSQL = `INSERT INTO offers (
			id, code, title, name, description, type, value, min_amount, max_discount,
			bundle_quantity, bundle_price, buy_quantity, get_quantity, get_discount,
			applicable_type, min_price, max_price, priority, start_date, end_date,
			usage_limit, is_active
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
		ON CONFLICT (id) DO UPDATE SET
			code = EXCLUDED.code, title = EXCLUDED.title, name = EXCLUDED.name,
			description = EXCLUDED.description, type = EXCLUDED.type, value = EXCLUDED.value,
			min_amount = EXCLUDED.min_amount, max_discount = EXCLUDED.max_discount,
			bundle_quantity = EXCLUDED.bundle_quantity, bundle_price = EXCLUDED.bundle_price,
			buy_quantity = EXCLUDED.buy_quantity, get_quantity = EXCLUDED.get_quantity,
			get_discount = EXCLUDED.get_discount, applicable_type = EXCLUDED.applicable_type,
			min_price = EXCLUDED.min_price, max_price = EXCLUDED.max_price,
			priority = EXCLUDED.priority, start_date = EXCLUDED.start_date,
			end_date = EXCLUDED.end_date, usage_limit = EXCLUDED.usage_limit,
			is_active = EXCLUDED.is_active, updated_at = now()`

	deleteOfferTiersSQL = `DELETE FROM offer_tiers WHERE offer_id = $1`

	insertOfferTiersSQL = `INSERT INTO offer_tiers (offer_id, quantity, discount_percent)
		SELECT $1, q, p::numeric FROM unnest($2::int[], $3::text[]) AS t(q, p)`

	deleteApplicableIDsSQL = `DELETE FROM offer_applicable_ids WHERE offer_id = $1`

	insertApplicableIDsSQL = `INSERT INTO offer_applicable_ids (offer_id, applicable_id)
		SELECT $1, unnest($2::text[])`
)

var _ offer.Store = (*OfferRepository)(nil)

// OfferRepository implements offer.Store backed by PostgreSQL.
type OfferRepository struct {
	pool *pgxpool.Pool
}

// NewOfferRepository returns an OfferRepository that uses the given pool.
func NewOfferRepository(pool *pgxpool.Pool) *OfferRepository {
	return &OfferRepository{pool: pool}
}

// ActiveOffers returns active offers whose window contains now.
func (r *OfferRepository) ActiveOffers(ctx context.Context, now time.Time) ([]offer.Offer, error) {
	rows, err := r.pool.Query(ctx, listActiveOffersSQL, now)
	if err != nil {
		return nil, fmt.Errorf("listing active offers: %w", err)
	}
	offers, err := pgx.CollectRows(rows, scanOffer)
	if err != nil {
		return nil, fmt.Errorf("listing active offers: %w", err)
	}
	return offers, nil
}

// OfferByCode looks up an offer by case-insensitive code in any state.
func (r *OfferRepository) OfferByCode(ctx context.Context, code string) (*offer.Offer, error) {
	return r.getOne(ctx, getOfferByCodeSQL, code)
}

// OfferByID looks up an offer by id in any state.
func (r *OfferRepository) OfferByID(ctx context.Context, id int64) (*offer.Offer, error) {
	return r.getOne(ctx, getOfferByIDSQL, id)
}

func (r *OfferRepository) getOne(ctx context.Context, query string, arg any) (*offer.Offer, error) {
	rows, err := r.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("finding offer %v: %w", arg, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOffer)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, offer.ErrOfferNotFound
		}
		return nil, fmt.Errorf("finding offer %v: %w", arg, err)
	}
	return &o, nil
}

// Codes returns the codes of every offer.
func (r *OfferRepository) Codes(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, listOfferCodesSQL)
	if err != nil {
		return nil, fmt.Errorf("listing offer codes: %w", err)
	}
	codes, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("listing offer codes: %w", err)
	}
	return codes, nil
}

// Upsert inserts or replaces an offer with its tiers and applicable ids.
func (r *OfferRepository) Upsert(ctx context.Context, o *offer.Offer) error {
	usageLimit, err := int4(o.UsageLimit)
	if err != nil {
		return fmt.Errorf("saving offer %d: %w", o.ID, err)
	}
	err = pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var code *string
		if o.Code != "" {
			code = &o.Code
		}
		if _, err := tx.Exec(ctx, upsertOfferSQL,
			o.ID, code, o.Title, o.Name, o.Description, string(o.Type), o.Value,
			o.MinAmount.Decimal(), optionalDecimal(o.MaxDiscount),
			int32(o.BundleQuantity), o.BundlePrice.Decimal(),
			int32(o.BuyQuantity), int32(o.GetQuantity), o.GetDiscount,
			string(o.ApplicableType), optionalDecimal(o.MinPrice), optionalDecimal(o.MaxPrice),
			int32(o.Priority), o.StartDate, o.EndDate, usageLimit, o.IsActive,
		); err != nil {
			return fmt.Errorf("upserting offer: %w", err)
		}

		if _, err := tx.Exec(ctx, deleteOfferTiersSQL, o.ID); err != nil {
			return fmt.Errorf("clearing offer tiers: %w", err)
		}
		if len(o.Tiers) > 0 {
			quantities := make([]int32, len(o.Tiers))
			percents := make([]string, len(o.Tiers))
			for i, t := range o.Tiers {
				quantities[i] = int32(t.Quantity)
				percents[i] = t.DiscountPercent.String()
			}
			if _, err := tx.Exec(ctx, insertOfferTiersSQL, o.ID, quantities, percents); err != nil {
				return fmt.Errorf("inserting offer tiers: %w", err)
			}
		}

		if _, err := tx.Exec(ctx, deleteApplicableIDsSQL, o.ID); err != nil {
			return fmt.Errorf("clearing applicable ids: %w", err)
		}
		if len(o.ApplicableIDs) > 0 {
			if _, err := tx.Exec(ctx, insertApplicableIDsSQL, o.ID, o.ApplicableIDs); err != nil {
				return fmt.Errorf("inserting applicable ids: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("saving offer %d: %w", o.ID, err)
	}
	return nil
}

func optionalDecimal(m *money.Money) *decimal.Decimal {
	if m == nil {
		return nil
	}
	v := m.Decimal()
	return &v
}

func optionalMoney(d *decimal.Decimal) (*money.Money, error) {
	if d == nil {
		return nil, nil
	}
	m, err := money.FromMajor(*d)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func scanOffer(row pgx.CollectableRow) (offer.Offer, error) {
	var (
		o              offer.Offer
		offerType      string
		applicableType string
		minAmount      decimal.Decimal
		maxDiscount    *decimal.Decimal
		bundleQuantity int32
		bundlePrice    decimal.Decimal
		buyQuantity    int32
		getQuantity    int32
		minPrice       *decimal.Decimal
		maxPrice       *decimal.Decimal
		priority       int32
		usageLimit     *int32
		tierQuantities []int32
		tierPercents   []string
	)
	err := row.Scan(
		&o.ID, &o.Code, &o.Title, &o.Name, &o.Description,
		&offerType, &o.Value, &minAmount, &maxDiscount,
		&bundleQuantity, &bundlePrice, &buyQuantity, &getQuantity, &o.GetDiscount,
		&applicableType, &minPrice, &maxPrice,
		&priority, &o.StartDate, &o.EndDate, &usageLimit, &o.IsActive,
		&o.ApplicableIDs, &tierQuantities, &tierPercents,
	)
	if err != nil {
		return o, err
	}

	o.Type = offer.Type(offerType)
	o.ApplicableType = offer.ApplicableType(applicableType)
	o.BundleQuantity = int(bundleQuantity)
	o.BuyQuantity = int(buyQuantity)
	o.GetQuantity = int(getQuantity)
	o.Priority = int(priority)
	if usageLimit != nil {
		v := int(*usageLimit)
		o.UsageLimit = &v
	}

	if o.MinAmount, err = money.FromMajor(minAmount); err != nil {
		return o, fmt.Errorf("offer %d min_amount: %w", o.ID, err)
	}
	if o.BundlePrice, err = money.FromMajor(bundlePrice); err != nil {
		return o, fmt.Errorf("offer %d bundle_price: %w", o.ID, err)
	}
	if o.MaxDiscount, err = optionalMoney(maxDiscount); err != nil {
		return o, fmt.Errorf("offer %d max_discount: %w", o.ID, err)
	}
	if o.MinPrice, err = optionalMoney(minPrice); err != nil {
		return o, fmt.Errorf("offer %d min_price: %w", o.ID, err)
	}
	if o.MaxPrice, err = optionalMoney(maxPrice); err != nil {
		return o, fmt.Errorf("offer %d max_price: %w", o.ID, err)
	}

	if len(tierQuantities) != len(tierPercents) {
		return o, fmt.Errorf("offer %d: tier columns out of step", o.ID)
	}
	for i, q := range tierQuantities {
		pct, err := decimal.NewFromString(tierPercents[i])
		if err != nil {
			return o, fmt.Errorf("offer %d tier %d: %w", o.ID, q, err)
		}
		o.Tiers = append(o.Tiers, offer.Tier{Quantity: int(q), DiscountPercent: pct})
	}
	return o, nil
}
