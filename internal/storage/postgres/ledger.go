package postgres

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-pricing/internal/domain/ledger"
)

const (
	getUsageSQL = `SELECT offer_id, used FROM offer_usage WHERE offer_id = ANY($1) AND used > 0`

	// reserveSQL claims a slot with a single conditional upsert. When the
	// counter is at the limit the upsert updates no row, claimed is empty and
	// no reservation is written.
	reserveSQL = `WITH claimed AS (
			INSERT INTO offer_usage AS u (offer_id, used) VALUES ($1, 1)
			ON CONFLICT (offer_id) DO UPDATE SET used = u.used + 1
			WHERE $2::int IS NULL OR u.used < $2::int
			RETURNING u.offer_id
		)
		INSERT INTO offer_reservations (id, offer_id, expires_at)
		SELECT $3, offer_id, $4 FROM claimed
		RETURNING id`

	takeReservationSQL = `DELETE FROM offer_reservations
		WHERE id = $1 AND expires_at > $2
		RETURNING offer_id`

	insertRedemptionSQL = `INSERT INTO offer_redemptions (offer_id, order_id, redeemed_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (offer_id, order_id) DO NOTHING`

	releaseSQL = `WITH released AS (
			DELETE FROM offer_reservations WHERE id = $1 RETURNING offer_id
		)
		UPDATE offer_usage u SET used = u.used - 1
		FROM released r WHERE u.offer_id = r.offer_id`

	releaseExpiredSQL = `WITH expired AS (
			DELETE FROM offer_reservations WHERE expires_at <= $1 RETURNING offer_id
		), counts AS (
			SELECT offer_id, count(*)::int AS n FROM expired GROUP BY offer_id
		)
		UPDATE offer_usage u SET used = u.used - c.n
		FROM counts c WHERE u.offer_id = c.offer_id
		RETURNING c.n`
)

var _ ledger.Ledger = (*LedgerRepository)(nil)

// ErrUsageLimitRange is returned for usage limits that do not fit the
// INTEGER usage_limit column.
var ErrUsageLimitRange = errors.New("usage limit out of range")

func int4(v *int) (*int32, error) {
	if v == nil {
		return nil, nil
	}
	if *v > math.MaxInt32 || *v < math.MinInt32 {
		return nil, ErrUsageLimitRange
	}
	n := int32(*v)
	return &n, nil
}

// LedgerRepository implements ledger.Ledger backed by PostgreSQL.
type LedgerRepository struct {
	pool *pgxpool.Pool
}

// NewLedgerRepository returns a LedgerRepository that uses the given pool.
func NewLedgerRepository(pool *pgxpool.Pool) *LedgerRepository {
	return &LedgerRepository{pool: pool}
}

// Usage returns the used counters of the given offers.
func (r *LedgerRepository) Usage(ctx context.Context, offerIDs []int64) (map[int64]int, error) {
	rows, err := r.pool.Query(ctx, getUsageSQL, offerIDs)
	if err != nil {
		return nil, fmt.Errorf("reading offer usage: %w", err)
	}
	defer rows.Close()

	usage := make(map[int64]int, len(offerIDs))
	for rows.Next() {
		var (
			id   int64
			used int32
		)
		if err := rows.Scan(&id, &used); err != nil {
			return nil, fmt.Errorf("scanning offer usage: %w", err)
		}
		usage[id] = int(used)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading offer usage: %w", err)
	}
	return usage, nil
}

// Reserve claims a usage slot with one atomic statement.
func (r *LedgerRepository) Reserve(ctx context.Context, offerID int64, limit *int, expiresAt time.Time) (*ledger.Reservation, error) {
	limitArg, err := int4(limit)
	if err != nil {
		return nil, fmt.Errorf("reserving offer %d: %w", offerID, err)
	}
	if limitArg != nil && *limitArg <= 0 {
		return nil, ledger.ErrLimitReached
	}

	res := ledger.Reservation{
		ID:        ledger.NewReservationID(),
		OfferID:   offerID,
		ExpiresAt: expiresAt,
	}
	var id string
	err = r.pool.QueryRow(ctx, reserveSQL, offerID, limitArg, res.ID, expiresAt).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ledger.ErrLimitReached
		}
		return nil, fmt.Errorf("reserving offer %d: %w", offerID, err)
	}
	return &res, nil
}

// Commit turns a live reservation into a redemption in one transaction. A
// duplicate (offer, order) pair rolls back and leaves the reservation in place.
func (r *LedgerRepository) Commit(ctx context.Context, reservationID, orderID string, now time.Time) (*ledger.Redemption, error) {
	var red *ledger.Redemption
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var offerID int64
		if err := tx.QueryRow(ctx, takeReservationSQL, reservationID, now).Scan(&offerID); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ledger.ErrReservationNotFound
			}
			return fmt.Errorf("taking reservation: %w", err)
		}

		tag, err := tx.Exec(ctx, insertRedemptionSQL, offerID, orderID, now)
		if err != nil {
			return fmt.Errorf("inserting redemption: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ledger.ErrAlreadyRedeemed
		}

		red = &ledger.Redemption{OfferID: offerID, OrderID: orderID, RedeemedAt: now}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("committing reservation %s: %w", reservationID, err)
	}
	return red, nil
}

// Release deletes the reservation and returns its slot in one statement.
func (r *LedgerRepository) Release(ctx context.Context, reservationID string) error {
	tag, err := r.pool.Exec(ctx, releaseSQL, reservationID)
	if err != nil {
		return fmt.Errorf("releasing reservation %s: %w", reservationID, err)
	}
	if tag.RowsAffected() == 0 {
		return ledger.ErrReservationNotFound
	}
	return nil
}

// ReleaseExpired releases all reservations expired at now.
func (r *LedgerRepository) ReleaseExpired(ctx context.Context, now time.Time) (int, error) {
	rows, err := r.pool.Query(ctx, releaseExpiredSQL, now)
	if err != nil {
		return 0, fmt.Errorf("releasing expired reservations: %w", err)
	}
	counts, err := pgx.CollectRows(rows, pgx.RowTo[int32])
	if err != nil {
		return 0, fmt.Errorf("releasing expired reservations: %w", err)
	}

	total := 0
	for _, n := range counts {
		total += int(n)
	}
	return total, nil
}
