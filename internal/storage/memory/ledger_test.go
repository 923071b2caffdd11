package memory

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/kart-pricing/internal/domain/ledger"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func ip(v int) *int { return &v }

func TestLedger_ReserveConcurrentExactness(t *testing.T) {
	const (
		workers = 64
		limit   = 7
	)
	l := NewLedger()
	ctx := context.Background()

	var claimed, rejected atomic.Int64
	var g errgroup.Group
	for range workers {
		g.Go(func() error {
			_, err := l.Reserve(ctx, 1, ip(limit), testNow.Add(time.Minute))
			switch {
			case err == nil:
				claimed.Add(1)
			case errors.Is(err, ledger.ErrLimitReached):
				rejected.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int64(limit), claimed.Load())
	assert.Equal(t, int64(workers-limit), rejected.Load())

	usage, err := l.Usage(ctx, []int64{1})
	require.NoError(t, err)
	assert.Equal(t, limit, usage[1])
}

func TestLedger_ConcurrentCommitsSingleSlot(t *testing.T) {
	l := NewLedger()
	ctx := context.Background()

	var committed atomic.Int64
	var g errgroup.Group
	for _, order := range []string{"order-a", "order-b"} {
		g.Go(func() error {
			r, err := l.Reserve(ctx, 1, ip(1), testNow.Add(time.Minute))
			if errors.Is(err, ledger.ErrLimitReached) {
				return nil
			}
			if err != nil {
				return err
			}
			if _, err := l.Commit(ctx, r.ID, order, testNow); err != nil {
				return err
			}
			committed.Add(1)
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int64(1), committed.Load())
	assert.Len(t, l.Redemptions(1), 1)
}

func TestLedger_Unlimited(t *testing.T) {
	l := NewLedger()
	ctx := context.Background()

	for range 10 {
		_, err := l.Reserve(ctx, 3, nil, testNow.Add(time.Minute))
		require.NoError(t, err)
	}
	usage, err := l.Usage(ctx, []int64{3, 4})
	require.NoError(t, err)
	assert.Equal(t, map[int64]int{3: 10}, usage)
}

func TestLedger_ZeroLimit(t *testing.T) {
	_, err := NewLedger().Reserve(context.Background(), 1, ip(0), testNow)
	require.ErrorIs(t, err, ledger.ErrLimitReached)
}

func TestLedger_ReleaseFreesSlot(t *testing.T) {
	l := NewLedger()
	ctx := context.Background()

	r, err := l.Reserve(ctx, 1, ip(1), testNow.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, ledger.ValidReservationID(r.ID))

	_, err = l.Reserve(ctx, 1, ip(1), testNow.Add(time.Minute))
	require.ErrorIs(t, err, ledger.ErrLimitReached)

	require.NoError(t, l.Release(ctx, r.ID))
	require.ErrorIs(t, l.Release(ctx, r.ID), ledger.ErrReservationNotFound)

	_, err = l.Reserve(ctx, 1, ip(1), testNow.Add(time.Minute))
	require.NoError(t, err)
}

func TestLedger_CommitKeepsSlot(t *testing.T) {
	l := NewLedger()
	ctx := context.Background()

	r, err := l.Reserve(ctx, 1, ip(2), testNow.Add(time.Minute))
	require.NoError(t, err)

	red, err := l.Commit(ctx, r.ID, "order-1", testNow)
	require.NoError(t, err)
	assert.Equal(t, ledger.Redemption{OfferID: 1, OrderID: "order-1", RedeemedAt: testNow}, *red)

	_, err = l.Commit(ctx, r.ID, "order-1", testNow)
	require.ErrorIs(t, err, ledger.ErrReservationNotFound)
	require.ErrorIs(t, l.Release(ctx, r.ID), ledger.ErrReservationNotFound)

	usage, err := l.Usage(ctx, []int64{1})
	require.NoError(t, err)
	assert.Equal(t, 1, usage[1])
}

func TestLedger_CommitDuplicateOrder(t *testing.T) {
	l := NewLedger()
	ctx := context.Background()

	first, err := l.Reserve(ctx, 1, nil, testNow.Add(time.Minute))
	require.NoError(t, err)
	_, err = l.Commit(ctx, first.ID, "order-1", testNow)
	require.NoError(t, err)

	second, err := l.Reserve(ctx, 1, nil, testNow.Add(time.Minute))
	require.NoError(t, err)
	_, err = l.Commit(ctx, second.ID, "order-1", testNow)
	require.ErrorIs(t, err, ledger.ErrAlreadyRedeemed)

	// The reservation survives a rejected commit so the caller can release it.
	require.NoError(t, l.Release(ctx, second.ID))
}

func TestLedger_CommitExpired(t *testing.T) {
	l := NewLedger()
	ctx := context.Background()

	r, err := l.Reserve(ctx, 1, ip(1), testNow)
	require.NoError(t, err)

	_, err = l.Commit(ctx, r.ID, "order-1", testNow)
	require.ErrorIs(t, err, ledger.ErrReservationNotFound)
}

func TestLedger_ReleaseExpired(t *testing.T) {
	l := NewLedger()
	ctx := context.Background()

	_, err := l.Reserve(ctx, 1, ip(3), testNow.Add(-time.Second))
	require.NoError(t, err)
	_, err = l.Reserve(ctx, 1, ip(3), testNow)
	require.NoError(t, err)
	live, err := l.Reserve(ctx, 1, ip(3), testNow.Add(time.Minute))
	require.NoError(t, err)

	n, err := l.ReleaseExpired(ctx, testNow)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	usage, err := l.Usage(ctx, []int64{1})
	require.NoError(t, err)
	assert.Equal(t, 1, usage[1])

	_, err = l.Commit(ctx, live.ID, "order-1", testNow)
	require.NoError(t, err)
}
