package postgres

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-pricing/internal/domain/offer"
)

func ip(v int) *int { return &v }

func TestInt4(t *testing.T) {
	for _, tt := range []struct {
		name    string
		in      *int
		want    *int32
		wantErr bool
	}{
		{name: "Nil"},
		{name: "Zero", in: ip(0), want: new(int32)},
		{name: "Max", in: ip(math.MaxInt32), want: func() *int32 { v := int32(math.MaxInt32); return &v }()},
		{name: "AboveMax", in: ip(math.MaxInt32 + 1), wantErr: true},
		{name: "BelowMin", in: ip(math.MinInt32 - 1), wantErr: true},
	} {
		t.Run(tt.name, func(t *testing.T) {
			got, err := int4(tt.in)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrUsageLimitRange)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// Out of range limits are rejected before any statement reaches the pool.
func TestUsageLimitOutOfRange(t *testing.T) {
	ctx := context.Background()
	limit := ip(math.MaxInt32 + 1)

	_, err := NewLedgerRepository(nil).Reserve(ctx, 1, limit, time.Now().Add(time.Minute))
	require.ErrorIs(t, err, ErrUsageLimitRange)

	err = NewOfferRepository(nil).Upsert(ctx, &offer.Offer{ID: 1, Type: offer.TypeFixed, UsageLimit: limit})
	require.ErrorIs(t, err, ErrUsageLimitRange)
}
