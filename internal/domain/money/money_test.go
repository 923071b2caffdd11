package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func TestFromMajor(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    Money
		wantErr error
	}{
		{name: "whole", in: "500", want: 50000},
		{name: "two digits", in: "12.34", want: 1234},
		{name: "one digit", in: "0.5", want: 50},
		{name: "zero", in: "0", want: 0},
		{name: "trailing zeros", in: "1.2300", want: 123},
		{name: "largest", in: "92233720368547758.07", want: Max},
		{name: "sub minor", in: "1.005", wantErr: ErrSubMinorPrecision},
		{name: "overflow", in: "100000000000000000", wantErr: ErrOutOfRange},
		{name: "just past max", in: "92233720368547758.08", wantErr: ErrOutOfRange},
		{name: "huge negative", in: "-1e30", wantErr: ErrOutOfRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FromMajor(d(tt.in))
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMoney_Bounds(t *testing.T) {
	assert.True(t, Money(100).CanTimes(3))
	assert.True(t, Max.CanTimes(1))
	assert.True(t, Max.CanTimes(0))
	assert.False(t, Max.CanTimes(2))
	assert.False(t, MustFromMajor("50000000000000000").CanTimes(2))

	assert.True(t, Money(1).CanAdd(Max-1))
	assert.False(t, Money(2).CanAdd(Max-1))
}

func TestMoney_String(t *testing.T) {
	assert.Equal(t, "1500.00", Money(150000).String())
	assert.Equal(t, "0.05", Money(5).String())
	assert.Equal(t, "0.00", Zero.String())
}

func TestMoney_Percent(t *testing.T) {
	tests := []struct {
		name string
		m    Money
		pct  string
		want Money
	}{
		{name: "exact", m: 200000, pct: "20", want: 40000},
		{name: "half rounds up", m: 5, pct: "10", want: 1},
		{name: "below half rounds down", m: 4, pct: "10", want: 0},
		{name: "fractional percent", m: 33333, pct: "12.5", want: 4167},
		{name: "hundred", m: 999, pct: "100", want: 999},
		{name: "zero percent", m: 999, pct: "0", want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.m.Percent(d(tt.pct)))
		})
	}
}

func TestMoney_Clamp(t *testing.T) {
	assert.Equal(t, Money(0), Money(-5).Clamp(0, 10))
	assert.Equal(t, Money(10), Money(15).Clamp(0, 10))
	assert.Equal(t, Money(7), Money(7).Clamp(0, 10))
}

func TestMoney_Times(t *testing.T) {
	assert.Equal(t, Money(1500), Money(500).Times(3))
}
