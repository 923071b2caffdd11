package offer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-pricing/internal/domain/money"
)

func mp(v string) *money.Money {
	m := money.MustFromMajor(v)
	return &m
}

func testCart() []LineItem {
	return []LineItem{
		{ProductID: "tee", CategoryID: "apparel", UnitPrice: money.MustFromMajor("499"), Quantity: 2},
		{ProductID: "jeans", CategoryID: "apparel", UnitPrice: money.MustFromMajor("1999"), Quantity: 1},
		{ProductID: "mug", CategoryID: "kitchen", UnitPrice: money.MustFromMajor("299"), Quantity: 3},
	}
}

func productIDs(items []LineItem) []string {
	ids := make([]string, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ProductID)
	}
	return ids
}

func TestMatch(t *testing.T) {
	tests := []struct {
		name  string
		offer Offer
		want  []string
	}{
		{
			name:  "all",
			offer: Offer{ApplicableType: ApplicableAll},
			want:  []string{"tee", "jeans", "mug"},
		},
		{
			name:  "category",
			offer: Offer{ApplicableType: ApplicableCategory, ApplicableIDs: []string{"kitchen"}},
			want:  []string{"mug"},
		},
		{
			name:  "product",
			offer: Offer{ApplicableType: ApplicableProduct, ApplicableIDs: []string{"jeans", "missing"}},
			want:  []string{"jeans"},
		},
		{
			name:  "price range both bounds inclusive",
			offer: Offer{ApplicableType: ApplicablePriceRange, MinPrice: mp("299"), MaxPrice: mp("499")},
			want:  []string{"tee", "mug"},
		},
		{
			name:  "price range open upper bound",
			offer: Offer{ApplicableType: ApplicablePriceRange, MinPrice: mp("500")},
			want:  []string{"jeans"},
		},
		{
			name:  "price range unbounded",
			offer: Offer{ApplicableType: ApplicablePriceRange},
			want:  []string{"tee", "jeans", "mug"},
		},
		{
			name: "combined requires category and price",
			offer: Offer{
				ApplicableType: ApplicableCombined,
				ApplicableIDs:  []string{"apparel"},
				MaxPrice:       mp("1000"),
			},
			want: []string{"tee"},
		},
		{
			name:  "category without ids matches nothing",
			offer: Offer{ApplicableType: ApplicableCategory},
		},
		{
			name:  "product without ids matches nothing",
			offer: Offer{ApplicableType: ApplicableProduct},
		},
		{
			name:  "combined without ids matches nothing",
			offer: Offer{ApplicableType: ApplicableCombined, MinPrice: mp("1")},
		},
		{
			name:  "unknown applicable type matches nothing",
			offer: Offer{ApplicableType: "BRAND"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Match(&tt.offer, testCart())
			if len(tt.want) == 0 {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, productIDs(got))
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		offer   Offer
		wantErr bool
	}{
		{name: "percentage all", offer: Offer{Type: TypePercentage, ApplicableType: ApplicableAll, Value: d("10")}},
		{name: "combined empty ids", offer: Offer{Type: TypePercentage, ApplicableType: ApplicableCombined}, wantErr: true},
		{name: "category empty ids", offer: Offer{Type: TypeFixed, ApplicableType: ApplicableCategory}, wantErr: true},
		{name: "tiered without tiers", offer: Offer{Type: TypeTiered, ApplicableType: ApplicableAll}, wantErr: true},
		{name: "bundle zero quantity", offer: Offer{Type: TypeBundle, ApplicableType: ApplicableAll}, wantErr: true},
		{name: "bogo zero get", offer: Offer{Type: TypeBOGO, ApplicableType: ApplicableAll, BuyQuantity: 1}, wantErr: true},
		{name: "unknown type", offer: Offer{Type: "CASHBACK", ApplicableType: ApplicableAll}, wantErr: true},
		{name: "negative value", offer: Offer{Type: TypeFixed, ApplicableType: ApplicableAll, Value: d("-1")}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(&tt.offer)
			if !tt.wantErr {
				require.NoError(t, err)
				return
			}
			var mErr *MisconfiguredError
			require.ErrorAs(t, err, &mErr)
			require.ErrorIs(t, err, ErrMisconfigured)
		})
	}
}
