package pricing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cafepos/backend/internal/domain"
)

func TestPriceForVariant(t *testing.T) {
	cases := []struct {
		name    string
		base    int64
		variant domain.SizeVariant
		want    int64
	}{
		{"small rounds down", 2500, domain.SizeSmall, 2125},
		{"small rounds half up", 2510, domain.SizeSmall, 2134},
		{"medium is identity", 2500, domain.SizeMedium, 2500},
		{"large", 2500, domain.SizeLarge, 3125},
		{"large rounds half away from zero", 1002, domain.SizeLarge, 1253},
		{"single is identity", 1800, domain.SizeSingle, 1800},
		{"zero price", 0, domain.SizeLarge, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := PriceForVariant(tc.base, tc.variant)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestPriceForVariantRejectsNegativeBase(t *testing.T) {
	_, err := PriceForVariant(-1, domain.SizeMedium)
	require.ErrorIs(t, err, ErrInvalidPrice)
}

func TestPriceForVariantRejectsUnknownVariant(t *testing.T) {
	_, err := PriceForVariant(1000, domain.SizeVariant("XL"))
	require.ErrorIs(t, err, ErrUnknownVariant)
}

func TestPriceForVariantDoesNotCompound(t *testing.T) {
	base := int64(3990)
	once, err := PriceForVariant(base, domain.SizeSmall)
	require.NoError(t, err)

	for _, v := range []domain.SizeVariant{domain.SizeSmall, domain.SizeMedium, domain.SizeSmall} {
		again, err := PriceForVariant(base, v)
		require.NoError(t, err)
		if v == domain.SizeSmall {
			assert.Equal(t, once, again)
		}
	}
}
