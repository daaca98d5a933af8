package pricing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"cafepos/backend/internal/domain"
)

var (
	ErrInvalidPrice   = errors.New("invalid price")
	ErrUnknownVariant = errors.New("unknown size variant")
)

var (
	smallFactor = decimal.RequireFromString("0.85")
	largeFactor = decimal.RequireFromString("1.25")
)

// PriceForVariant scales a base price for the selected size. Prices are whole
// currency units; scaled results are rounded half away from zero. Callers
// always pass the line's original base price so repeated size changes never
// compound.
func PriceForVariant(basePrice int64, variant domain.SizeVariant) (int64, error) {
	if basePrice < 0 {
		return 0, fmt.Errorf("%w: base price %d is negative", ErrInvalidPrice, basePrice)
	}

	switch variant {
	case domain.SizeMedium, domain.SizeSingle:
		return basePrice, nil
	case domain.SizeSmall:
		return scale(basePrice, smallFactor), nil
	case domain.SizeLarge:
		return scale(basePrice, largeFactor), nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownVariant, variant)
	}
}

func scale(basePrice int64, factor decimal.Decimal) int64 {
	return decimal.NewFromInt(basePrice).Mul(factor).Round(0).IntPart()
}
