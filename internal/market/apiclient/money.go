package apiclient

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/nazeru/market-ledger-go/internal/market/domain"
)

// Amounts are integers in the smallest currency unit. Scale is the number of
// decimal places a display unit has, 2 for cents.

func FormatAmount(a domain.Amount, scale int32) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(uint64(a)), -scale).StringFixed(scale)
}

// ParseAmount reads "12.50" as 1250 at scale 2. More precision than scale
// allows, negative values and overflow are errors.
func ParseAmount(s string, scale int32) (domain.Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("amount %q is negative", s)
	}
	units := d.Shift(scale)
	if !units.IsInteger() {
		return 0, fmt.Errorf("amount %q has more than %d decimals", s, scale)
	}
	bi := units.BigInt()
	if !bi.IsUint64() {
		return 0, fmt.Errorf("amount %q is too large", s)
	}
	return domain.Amount(bi.Uint64()), nil
}
