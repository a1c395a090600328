package types

import (
	"math/big"
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

const DecimalScale = 12

// Decimal is a fixed point number with DecimalScale fractional digits.
type Decimal struct {
	d decimal.Decimal
}

func newDecimal(d decimal.Decimal) Decimal {
	return Decimal{d: d.RoundBank(DecimalScale)}
}

func NewDecimalFromInt(v int64) Decimal {
	return newDecimal(decimal.NewFromInt(v))
}

// ParseDecimal parses a decimal literal. Extra fractional digits are
// rounded half even.
func ParseDecimal(s string) (Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return Decimal{}, errors.Wrapf(ErrInvalidDecimal, "%q: %v", s, err)
	}
	return newDecimal(d), nil
}

func MustParseDecimal(s string) Decimal {
	d, err := ParseDecimal(s)
	if err != nil {
		panic(err)
	}
	return d
}

func (d Decimal) Cmp(o Decimal) int { return d.d.Cmp(o.d) }

func (d Decimal) Add(o Decimal) Decimal { return newDecimal(d.d.Add(o.d)) }

func (d Decimal) Sub(o Decimal) Decimal { return newDecimal(d.d.Sub(o.d)) }

// Unscaled returns the value times 10^DecimalScale.
func (d Decimal) Unscaled() *big.Int {
	return d.d.Shift(DecimalScale).BigInt()
}

func DecimalFromUnscaled(u *big.Int) Decimal {
	return Decimal{d: decimal.NewFromBigInt(u, -DecimalScale)}
}

func (d Decimal) String() string {
	return d.d.StringFixed(DecimalScale)
}
