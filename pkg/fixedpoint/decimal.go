package fixedpoint

import (
	"math/big"

	"github.com/shopspring/decimal"
)

var decimalOne = decimal.NewFromBigInt(new(big.Int).Lsh(big.NewInt(1), FractionalBits), 0)

// ToDecimal renders x with 18 decimal places.
func ToDecimal(x *big.Int) decimal.Decimal {
	return decimal.NewFromBigInt(x, 0).DivRound(decimalOne, 18)
}

// FromDecimal converts d to 64.64, truncating toward zero.
func FromDecimal(d decimal.Decimal) (*big.Int, error) {
	return checked(d.Mul(decimalOne).Truncate(0).BigInt())
}

// Parse reads a decimal string such as "0.04" or "-1.5".
func Parse(s string) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, err
	}
	return FromDecimal(d)
}

// String renders x for logs and API responses.
func String(x *big.Int) string {
	if x == nil {
		return "<nil>"
	}
	return ToDecimal(x).String()
}
