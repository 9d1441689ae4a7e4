// Package fixedpoint implements signed 64.64 fixed-point arithmetic.
//
// A value is a *big.Int holding the raw 128-bit two's complement
// representation: the real number x is stored as x * 2^64. Every
// operation range-checks its result against int128 and fails with
// ErrArithmeticOverflow instead of wrapping or saturating. Arguments are
// never mutated.
package fixedpoint

import (
	"errors"
	"math/big"
)

var (
	ErrArithmeticOverflow = errors.New("fixedpoint: arithmetic overflow")
	ErrDivisionByZero     = errors.New("fixedpoint: division by zero")
	ErrNegative           = errors.New("fixedpoint: negative operand")
)

// FractionalBits is the number of fractional bits in a 64.64 value.
const FractionalBits = 64

var (
	one      = new(big.Int).Lsh(big.NewInt(1), FractionalBits)
	minValue = new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 127))
	maxValue = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))

	maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	minInt256  = new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 255))
	maxInt256  = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 255), big.NewInt(1))
)

// One returns 1.0.
func One() *big.Int { return new(big.Int).Set(one) }

// Zero returns 0.0.
func Zero() *big.Int { return new(big.Int) }

// Max returns the largest representable value.
func Max() *big.Int { return new(big.Int).Set(maxValue) }

// Min returns the smallest representable value.
func Min() *big.Int { return new(big.Int).Set(minValue) }

// InRange reports whether x fits in a signed 64.64 value.
func InRange(x *big.Int) bool {
	return x != nil && x.Cmp(minValue) >= 0 && x.Cmp(maxValue) <= 0
}

func checked(x *big.Int) (*big.Int, error) {
	if !InRange(x) {
		return nil, ErrArithmeticOverflow
	}
	return x, nil
}

func checkedInt256(x *big.Int) (*big.Int, error) {
	if x.Cmp(minInt256) < 0 || x.Cmp(maxInt256) > 0 {
		return nil, ErrArithmeticOverflow
	}
	return x, nil
}

func checkedUint256(x *big.Int) (*big.Int, error) {
	if x.Sign() < 0 {
		return nil, ErrNegative
	}
	if x.Cmp(maxUint256) > 0 {
		return nil, ErrArithmeticOverflow
	}
	return x, nil
}

// FromInt converts an integer to 64.64. Every int64 is representable.
func FromInt(x int64) *big.Int {
	return new(big.Int).Lsh(big.NewInt(x), FractionalBits)
}

// FromBigInt converts an arbitrary integer to 64.64.
func FromBigInt(x *big.Int) (*big.Int, error) {
	return checked(new(big.Int).Lsh(x, FractionalBits))
}

// FromUint64 converts an unsigned integer to 64.64.
func FromUint64(x uint64) (*big.Int, error) {
	return FromBigInt(new(big.Int).SetUint64(x))
}

// FromFraction returns num/den as 64.64, truncated toward zero.
func FromFraction(num, den int64) (*big.Int, error) {
	return DivI(big.NewInt(num), big.NewInt(den))
}

// ToInt returns the integer part of x, rounded toward negative infinity.
func ToInt(x *big.Int) *big.Int {
	return new(big.Int).Rsh(x, FractionalBits)
}

// ToUint returns the integer part of a non-negative x.
func ToUint(x *big.Int) (*big.Int, error) {
	if x.Sign() < 0 {
		return nil, ErrNegative
	}
	return new(big.Int).Rsh(x, FractionalBits), nil
}

func Add(x, y *big.Int) (*big.Int, error) {
	return checked(new(big.Int).Add(x, y))
}

func Sub(x, y *big.Int) (*big.Int, error) {
	return checked(new(big.Int).Sub(x, y))
}

func Neg(x *big.Int) (*big.Int, error) {
	return checked(new(big.Int).Neg(x))
}

func Abs(x *big.Int) (*big.Int, error) {
	return checked(new(big.Int).Abs(x))
}

// Mul returns x*y, truncated toward zero after scaling down by 2^64.
func Mul(x, y *big.Int) (*big.Int, error) {
	p := new(big.Int).Mul(x, y)
	return checked(p.Quo(p, one))
}

// MulI multiplies a 64.64 value by a signed 256-bit integer and returns a
// signed 256-bit integer, truncated toward zero.
func MulI(x, y *big.Int) (*big.Int, error) {
	p := new(big.Int).Mul(x, y)
	return checkedInt256(p.Quo(p, one))
}

// MulU multiplies a non-negative 64.64 value by an unsigned 256-bit
// integer and returns an unsigned 256-bit integer, rounded down.
func MulU(x, y *big.Int) (*big.Int, error) {
	if x.Sign() < 0 || y.Sign() < 0 {
		return nil, ErrNegative
	}
	p := new(big.Int).Mul(x, y)
	return checkedUint256(p.Rsh(p, FractionalBits))
}

// Div returns x/y truncated toward zero.
func Div(x, y *big.Int) (*big.Int, error) {
	if y.Sign() == 0 {
		return nil, ErrDivisionByZero
	}
	n := new(big.Int).Lsh(x, FractionalBits)
	return checked(n.Quo(n, y))
}

// DivI divides two signed integers and returns the 64.64 quotient.
func DivI(x, y *big.Int) (*big.Int, error) {
	if y.Sign() == 0 {
		return nil, ErrDivisionByZero
	}
	n := new(big.Int).Lsh(x, FractionalBits)
	return checked(n.Quo(n, y))
}

// DivU divides two unsigned integers and returns the 64.64 quotient.
func DivU(x, y *big.Int) (*big.Int, error) {
	if x.Sign() < 0 || y.Sign() < 0 {
		return nil, ErrNegative
	}
	return DivI(x, y)
}

// Inv returns 1/x.
func Inv(x *big.Int) (*big.Int, error) {
	return Div(one, x)
}

// Sqrt returns the square root of a non-negative x, rounded down.
func Sqrt(x *big.Int) (*big.Int, error) {
	if x.Sign() < 0 {
		return nil, ErrNegative
	}
	n := new(big.Int).Lsh(x, FractionalBits)
	return checked(n.Sqrt(n))
}

// Pow returns x^n by binary exponentiation. Each intermediate product is
// truncated like Mul, so results are deterministic but not exact.
func Pow(x *big.Int, n uint64) (*big.Int, error) {
	result := One()
	base := new(big.Int).Set(x)
	var err error
	for n > 0 {
		if n&1 == 1 {
			if result, err = Mul(result, base); err != nil {
				return nil, err
			}
		}
		n >>= 1
		if n > 0 {
			if base, err = Mul(base, base); err != nil {
				return nil, err
			}
		}
	}
	return result, nil
}

// Cmp compares two 64.64 values.
func Cmp(x, y *big.Int) int { return x.Cmp(y) }

// MinOf returns the smaller of x and y.
func MinOf(x, y *big.Int) *big.Int {
	if x.Cmp(y) <= 0 {
		return new(big.Int).Set(x)
	}
	return new(big.Int).Set(y)
}

// MaxOf returns the larger of x and y.
func MaxOf(x, y *big.Int) *big.Int {
	if x.Cmp(y) >= 0 {
		return new(big.Int).Set(x)
	}
	return new(big.Int).Set(y)
}
