package fixedpoint

import "math/big"

const (
	// expWorkBits is the fractional precision used inside Exp.
	expWorkBits = 192
	// expMaxTerms bounds the Taylor series; with |t| <= 1/2 the terms
	// vanish well before this.
	expMaxTerms = 96
)

var (
	expUnit = new(big.Int).Lsh(big.NewInt(1), expWorkBits)
	expHalf = new(big.Int).Lsh(big.NewInt(1), expWorkBits-1)

	// e^44 exceeds the largest 64.64 value; e^-45 rounds to zero.
	expUpper = FromInt(44)
	expLower = FromInt(-45)
)

// Exp returns e^x.
//
// The argument is halved k times until |t| <= 1/2, e^t is summed as a
// Taylor series at 192 fractional bits, and the sum is squared k times
// before truncating back to 64 fractional bits.
func Exp(x *big.Int) (*big.Int, error) {
	if !InRange(x) {
		return nil, ErrArithmeticOverflow
	}
	if x.Cmp(expUpper) >= 0 {
		return nil, ErrArithmeticOverflow
	}
	if x.Cmp(expLower) < 0 {
		return new(big.Int), nil
	}

	w := new(big.Int).Lsh(x, expWorkBits-FractionalBits)
	k := uint(0)
	abs := new(big.Int).Abs(w)
	for abs.Cmp(expHalf) > 0 {
		abs.Rsh(abs, 1)
		k++
	}
	t := new(big.Int).Quo(w, new(big.Int).Lsh(big.NewInt(1), k))

	sum := new(big.Int).Set(expUnit)
	term := new(big.Int).Set(expUnit)
	for i := int64(1); i <= expMaxTerms; i++ {
		term.Mul(term, t)
		term.Quo(term, expUnit)
		term.Quo(term, big.NewInt(i))
		if term.Sign() == 0 {
			break
		}
		sum.Add(sum, term)
	}

	for ; k > 0; k-- {
		sum.Mul(sum, sum)
		sum.Quo(sum, expUnit)
	}

	return checked(sum.Rsh(sum, expWorkBits-FractionalBits))
}

// ExpNeg returns e^-x, the decay factor used by time-weighted models.
func ExpNeg(x *big.Int) (*big.Int, error) {
	n, err := Neg(x)
	if err != nil {
		return nil, err
	}
	return Exp(n)
}
