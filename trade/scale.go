package trade

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// proportionPrecision is the number of fractional digits kept when dividing
// two 18-decimal quantities.
const proportionPrecision = 36

var one = decimal.NewFromInt(1)

// ratio returns |num / den|.
func ratio(num, den *big.Int) decimal.Decimal {
	n := decimal.NewFromBigInt(num, 0)
	d := decimal.NewFromBigInt(den, 0)
	return n.DivRound(d, proportionPrecision).Abs()
}

// scale multiplies v by p, truncating toward zero to whole wei.
func scale(v *big.Int, p decimal.Decimal) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return decimal.NewFromBigInt(v, 0).Mul(p).Truncate(0).BigInt()
}

func direction(positive bool) decimal.Decimal {
	if positive {
		return one
	}
	return one.Neg()
}

func abs(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Abs(v)
}
