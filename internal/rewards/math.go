package rewards

import (
	"math"

	"github.com/holiman/uint256"
)

// SecondsPerYear is the annualisation base for reward rates.
const SecondsPerYear uint64 = 365 * 24 * 60 * 60

var (
	// precision scales reward-per-token values so fractional rewards survive integer division.
	precision = uint256.NewInt(math.MaxUint64)

	// maxAccumulator bounds reward-per-token values to 128 bits.
	maxAccumulator = new(uint256.Int).Sub(new(uint256.Int).Lsh(uint256.NewInt(1), 128), uint256.NewInt(1))
)

// Precision returns the fixed-point factor P.
func Precision() *uint256.Int {
	return precision.Clone()
}

// mulDiv computes floor(x*y/d) using a 512-bit intermediate product.
func mulDiv(x, y, d *uint256.Int) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, ErrDivideByZero
	}
	z, overflow := new(uint256.Int).MulDivOverflow(x, y, d)
	if overflow {
		return nil, ErrOverflow
	}
	return z, nil
}

// mulU64 multiplies two amounts and fails if the result leaves the uint64 range.
func mulU64(a, b uint64) (uint64, error) {
	z, overflow := new(uint256.Int).MulOverflow(uint256.NewInt(a), uint256.NewInt(b))
	if overflow || !z.IsUint64() {
		return 0, ErrOverflow
	}
	return z.Uint64(), nil
}

func addU64(a, b uint64) (uint64, error) {
	if a > math.MaxUint64-b {
		return 0, ErrOverflow
	}
	return a + b, nil
}

func subU64(a, b uint64) (uint64, error) {
	if b > a {
		return 0, ErrUnderflow
	}
	return a - b, nil
}

// AddAmount adds two token amounts, failing on overflow.
func AddAmount(a, b uint64) (uint64, error) {
	return addU64(a, b)
}

// SubAmount subtracts b from a, failing on underflow.
func SubAmount(a, b uint64) (uint64, error) {
	return subU64(a, b)
}
