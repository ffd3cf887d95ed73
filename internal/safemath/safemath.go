// Package safemath provides the checked arithmetic used by every money
// computation in the engine. Operations never wrap or saturate: on overflow
// they return an error wrapping domain.ErrMathOverflow, and on a zero divisor
// one wrapping domain.ErrDivisionByZero.
package safemath

import (
	"fmt"
	"math"
	"math/bits"

	gmath "github.com/ethereum/go-ethereum/common/math"

	"github.com/alanyoungcy/vaultbot/internal/domain"
)

func overflow(op string, a, b any) error {
	return fmt.Errorf("safemath: %v %s %v: %w", a, op, b, domain.ErrMathOverflow)
}

// Add returns a + b.
func Add(a, b uint64) (uint64, error) {
	r, over := gmath.SafeAdd(a, b)
	if over {
		return 0, overflow("+", a, b)
	}
	return r, nil
}

// Sub returns a - b. A negative result is an overflow.
func Sub(a, b uint64) (uint64, error) {
	r, over := gmath.SafeSub(a, b)
	if over {
		return 0, overflow("-", a, b)
	}
	return r, nil
}

// Mul returns a * b.
func Mul(a, b uint64) (uint64, error) {
	r, over := gmath.SafeMul(a, b)
	if over {
		return 0, overflow("*", a, b)
	}
	return r, nil
}

// Div returns a / b, truncated.
func Div(a, b uint64) (uint64, error) {
	if b == 0 {
		return 0, fmt.Errorf("safemath: %d / 0: %w", a, domain.ErrDivisionByZero)
	}
	return a / b, nil
}

// MulDiv returns a * b / c computed with a 128-bit intermediate, so only a
// quotient that does not fit in 64 bits overflows.
func MulDiv(a, b, c uint64) (uint64, error) {
	if c == 0 {
		return 0, fmt.Errorf("safemath: %d * %d / 0: %w", a, b, domain.ErrDivisionByZero)
	}
	hi, lo := bits.Mul64(a, b)
	if hi >= c {
		return 0, fmt.Errorf("safemath: %d * %d / %d: %w", a, b, c, domain.ErrMathOverflow)
	}
	q, _ := bits.Div64(hi, lo, c)
	return q, nil
}

// AddInt returns a + b.
func AddInt(a, b int64) (int64, error) {
	r := a + b
	if (b > 0 && r < a) || (b < 0 && r > a) {
		return 0, overflow("+", a, b)
	}
	return r, nil
}

// SubInt returns a - b.
func SubInt(a, b int64) (int64, error) {
	r := a - b
	if (b > 0 && r > a) || (b < 0 && r < a) {
		return 0, overflow("-", a, b)
	}
	return r, nil
}

// MulInt returns a * b.
func MulInt(a, b int64) (int64, error) {
	if a == 0 || b == 0 {
		return 0, nil
	}
	r := a * b
	if (a == -1 && b == math.MinInt64) || (b == -1 && a == math.MinInt64) || r/b != a {
		return 0, overflow("*", a, b)
	}
	return r, nil
}

// ToInt64 converts an unsigned amount to a signed one.
func ToInt64(v uint64) (int64, error) {
	if v > math.MaxInt64 {
		return 0, fmt.Errorf("safemath: %d does not fit int64: %w", v, domain.ErrMathOverflow)
	}
	return int64(v), nil
}

// ToUint64 converts a non-negative signed value to an unsigned one.
func ToUint64(v int64) (uint64, error) {
	if v < 0 {
		return 0, fmt.Errorf("safemath: %d is negative: %w", v, domain.ErrMathOverflow)
	}
	return uint64(v), nil
}

// Abs returns |v| as an unsigned value; it is defined for math.MinInt64.
func Abs(v int64) uint64 {
	if v < 0 {
		return uint64(-(v + 1)) + 1
	}
	return uint64(v)
}
