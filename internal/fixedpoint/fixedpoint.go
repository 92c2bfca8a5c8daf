// Package fixedpoint implements the Q17.14 signed fixed-point arithmetic
// the MLFQ scheduler uses for recent-CPU and load-average bookkeeping.
// It is a direct functional translation of original_source's
// threads/fixed-point.h macros: 17 integer bits, 14 fractional bits, scale
// F = 2^14.
package fixedpoint

// F is the fixed-point scale factor (2^14), per spec.md C1.
const F = 1 << 14

// Fixed is a Q17.14 signed fixed-point number stored in an int32. Operands
// are assumed to stay within [-2^29, 2^29] so that intermediate 64-bit
// widened products/quotients never overflow (spec.md C1).
type Fixed int32

// FromInt converts an integer to fixed-point.
func FromInt(n int) Fixed {
	return Fixed(n * F)
}

// ToIntTruncate converts to an integer, truncating toward zero.
func (x Fixed) ToIntTruncate() int {
	return int(x) / F
}

// ToIntRound converts to an integer, rounding to the nearest integer,
// ties broken away from zero (symmetric round-half-away-from-zero).
func (x Fixed) ToIntRound() int {
	if x >= 0 {
		return int(x+F/2) / F
	}
	return int(x-F/2) / F
}

// Add adds two fixed-point numbers.
func (x Fixed) Add(y Fixed) Fixed {
	return x + y
}

// Sub subtracts y from x.
func (x Fixed) Sub(y Fixed) Fixed {
	return x - y
}

// AddInt adds an ordinary int n to the fixed-point number x.
func (x Fixed) AddInt(n int) Fixed {
	return x + Fixed(n*F)
}

// SubInt subtracts an ordinary int n from the fixed-point number x.
func (x Fixed) SubInt(n int) Fixed {
	return x - Fixed(n*F)
}

// Mul multiplies two fixed-point numbers, widening to int64 so the
// intermediate product doesn't overflow a 32-bit int.
func (x Fixed) Mul(y Fixed) Fixed {
	return Fixed((int64(x) * int64(y)) / F)
}

// Div divides x by the fixed-point number y, widening to int64.
func (x Fixed) Div(y Fixed) Fixed {
	return Fixed((int64(x) * F) / int64(y))
}

// MulInt multiplies the fixed-point number x by an ordinary int n. No
// widening is needed: n is not scaled by F.
func (x Fixed) MulInt(n int) Fixed {
	return x * Fixed(n)
}

// DivInt divides the fixed-point number x by an ordinary int n.
func (x Fixed) DivInt(n int) Fixed {
	return x / Fixed(n)
}
