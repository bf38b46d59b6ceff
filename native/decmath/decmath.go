// Package decmath implements the 18-decimal fixed-point arithmetic used for
// all collateral and debt accounting. Amounts are *big.Int values scaled by
// Unit; multiply and divide truncate toward zero so the fee and interest
// calculations stay deterministic across platforms.
package decmath

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// Decimals is the fixed number of decimal places carried by every amount.
const Decimals = 18

// Unit is the fixed-point representation of 1.0.
var Unit = mustBigInt("1000000000000000000")

var (
	halfUnit = new(big.Int).Rsh(Unit, 1)
	ten      = big.NewInt(10)
)

// ErrInvalidDecimal reports an unparseable decimal literal.
var ErrInvalidDecimal = errors.New("decmath: invalid decimal literal")

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}

// MulDecimal returns trunc(a*b/Unit). A nil operand is treated as zero.
func MulDecimal(a, b *big.Int) *big.Int {
	if a == nil || b == nil {
		return big.NewInt(0)
	}
	product := new(big.Int).Mul(a, b)
	return product.Quo(product, Unit)
}

// DivDecimal returns trunc(a*Unit/b). Division by zero yields zero, matching
// the defensive convention of the ledger math throughout this repo.
func DivDecimal(a, b *big.Int) *big.Int {
	if a == nil || b == nil || b.Sign() == 0 {
		return big.NewInt(0)
	}
	numerator := new(big.Int).Mul(a, Unit)
	return numerator.Quo(numerator, b)
}

// MulDecimalRound behaves like MulDecimal with half-up rounding. Used on the
// interest-factor path where systematic truncation would bias the index.
func MulDecimalRound(a, b *big.Int) *big.Int {
	if a == nil || b == nil {
		return big.NewInt(0)
	}
	product := new(big.Int).Mul(a, b)
	product.Add(product, halfUnit)
	return product.Quo(product, Unit)
}

// DivDecimalRound behaves like DivDecimal with half-up rounding.
func DivDecimalRound(a, b *big.Int) *big.Int {
	if a == nil || b == nil || b.Sign() == 0 {
		return big.NewInt(0)
	}
	numerator := new(big.Int).Mul(a, Unit)
	numerator.Add(numerator, halfUp(b))
	return numerator.Quo(numerator, b)
}

// FromInt lifts a whole number into fixed-point scale.
func FromInt(v int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(v), Unit)
}

// Parse converts a decimal literal such as "1.2" or "0.0667" into fixed-point
// scale. More than 18 fractional digits is rejected rather than silently
// truncated.
func Parse(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, ErrInvalidDecimal
	}
	negative := false
	if trimmed[0] == '+' || trimmed[0] == '-' {
		negative = trimmed[0] == '-'
		trimmed = trimmed[1:]
	}
	whole := trimmed
	frac := ""
	if idx := strings.IndexByte(trimmed, '.'); idx >= 0 {
		whole = trimmed[:idx]
		frac = trimmed[idx+1:]
	}
	if whole == "" && frac == "" {
		return nil, ErrInvalidDecimal
	}
	if len(frac) > Decimals {
		return nil, fmt.Errorf("%w: %q exceeds %d fractional digits", ErrInvalidDecimal, value, Decimals)
	}
	if whole == "" {
		whole = "0"
	}
	wholePart, ok := new(big.Int).SetString(whole, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDecimal, value)
	}
	result := new(big.Int).Mul(wholePart, Unit)
	if frac != "" {
		fracPart, ok := new(big.Int).SetString(frac, 10)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrInvalidDecimal, value)
		}
		scale := new(big.Int).Exp(ten, big.NewInt(int64(Decimals-len(frac))), nil)
		result.Add(result, fracPart.Mul(fracPart, scale))
	}
	if negative {
		result.Neg(result)
	}
	return result, nil
}

// Format renders a fixed-point value as a decimal literal, trimming
// trailing zeros. The inverse of Parse.
func Format(v *big.Int) string {
	if v == nil || v.Sign() == 0 {
		return "0"
	}
	abs := new(big.Int).Abs(v)
	whole, frac := new(big.Int).QuoRem(abs, Unit, new(big.Int))
	out := whole.String()
	if v.Sign() < 0 {
		out = "-" + out
	}
	if frac.Sign() == 0 {
		return out
	}
	digits := fmt.Sprintf("%018s", frac.String())
	digits = strings.TrimRight(digits, "0")
	return out + "." + digits
}

// Clone returns a defensive copy, mapping nil to zero.
func Clone(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func halfUp(x *big.Int) *big.Int {
	if x == nil || x.Sign() <= 0 {
		return big.NewInt(0)
	}
	half := new(big.Int).Add(x, big.NewInt(1))
	return half.Rsh(half, 1)
}
