package costgate

import (
	"fmt"
	"math"
	"math/big"
	"strings"
)

// MicroUSD is the ledger's public money unit: 1 USD = 1,000,000 micro-USD.
// Money is never represented as a floating-point value.
type MicroUSD int64

// MicroCents is the cache counter's internal unit: micro-USD scaled by 100.
// 1 USD = 100,000,000 micro-cents.
type MicroCents int64

// DefaultCeilingMicroUSD is the default absolute amount ceiling: $100,000.
const DefaultCeilingMicroUSD MicroUSD = 100_000 * 1_000_000

// maxSafeMicroUSD is the largest micro-USD value that converts to
// micro-cents without overflowing int64.
const maxSafeMicroUSD MicroUSD = math.MaxInt64 / 100

// Cents converts micro-USD to micro-cents. Exact for every value the
// validator admits (amounts are capped well below the int64/100 boundary).
func (u MicroUSD) Cents() MicroCents {
	return MicroCents(u) * 100
}

// USD converts micro-cents to micro-USD by floor division, discarding up to
// 99 micro-cents. A round trip through Cents is lossless; the reverse round
// trip loses at most 99 units.
func (c MicroCents) USD() MicroUSD {
	return MicroUSD(c / 100)
}

// ValidateAmount checks that an amount is within [0, ceiling]. A zero
// ceiling means DefaultCeilingMicroUSD. The returned error names field.
func ValidateAmount(field string, v MicroUSD, ceiling MicroUSD) error {
	if ceiling <= 0 {
		ceiling = DefaultCeilingMicroUSD
	}
	if v < 0 {
		return &ValidationError{Field: field, Reason: "amount must be non-negative"}
	}
	if v > ceiling || v > maxSafeMicroUSD {
		return &ValidationError{Field: field, Reason: "amount exceeds ceiling"}
	}
	return nil
}

// ParseMicroUSD coerces a decimal string into a micro-USD amount. Only
// non-negative integer digit strings are accepted: signs, fractions,
// exponents, NaN/Infinity spellings and any non-digit characters are
// rejected with a ValidationError naming field.
func ParseMicroUSD(field, s string) (MicroUSD, error) {
	if s == "" {
		return 0, &ValidationError{Field: field, Reason: "empty amount"}
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, &ValidationError{Field: field, Reason: "amount must be a non-negative integer string"}
		}
	}
	// Digit strings can still overflow int64; detect via big.Int rather
	// than silently wrapping.
	n, ok := new(big.Int).SetString(s, 10)
	if !ok || !n.IsInt64() {
		return 0, &ValidationError{Field: field, Reason: "amount out of range"}
	}
	return MicroUSD(n.Int64()), nil
}

// CoerceMicroUSD coerces a float64 (e.g. decoded JSON number) into a
// micro-USD amount, rejecting NaN, Infinity, negatives and non-integers.
func CoerceMicroUSD(field string, f float64) (MicroUSD, error) {
	switch {
	case math.IsNaN(f):
		return 0, &ValidationError{Field: field, Reason: "amount is NaN"}
	case math.IsInf(f, 0):
		return 0, &ValidationError{Field: field, Reason: "amount is infinite"}
	case f < 0:
		return 0, &ValidationError{Field: field, Reason: "amount must be non-negative"}
	case f != math.Trunc(f):
		return 0, &ValidationError{Field: field, Reason: "amount must be an integer"}
	case f > float64(maxSafeMicroUSD):
		return 0, &ValidationError{Field: field, Reason: "amount out of range"}
	}
	return MicroUSD(f), nil
}

// FormatUSD renders a micro-USD amount as a dollar string for logs.
func FormatUSD(v MicroUSD) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	dollars := int64(v) / 1_000_000
	frac := int64(v) % 1_000_000
	if frac == 0 {
		return fmt.Sprintf("%s$%d", sign, dollars)
	}
	s := strings.TrimRight(fmt.Sprintf("%06d", frac), "0")
	return fmt.Sprintf("%s$%d.%s", sign, dollars, s)
}
