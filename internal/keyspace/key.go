// Package keyspace provides exact interval arithmetic over the ordered
// integer search space. Keys are arbitrary-precision unsigned integers:
// the puzzles this tool targets have interval widths around 2^69, far
// beyond what a float64 can represent exactly, so no operation in this
// package ever routes a key or a width through floating point.
package keyspace

import (
	"fmt"
	"math"
	"math/big"
	"strings"

	"github.com/bitrange/rangepool/internal/errors"
)

// percentScale is the fixed-point scale used for percentage arithmetic:
// one unit is a hundredth of a basis point, giving four decimal places.
const percentScale = 1_000_000

// Key is an arbitrary-precision unsigned integer position in the keyspace.
// The zero value is the key 0. Keys are immutable; arithmetic methods
// return new values. JSON round-trips as a decimal string.
type Key struct {
	v *big.Int
}

// NewKey returns the Key for a small constant.
func NewKey(n uint64) Key {
	return Key{v: new(big.Int).SetUint64(n)}
}

// ParseKey parses a decimal string, or a hex string prefixed with "0x".
func ParseKey(s string) (Key, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Key{}, errors.NewValidationError("key must not be empty")
	}
	base := 10
	digits := s
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		base = 16
		digits = s[2:]
	}
	v, ok := new(big.Int).SetString(digits, base)
	if !ok {
		return Key{}, errors.NewValidationError("malformed key").WithValue(s)
	}
	if v.Sign() < 0 {
		return Key{}, errors.NewValidationError("key must not be negative").WithValue(s)
	}
	return Key{v: v}, nil
}

// MustParseKey is ParseKey for compile-time constants; it panics on error.
func MustParseKey(s string) Key {
	k, err := ParseKey(s)
	if err != nil {
		panic(err)
	}
	return k
}

// PowerOfTwo returns 2^n.
func PowerOfTwo(n uint) Key {
	return Key{v: new(big.Int).Lsh(big.NewInt(1), n)}
}

func (k Key) big() *big.Int {
	if k.v == nil {
		return new(big.Int)
	}
	return k.v
}

// Cmp compares k and other, returning -1, 0, or +1.
func (k Key) Cmp(other Key) int {
	return k.big().Cmp(other.big())
}

// IsZero reports whether the key is 0.
func (k Key) IsZero() bool {
	return k.big().Sign() == 0
}

// Add returns k + other.
func (k Key) Add(other Key) Key {
	return Key{v: new(big.Int).Add(k.big(), other.big())}
}

// Sub returns k - other. The result must not be negative.
func (k Key) Sub(other Key) Key {
	r := new(big.Int).Sub(k.big(), other.big())
	if r.Sign() < 0 {
		panic("keyspace: negative key from Sub")
	}
	return Key{v: r}
}

// DivInt returns floor(k / n) for a small positive divisor.
func (k Key) DivInt(n int64) Key {
	if n <= 0 {
		panic("keyspace: non-positive divisor")
	}
	return Key{v: new(big.Int).Div(k.big(), big.NewInt(n))}
}

// MulInt returns k * n for a small non-negative factor.
func (k Key) MulInt(n int64) Key {
	if n < 0 {
		panic("keyspace: negative factor")
	}
	return Key{v: new(big.Int).Mul(k.big(), big.NewInt(n))}
}

// String returns the decimal representation.
func (k Key) String() string {
	return k.big().String()
}

// Hex returns the upper-case hexadecimal representation without a prefix,
// the form the search executables take on their command line.
func (k Key) Hex() string {
	return strings.ToUpper(k.big().Text(16))
}

// PaddedHex returns Hex left-padded with zeros to the given width.
func (k Key) PaddedHex(width int) string {
	h := k.Hex()
	if len(h) >= width {
		return h
	}
	return strings.Repeat("0", width-len(h)) + h
}

// Float64 returns an approximate float64 value. Only for display and rate
// math (ETA estimation); never feed the result back into key arithmetic.
func (k Key) Float64() float64 {
	f, _ := new(big.Float).SetInt(k.big()).Float64()
	return f
}

// MarshalJSON encodes the key as a decimal string.
func (k Key) MarshalJSON() ([]byte, error) {
	return []byte(`"` + k.big().String() + `"`), nil
}

// UnmarshalJSON decodes a decimal string. Bare JSON numbers are rejected:
// they pass through float64 in many producers and cannot be trusted at
// keyspace magnitudes.
func (k *Key) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return errors.NewValidationError("key must be encoded as a decimal string").WithValue(s)
	}
	parsed, err := ParseKey(s[1 : len(s)-1])
	if err != nil {
		return err
	}
	k.v = parsed.v
	return nil
}

// PercentOffset computes min + floor(percent/100 * size) entirely in
// integer arithmetic. The percentage is carried at four decimal places;
// size itself never touches floating point.
func PercentOffset(percent float64, min, size Key) (Key, error) {
	scaled, err := scalePercent(percent)
	if err != nil {
		return Key{}, err
	}
	offset := new(big.Int).Mul(size.big(), big.NewInt(scaled))
	offset.Div(offset, big.NewInt(100*percentScale))
	return min.Add(Key{v: offset}), nil
}

// Percent returns part/whole as a percentage truncated to two decimal
// places, derived exclusively from the two integers.
func Percent(part, whole Key) float64 {
	if whole.IsZero() {
		return 0
	}
	// part * 10000 / whole yields an integer number of hundredths.
	hundredths := new(big.Int).Mul(part.big(), big.NewInt(10000))
	hundredths.Div(hundredths, whole.big())
	return float64(hundredths.Int64()) / 100
}

// FormatPercent renders a two-decimal percentage such as "50.00".
func FormatPercent(pct float64) string {
	return fmt.Sprintf("%.2f", pct)
}

// scalePercent converts a percentage in [0,100] to percentScale units,
// validating the range before any arithmetic.
func scalePercent(percent float64) (int64, error) {
	if math.IsNaN(percent) || percent < 0 || percent > 100 {
		return 0, errors.NewValidationError("percent must be within [0,100]").
			WithField("percent").WithValue(percent)
	}
	return int64(math.Round(percent * percentScale)), nil
}
