// Package numerics provides the fixed-point and small-enum primitives the
// clearing engine is built on: Amount (9-decimal fixed point), AssetID
// (a small registered enum with USD pinned as the numeraire), and the
// dense vector/matrix helpers the SCP driver uses for its iterates.
package numerics

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Scale is the number of fractional digits an Amount carries externally.
const Scale = 9

// Amount is a signed fixed-point quantity with 9 fractional digits,
// stored as minor units (value * 10^Scale) in an int64. It is the
// external, wire/serialization-facing representation of money; the engine's
// internal decision variables are float64 and never see an Amount directly.
type Amount struct {
	minor int64
}

// scaleFactor is 10^Scale as a decimal, used for parse/format round trips.
var scaleFactor = decimal.New(1, Scale)

// ZeroAmount is the additive identity.
var ZeroAmount = Amount{}

// NewAmountFromMinor constructs an Amount directly from minor units
// (value * 10^Scale), e.g. for values already in the wire representation.
func NewAmountFromMinor(minor int64) Amount {
	return Amount{minor: minor}
}

// ParseAmount parses a decimal string ("1234.56789...") into an Amount,
// rounding to Scale fractional digits (banker's-rounding-free: half away
// from zero, matching shopspring/decimal's default Round).
func ParseAmount(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, fmt.Errorf("numerics: parse amount %q: %w", s, err)
	}
	scaled := d.Mul(scaleFactor).Round(0)
	if !scaled.IsInteger() {
		return Amount{}, fmt.Errorf("numerics: amount %q does not fit in %d fractional digits", s, Scale)
	}
	return Amount{minor: scaled.IntPart()}, nil
}

// AmountFromFloat converts an engine-internal float64 back to an Amount,
// rounding to Scale fractional digits. Used only at the engine's output
// boundary (fills, inventories); never inside the SCP driver itself.
func AmountFromFloat(f float64) Amount {
	d := decimal.NewFromFloat(f).Mul(scaleFactor).Round(0)
	return Amount{minor: d.IntPart()}
}

// Float64 converts to the engine's internal float64 representation.
func (a Amount) Float64() float64 {
	return decimal.New(a.minor, -Scale).InexactFloat64()
}

// Minor returns the raw minor-unit integer (value * 10^Scale).
func (a Amount) Minor() int64 {
	return a.minor
}

// String formats the amount as a decimal string with trailing fractional
// zeros dropped, e.g. "1234.5" or "140".
func (a Amount) String() string {
	return decimal.New(a.minor, -Scale).String()
}

// IsPositive reports whether the amount is strictly greater than zero.
func (a Amount) IsPositive() bool {
	return a.minor > 0
}

// Add returns a + b.
func (a Amount) Add(b Amount) Amount {
	return Amount{minor: a.minor + b.minor}
}

// Sub returns a - b.
func (a Amount) Sub(b Amount) Amount {
	return Amount{minor: a.minor - b.minor}
}

// MarshalJSON encodes the amount as a JSON string ("1234.5"), not a
// bare number, so clients never lose precision to float64 JSON decoding.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.String() + `"`), nil
}

// UnmarshalJSON decodes a JSON string into an Amount.
func (a *Amount) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	parsed, err := ParseAmount(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
