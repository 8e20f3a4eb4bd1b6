// Package units converts between the ledger's fixed-point integers and the
// decimal strings shown at the application edge. All balance-affecting math
// stays on big.Int; binary floating point never touches an amount.
package units

import (
	"math/big"
	"strings"

	"github.com/pkg/errors"

	"github.com/vibefeed/vibefeed/sys"
)

var (
	ErrBadAmount = errors.New("units: malformed decimal amount")

	// Scale is 10^sys.TokenDecimals.
	Scale = new(big.Int).Exp(big.NewInt(10), big.NewInt(sys.TokenDecimals), nil)

	zero = big.NewInt(0)
)

// Amount is a non-negative token quantity at fixed-point scale.
type Amount struct {
	raw big.Int
}

// Zero returns the zero amount.
func Zero() Amount {
	return Amount{}
}

// FromRaw wraps an already-scaled integer. The input is copied.
func FromRaw(raw *big.Int) (Amount, error) {
	if raw == nil || raw.Sign() < 0 {
		return Amount{}, ErrBadAmount
	}

	var a Amount
	a.raw.Set(raw)

	return a, nil
}

// FromRawString parses a base-10 scaled integer as emitted by the ledger.
func FromRawString(s string) (Amount, error) {
	raw, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return Amount{}, errors.Wrapf(ErrBadAmount, "raw %q", s)
	}

	return FromRaw(raw)
}

// Parse converts a decimal string such as "1000.5" into a scaled amount.
// At most sys.TokenDecimals fractional digits are accepted; the conversion
// is exact or it fails.
func Parse(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "." {
		return Amount{}, errors.Wrapf(ErrBadAmount, "amount %q", s)
	}

	whole, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole, frac = s[:i], s[i+1:]
	}

	if len(frac) > sys.TokenDecimals {
		return Amount{}, errors.Wrapf(ErrBadAmount, "amount %q has more than %d fractional digits", s, sys.TokenDecimals)
	}

	if whole == "" {
		whole = "0"
	}

	if !digitsOnly(whole) || (frac != "" && !digitsOnly(frac)) {
		return Amount{}, errors.Wrapf(ErrBadAmount, "amount %q", s)
	}

	// Right-pad the fraction to the full scale and stitch the digits
	// back together as one integer.
	padded := frac + strings.Repeat("0", sys.TokenDecimals-len(frac))

	raw, ok := new(big.Int).SetString(whole+padded, 10)
	if !ok {
		return Amount{}, errors.Wrapf(ErrBadAmount, "amount %q", s)
	}

	return FromRaw(raw)
}

// MustParse is Parse for trusted constants.
func MustParse(s string) Amount {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}

	return a
}

// FromWhole scales a whole-token count.
func FromWhole(tokens uint64) Amount {
	var a Amount
	a.raw.Mul(new(big.Int).SetUint64(tokens), Scale)

	return a
}

// Raw returns a copy of the scaled integer.
func (a Amount) Raw() *big.Int {
	return new(big.Int).Set(&a.raw)
}

// RawString renders the scaled integer in base 10, the form the ledger
// program expects.
func (a Amount) RawString() string {
	return a.raw.String()
}

// String renders the amount as a decimal with trailing zeroes trimmed,
// e.g. 1000500000000000000000 -> "1000.5".
func (a Amount) String() string {
	q, r := new(big.Int).QuoRem(a.Raw(), Scale, new(big.Int))

	if r.Sign() == 0 {
		return q.String()
	}

	frac := r.String()
	frac = strings.Repeat("0", sys.TokenDecimals-len(frac)) + frac
	frac = strings.TrimRight(frac, "0")

	return q.String() + "." + frac
}

// Whole truncates to whole tokens.
func (a Amount) Whole() uint64 {
	return new(big.Int).Quo(a.Raw(), Scale).Uint64()
}

// IsZero reports whether the amount is exactly zero.
func (a Amount) IsZero() bool {
	return a.raw.Sign() == 0
}

// Cmp compares two amounts the way big.Int.Cmp does.
func (a Amount) Cmp(b Amount) int {
	return a.raw.Cmp(&b.raw)
}

// Add returns a+b.
func (a Amount) Add(b Amount) Amount {
	var out Amount
	out.raw.Add(&a.raw, &b.raw)

	return out
}

// Sub returns a-b, floored at zero: aggregate quantities in the snapshot
// are never negative, even mid-rollback.
func (a Amount) Sub(b Amount) Amount {
	var out Amount
	out.raw.Sub(&a.raw, &b.raw)

	if out.raw.Cmp(zero) < 0 {
		out.raw.SetInt64(0)
	}

	return out
}

// DivWhole divides by a whole-number divisor, truncating. Used for derived
// quantities such as voting power.
func (a Amount) DivWhole(divisor uint64) uint64 {
	if divisor == 0 {
		return 0
	}

	q := new(big.Int).Quo(a.Raw(), Scale)

	return new(big.Int).Quo(q, new(big.Int).SetUint64(divisor)).Uint64()
}

func digitsOnly(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}

	return len(s) > 0
}
