package models

import (
	"math/big"
	"regexp"
	"strings"
)

// DisplayOrder is a decimal sort key stored as text ("1", "1.5", "2.25").
// New siblings are placed between existing keys without renumbering.
type DisplayOrder string

const (
	// MaxDisplayOrderLength caps the text length of a key
	MaxDisplayOrderLength = 128
	// maxRenderPrecision bounds the number of fractional digits a key renders with
	maxRenderPrecision    = 64
)

var displayOrderPattern = regexp.MustCompile(`^-?[0-9]+(\.[0-9]+)?$`)

// FirstDisplayOrder returns the key used for the first item of an empty list
func FirstDisplayOrder() DisplayOrder {
	return "1"
}

// Rat parses the key. ok is false for empty keys, keys longer than
// MaxDisplayOrderLength and anything but plain decimals (no exponents,
// hex, underscores or fractions).
func (d DisplayOrder) Rat() (*big.Rat, bool) {
	s := strings.TrimSpace(string(d))
	if s == "" || len(s) > MaxDisplayOrderLength || !displayOrderPattern.MatchString(s) {
		return nil, false
	}
	r, ok := new(big.Rat).SetString(s)
	if !ok {
		return nil, false
	}
	return r, true
}

// Valid reports whether the key parses as a decimal number
func (d DisplayOrder) Valid() bool {
	_, ok := d.Rat()
	return ok
}

// CompareDisplayOrder orders a before b numerically. Keys that do not parse
// sort after every valid key and compare equal to each other.
func CompareDisplayOrder(a, b DisplayOrder) int {
	ra, _ := a.Rat()
	rb, _ := b.Rat()
	return CompareParsedOrder(ra, rb)
}

// CompareParsedOrder compares keys already parsed with Rat. nil stands for
// an invalid key and sorts last.
func CompareParsedOrder(a, b *big.Rat) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	return a.Cmp(b)
}

// Between returns a key strictly between a and b. An invalid bound is treated
// as missing: Between("", b) sorts before b, Between(a, "") is After(a).
func Between(a, b DisplayOrder) DisplayOrder {
	ra, okA := a.Rat()
	rb, okB := b.Rat()
	switch {
	case !okA && !okB:
		return FirstDisplayOrder()
	case !okA:
		// halfway between floor(b)-1 and b keeps keys positive for small b
		lower := new(big.Rat).SetInt(floor(rb))
		lower.Sub(lower, big.NewRat(1, 1))
		return renderRat(midpoint(lower, rb))
	case !okB:
		return After(a)
	}
	if ra.Cmp(rb) > 0 {
		ra, rb = rb, ra
	}
	return renderRat(midpoint(ra, rb))
}

// After returns the next whole key after a (floor(a)+1)
func After(a DisplayOrder) DisplayOrder {
	r, ok := a.Rat()
	if !ok {
		return FirstDisplayOrder()
	}
	next := floor(r)
	next.Add(next, big.NewInt(1))
	return DisplayOrder(next.String())
}

// MaxDisplayOrder returns the largest valid key in keys, or "" if none is valid
func MaxDisplayOrder(keys ...DisplayOrder) DisplayOrder {
	var best DisplayOrder
	for _, k := range keys {
		if !k.Valid() {
			continue
		}
		if best == "" || CompareDisplayOrder(k, best) > 0 {
			best = k
		}
	}
	return best
}

func midpoint(a, b *big.Rat) *big.Rat {
	sum := new(big.Rat).Add(a, b)
	return sum.Quo(sum, big.NewRat(2, 1))
}

func floor(r *big.Rat) *big.Int {
	// Euclidean division with a positive denominator rounds toward -inf
	q, _ := new(big.Int).DivMod(r.Num(), r.Denom(), new(big.Int))
	return q
}

// renderRat prints r with the fewest fractional digits that round-trip exactly
func renderRat(r *big.Rat) DisplayOrder {
	if r.IsInt() {
		return DisplayOrder(r.Num().String())
	}
	for prec := 1; prec <= maxRenderPrecision; prec++ {
		s := r.FloatString(prec)
		back, ok := new(big.Rat).SetString(s)
		if ok && back.Cmp(r) == 0 {
			return DisplayOrder(s)
		}
	}
	return DisplayOrder(r.FloatString(maxRenderPrecision))
}
