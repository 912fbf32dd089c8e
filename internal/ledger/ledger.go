// Package ledger implements the per-document date→value ledger and its text
// codec.
//
// On disk a ledger is the "data" section of a document's frontmatter:
//
//	data:
//	  "2024-01-01": 5
//	  "2024-01-02": "went for a run"
//
// or the empty sentinel "data: {}". Keys are always double quoted. Values are
// bare numbers or double-quoted strings with \", \\, \n and \r escaped. Encode
// always emits keys in ascending order so rewrites are deterministic and
// diff-friendly.
package ledger

import (
	"maps"
	"math"
	"slices"
	"strconv"
)

// Kind distinguishes number and string values.
type Kind uint8

// Kind values.
const (
	KindNumber Kind = iota
	KindString
)

// Value is a ledger value: either a finite number or a string.
type Value struct {
	kind Kind
	num  float64
	str  string
}

// Number returns a numeric value.
func Number(f float64) Value {
	return Value{kind: KindNumber, num: f}
}

// Text returns a string value.
func Text(s string) Value {
	return Value{kind: KindString, str: s}
}

// Kind reports which variant v holds.
func (v Value) Kind() Kind {
	return v.kind
}

// IsNumber reports whether v is numeric.
func (v Value) IsNumber() bool {
	return v.kind == KindNumber
}

// Float returns the numeric value, or 0 for strings.
func (v Value) Float() float64 {
	if v.kind != KindNumber {
		return 0
	}

	return v.num
}

// Str returns the string value, or "" for numbers.
func (v Value) Str() string {
	if v.kind != KindString {
		return ""
	}

	return v.str
}

// String renders v the way a user would type it: numbers in shortest decimal
// form, strings verbatim.
func (v Value) String() string {
	if v.kind == KindNumber {
		return formatNumber(v.num)
	}

	return v.str
}

// Equal reports whether v and o hold the same variant and value.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}

	if v.kind == KindNumber {
		return v.num == o.num
	}

	return v.str == o.str
}

// Ledger maps date keys to values.
type Ledger map[string]Value

// Keys returns the ledger keys in ascending order.
func (l Ledger) Keys() []string {
	return slices.Sorted(maps.Keys(l))
}

// Clone returns a shallow copy of l. Values are immutable, so the copy is
// independent.
func (l Ledger) Clone() Ledger {
	if l == nil {
		return Ledger{}
	}

	return maps.Clone(l)
}

// Equal reports whether l and o contain the same key-value pairs.
func (l Ledger) Equal(o Ledger) bool {
	return maps.EqualFunc(l, o, Value.Equal)
}

// Coerce converts user input into a ledger value. Plain decimal numbers
// (optional sign, digits, optional fraction) become numbers; everything else,
// including hex, exponent and Inf/NaN spellings, is kept as a string.
func Coerce(raw string) Value {
	if isPlainDecimal(raw) {
		f, err := strconv.ParseFloat(raw, 64)
		if err == nil && !math.IsInf(f, 0) && !math.IsNaN(f) {
			return Number(f)
		}
	}

	return Text(raw)
}

func isPlainDecimal(s string) bool {
	i := 0
	if i < len(s) && (s[i] == '-' || s[i] == '+') {
		i++
	}

	digits := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
		digits++
	}

	if i < len(s) && s[i] == '.' {
		i++

		for i < len(s) && s[i] >= '0' && s[i] <= '9' {
			i++
			digits++
		}
	}

	return digits > 0 && i == len(s)
}

func formatNumber(f float64) string {
	if f == 0 {
		return "0"
	}

	return strconv.FormatFloat(f, 'f', -1, 64)
}
