// Package habit defines tracker modes and the per-document tracker
// configuration read from a document's frontmatter.
package habit

import (
	"math"
	"strings"

	"github.com/calvinalkan/habits/internal/frontmatter"
)

// Mode is the tracker type. It decides how values are normalized and what
// counts as a successful day.
type Mode string

// Modes.
const (
	GoodHabit Mode = "good-habit"
	BadHabit  Mode = "bad-habit"
	Number    Mode = "number"
	PlusMinus Mode = "plusminus"
	Rating    Mode = "rating"
	Text      Mode = "text"
	Scale     Mode = "scale"
)

// Modes lists every valid mode.
var Modes = []Mode{GoodHabit, BadHabit, Number, PlusMinus, Rating, Text, Scale}

// ParseMode returns the mode named by s (case-insensitive). Unknown or empty
// names resolve to [GoodHabit].
func ParseMode(s string) Mode {
	s = strings.ToLower(strings.TrimSpace(s))

	for _, m := range Modes {
		if string(m) == s {
			return m
		}
	}

	return GoodHabit
}

// IsHabit reports whether m is a yes/no habit mode.
func (m Mode) IsHabit() bool {
	return m == GoodHabit || m == BadHabit
}

// Header keys read by [FromHeader].
const (
	KeyMode      = "type"
	KeyUnit      = "unit"
	KeyMinValue  = "minValue"
	KeyMaxValue  = "maxValue"
	KeyStep      = "step"
	KeyMinLimit  = "minLimit"
	KeyMaxLimit  = "maxLimit"
	KeyMaxRating = "maxRating"
	KeyStartDate = "startDate"
)

// Defaults applied by the accessor methods when a field is unset.
const (
	DefaultStep      = 1.0
	DefaultMaxRating = 5
	DefaultScaleMin  = 0.0
	DefaultScaleMax  = 10.0
)

// Config is the tracker configuration of one document. Optional numeric
// fields are nil when the header does not set them.
type Config struct {
	Mode      Mode
	Unit      string
	MinValue  *float64 // scale/plusminus lower bound
	MaxValue  *float64 // scale/plusminus upper bound
	Step      *float64 // scale/plusminus increment
	MinLimit  *float64 // success range lower bound for number metrics
	MaxLimit  *float64 // success range upper bound for number metrics
	MaxRating *int     // number of rating steps
	StartDate string   // explicit tracking start override, as written
}

// DefaultConfig returns a good-habit configuration without bounds.
func DefaultConfig() Config {
	return Config{Mode: GoodHabit}
}

// FromHeader derives a configuration from a parsed frontmatter header. Fields
// that are missing or have the wrong type are left unset.
func FromHeader(doc *frontmatter.Document) Config {
	cfg := DefaultConfig()

	if s, ok := doc.Field(KeyMode); ok {
		cfg.Mode = ParseMode(s.String)
	}

	if s, ok := doc.Field(KeyUnit); ok {
		cfg.Unit = s.String
	}

	if s, ok := doc.Field(KeyStartDate); ok {
		cfg.StartDate = s.String
	}

	cfg.MinValue = number(doc, KeyMinValue)
	cfg.MaxValue = number(doc, KeyMaxValue)
	cfg.Step = number(doc, KeyStep)
	cfg.MinLimit = number(doc, KeyMinLimit)
	cfg.MaxLimit = number(doc, KeyMaxLimit)

	if n := number(doc, KeyMaxRating); n != nil && *n >= 1 && *n == math.Trunc(*n) {
		r := int(*n)
		cfg.MaxRating = &r
	}

	if cfg.Step != nil && *cfg.Step <= 0 {
		cfg.Step = nil
	}

	return cfg
}

// Parse derives a configuration from full document text.
func Parse(src []byte) (Config, error) {
	doc, err := frontmatter.Split(src)
	if err != nil {
		return DefaultConfig(), err
	}

	return FromHeader(doc), nil
}

// StepOrDefault returns Step or [DefaultStep].
func (c Config) StepOrDefault() float64 {
	if c.Step == nil {
		return DefaultStep
	}

	return *c.Step
}

// MaxRatingOrDefault returns MaxRating or [DefaultMaxRating].
func (c Config) MaxRatingOrDefault() int {
	if c.MaxRating == nil {
		return DefaultMaxRating
	}

	return *c.MaxRating
}

// Bounds returns the value range for scale-like modes, falling back to
// [DefaultScaleMin]..[DefaultScaleMax].
func (c Config) Bounds() (float64, float64) {
	lo, hi := DefaultScaleMin, DefaultScaleMax
	if c.MinValue != nil {
		lo = *c.MinValue
	}

	if c.MaxValue != nil {
		hi = *c.MaxValue
	}

	return lo, hi
}

// InLimits reports whether v lies inside the optional [MinLimit, MaxLimit]
// success range. Missing bounds are open.
func (c Config) InLimits(v float64) bool {
	if c.MinLimit != nil && v < *c.MinLimit {
		return false
	}

	if c.MaxLimit != nil && v > *c.MaxLimit {
		return false
	}

	return true
}

func number(doc *frontmatter.Document, key string) *float64 {
	s, ok := doc.Field(key)
	if !ok || s.Kind != frontmatter.ScalarNumber {
		return nil
	}

	n := s.Number

	return &n
}
