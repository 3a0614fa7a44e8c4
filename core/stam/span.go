package stam

import (
	"fmt"

	"github.com/FocuswithJustin/PechaStam/core/errors"
)

// Span is a half-open range [Start, End) of code points within a resource text.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// NewSpan creates a validated span.
func NewSpan(start, end int) (Span, error) {
	s := Span{Start: start, End: end}
	if err := s.Validate(); err != nil {
		return Span{}, err
	}
	return s, nil
}

// Validate checks that both offsets are non-negative and End >= Start.
func (s Span) Validate() error {
	if s.Start < 0 || s.End < 0 {
		return &errors.ValidationError{
			Field:   "span",
			Value:   s.String(),
			Message: "Span start and end must not be negative",
		}
	}
	if s.End < s.Start {
		return &errors.ValidationError{
			Field:   "span",
			Value:   s.String(),
			Message: "Span end must not be less than start",
		}
	}
	return nil
}

// Len returns the number of code points covered by the span.
func (s Span) Len() int {
	if s.End < s.Start {
		return 0
	}
	return s.End - s.Start
}

// IsEmpty reports whether the span covers no text.
func (s Span) IsEmpty() bool {
	return s.End <= s.Start
}

// Contains reports whether o lies entirely within s.
func (s Span) Contains(o Span) bool {
	return o.Start >= s.Start && o.End <= s.End
}

// Overlaps reports whether s and o share at least one code point.
func (s Span) Overlaps(o Span) bool {
	return s.Start < o.End && o.Start < s.End
}

func (s Span) String() string {
	return fmt.Sprintf("[%d,%d)", s.Start, s.End)
}
