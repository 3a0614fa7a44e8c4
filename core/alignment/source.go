package alignment

import (
	"regexp"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/FocuswithJustin/PechaStam/core/errors"
)

// Relation values of a segment source.
const (
	RelationSource = "source"
	RelationTarget = "target"
)

// langPattern accepts bo and en with an optional region subtag.
var langPattern = regexp.MustCompile(`^(bo|en)(-[A-Za-z0-9]{1,8})?$`)

// SegmentSource declares one document taking part in an alignment.
type SegmentSource struct {
	Type     string `json:"type,omitempty"`
	Relation string `json:"relation,omitempty"`
	Lang     string `json:"lang"`
	Base     string `json:"base"` // volume holding the segments
}

// Validate checks language and base volume, and relation when present.
func (s SegmentSource) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Relation, validation.In(RelationSource, RelationTarget).
			Error("must be either 'source' or 'target'")),
		validation.Field(&s.Lang, validation.Required, validation.Match(langPattern).
			Error("must be 'bo' or 'en', optionally with a region subtag")),
		validation.Field(&s.Base, validation.Required),
	)
}

func validateSource(id string, s SegmentSource) error {
	if err := s.Validate(); err != nil {
		return &errors.ValidationError{Field: "segment_sources." + id, Message: err.Error()}
	}
	return nil
}
