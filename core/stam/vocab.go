package stam

import (
	"strings"

	"github.com/FocuswithJustin/PechaStam/core/errors"
)

// AnnotationType is the closed vocabulary of annotation layers.
type AnnotationType string

// Annotation type constants.
const (
	TypeIndex                 AnnotationType = "Index"
	TypeBookTitle             AnnotationType = "BookTitle"
	TypeSubTitle              AnnotationType = "SubTitle"
	TypeBookNumber            AnnotationType = "BookNumber"
	TypePotiTitle             AnnotationType = "PotiTitle"
	TypeAuthor                AnnotationType = "Author"
	TypeChapter               AnnotationType = "Chapter"
	TypeText                  AnnotationType = "Text"
	TypeSubText               AnnotationType = "SubText"
	TypePagination            AnnotationType = "Pagination"
	TypeLanguage              AnnotationType = "Language"
	TypeCitation              AnnotationType = "Citation"
	TypeCorrection            AnnotationType = "Correction"
	TypeErrorCandidate        AnnotationType = "ErrorCandidate"
	TypePeydurma              AnnotationType = "Peydurma"
	TypePedurmaNote           AnnotationType = "PedurmaNote"
	TypeSabche                AnnotationType = "Sabche"
	TypeTsawa                 AnnotationType = "Tsawa"
	TypeYigchung              AnnotationType = "Yigchung"
	TypeArchaic               AnnotationType = "Archaic"
	TypeDurchen               AnnotationType = "Durchen"
	TypeFootnote              AnnotationType = "Footnote"
	TypeSegment               AnnotationType = "Segment"
	TypeOCRConfidence         AnnotationType = "OCRConfidence"
	TypeTranscriptionTimeSpan AnnotationType = "TranscriptionTimeSpan"
	TypeQuotation             AnnotationType = "Quotation"
)

// annotationTypes lists every type in declaration order.
var annotationTypes = []AnnotationType{
	TypeIndex, TypeBookTitle, TypeSubTitle, TypeBookNumber, TypePotiTitle,
	TypeAuthor, TypeChapter, TypeText, TypeSubText, TypePagination,
	TypeLanguage, TypeCitation, TypeCorrection, TypeErrorCandidate,
	TypePeydurma, TypePedurmaNote, TypeSabche, TypeTsawa, TypeYigchung,
	TypeArchaic, TypeDurchen, TypeFootnote, TypeSegment, TypeOCRConfidence,
	TypeTranscriptionTimeSpan, TypeQuotation,
}

var annotationTypeIndex = func() map[string]AnnotationType {
	m := make(map[string]AnnotationType, len(annotationTypes))
	for _, t := range annotationTypes {
		m[strings.ToLower(string(t))] = t
	}
	return m
}()

// AnnotationTypes returns all annotation types in declaration order.
func AnnotationTypes() []AnnotationType {
	out := make([]AnnotationType, len(annotationTypes))
	copy(out, annotationTypes)
	return out
}

func (t AnnotationType) String() string { return string(t) }

// IsValid returns true if the type belongs to the vocabulary.
func (t AnnotationType) IsValid() bool {
	canonical, ok := annotationTypeIndex[strings.ToLower(string(t))]
	return ok && canonical == t
}

// LookupAnnotationType matches s case-insensitively against the vocabulary.
func LookupAnnotationType(s string) (AnnotationType, bool) {
	t, ok := annotationTypeIndex[strings.ToLower(strings.TrimSpace(s))]
	return t, ok
}

// ParseAnnotationType is LookupAnnotationType with a ValidationError on miss.
func ParseAnnotationType(s string) (AnnotationType, error) {
	t, ok := LookupAnnotationType(s)
	if !ok {
		return "", &errors.ValidationError{
			Field:   "annotation_type",
			Value:   s,
			Message: "unknown annotation type " + s,
		}
	}
	return t, nil
}

// AnnotationGroup is the closed vocabulary of data set keys.
type AnnotationGroup string

// Annotation group constants.
const (
	GroupStructureType AnnotationGroup = "Structure Type"
	GroupTranslation   AnnotationGroup = "Translation"
)

var annotationGroups = []AnnotationGroup{GroupStructureType, GroupTranslation}

func (g AnnotationGroup) String() string { return string(g) }

// AnnotationGroups returns all groups in declaration order.
func AnnotationGroups() []AnnotationGroup {
	out := make([]AnnotationGroup, len(annotationGroups))
	copy(out, annotationGroups)
	return out
}

// ParseAnnotationGroup matches s case-insensitively against the group vocabulary.
func ParseAnnotationGroup(s string) (AnnotationGroup, error) {
	needle := strings.TrimSpace(s)
	for _, g := range annotationGroups {
		if strings.EqualFold(string(g), needle) {
			return g, nil
		}
	}
	return "", &errors.ValidationError{
		Field:   "annotation_group",
		Value:   s,
		Message: "unknown annotation group " + s,
	}
}

// isGroupKey reports whether key names a known annotation group.
func isGroupKey(key string) bool {
	for _, g := range annotationGroups {
		if string(g) == key {
			return true
		}
	}
	return false
}
