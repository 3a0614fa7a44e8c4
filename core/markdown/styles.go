// Package markdown projects annotation stores and alignments into Markdown.
//
// Annotation types map to markers from a style table. Prefix styles insert
// a marker at the start of a span; wrapping styles also close it:
//
//	T[:19] + "(===>)" + T[19:83] + "(<===)" + T[83:]
//
// Markers are positioned against the original text, so earlier markers
// never shift later offsets. Transfer carries markers onto text that
// already holds markup by aligning on content.
package markdown

import (
	"slices"

	"github.com/FocuswithJustin/PechaStam/core/stam"
)

// DefaultNewlineMarker replaces newlines inside alignment segments.
const DefaultNewlineMarker = "<br>"

// segmentHeading starts every alignment segment.
const segmentHeading = "###### "

// Style is the markup for one annotation type. An empty Close inserts only
// the Open prefix.
type Style struct {
	Open  string
	Close string
}

// Wrapping reports whether the style closes the span.
func (s Style) Wrapping() bool { return s.Close != "" }

// DefaultStyles is the style table used by DefaultOptions.
var DefaultStyles = map[stam.AnnotationType]Style{
	stam.TypeBookTitle:  {Open: "# "},
	stam.TypeSubTitle:   {Open: "## "},
	stam.TypeChapter:    {Open: "### "},
	stam.TypeSabche:     {Open: "#### "},
	stam.TypePagination: {Open: "##### "},
	stam.TypeCitation:   {Open: "> "},
	stam.TypeTsawa:      {Open: ">> "},
	stam.TypeAuthor:     {Open: "(===>)", Close: "(<===)"},
	stam.TypeYigchung:   {Open: "(--->)", Close: "(<---)"},
	stam.TypeQuotation:  {Open: "(<<<)", Close: "(>>>)"},
}

// Options configures rendering.
type Options struct {
	Styles map[stam.AnnotationType]Style
	// NewlineMarker replaces newlines in alignment segments and ends each
	// segment.
	NewlineMarker string
	// SourceHeader prefixes alignment files with "source : <meta.source>".
	SourceHeader bool
	// FrontMatter prefixes every file with a YAML front matter block.
	FrontMatter bool
}

// DefaultOptions returns the default style table and newline marker.
func DefaultOptions() Options {
	return Options{
		Styles:        DefaultStyles,
		NewlineMarker: DefaultNewlineMarker,
		SourceHeader:  true,
	}
}

func (o Options) style(typ string) (Style, bool) {
	t, ok := stam.LookupAnnotationType(typ)
	if !ok {
		return Style{}, false
	}
	s, ok := o.Styles[t]
	return s, ok
}

// closers lists the closing markers of the table, longest first.
func (o Options) closers() []string {
	var out []string
	for _, s := range o.Styles {
		if s.Close != "" && !slices.Contains(out, s.Close) {
			out = append(out, s.Close)
		}
	}
	slices.SortFunc(out, func(a, b string) int {
		if len(a) != len(b) {
			return len(b) - len(a)
		}
		if a < b {
			return -1
		}
		if a > b {
			return 1
		}
		return 0
	})
	return out
}
