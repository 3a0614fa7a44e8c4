package markdown

import (
	"strings"

	"github.com/FocuswithJustin/PechaStam/core/pecha"
	"github.com/FocuswithJustin/PechaStam/core/stam"
	"github.com/FocuswithJustin/PechaStam/internal/logging"
)

// Entry is one annotation to render.
type Entry struct {
	Text string
	Span stam.Span
}

// Group holds the entries of one annotation type in record order.
type Group struct {
	Type    string
	Entries []Entry
}

// GroupByType groups records by annotation type. Groups follow the first
// appearance of each type; entries keep record order.
func GroupByType(records []pecha.Record) []Group {
	var groups []Group
	index := make(map[string]int)
	for _, r := range records {
		if r.Type == "" {
			continue
		}
		i, ok := index[r.Type]
		if !ok {
			i = len(groups)
			index[r.Type] = i
			groups = append(groups, Group{Type: r.Type})
		}
		groups[i].Entries = append(groups[i].Entries, Entry{Text: r.Text, Span: r.Span})
	}
	return groups
}

// Project renders base with the default style table.
func Project(base string, groups []Group) string {
	return DefaultOptions().Project(base, groups)
}

// Project inserts the markup of every group into base. Markers at the same
// position are ordered closers first, then prefix styles, then wrapping
// openers, with ties broken by type name, so the result does not depend on
// group order. Types without a style and empty spans are skipped.
func (o Options) Project(base string, groups []Group) string {
	var markers []Marker
	for _, g := range groups {
		style, ok := o.style(g.Type)
		if !ok {
			logging.Debug("no markdown style for annotation type", "type", g.Type, "annotations", len(g.Entries))
			continue
		}
		rank := rankPrefix
		if style.Wrapping() {
			rank = rankWrap
		}
		for _, e := range g.Entries {
			if e.Span.Start >= e.Span.End {
				continue
			}
			markers = append(markers, Marker{Pos: e.Span.Start, Text: style.Open, rank: rank, typ: g.Type})
			if style.Wrapping() {
				markers = append(markers, Marker{Pos: e.Span.End, Text: style.Close, Closing: true, typ: g.Type})
			}
		}
	}
	return transfer(base, base, markers, o.closers())
}

// NormalizeHeadings leaves exactly one blank line before and after every
// line starting with '#', except before the first and after the last line.
// A trailing newline is kept.
func NormalizeHeadings(text string) string {
	body, trailing := strings.CutSuffix(text, "\n")
	lines := strings.Split(body, "\n")

	out := make([]string, 0, len(lines))
	afterHeading := false
	for _, line := range lines {
		blank := strings.TrimSpace(line) == ""
		switch {
		case strings.HasPrefix(line, "#"):
			for len(out) > 0 && strings.TrimSpace(out[len(out)-1]) == "" {
				out = out[:len(out)-1]
			}
			if len(out) > 0 {
				out = append(out, "")
			}
			out = append(out, line)
			afterHeading = true
		case afterHeading && blank:
		case afterHeading:
			out = append(out, "", line)
			afterHeading = false
		default:
			out = append(out, line)
		}
	}

	result := strings.Join(out, "\n")
	if trailing {
		result += "\n"
	}
	return result
}
