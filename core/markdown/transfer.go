package markdown

import (
	"sort"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Marker is a piece of markup to insert before the code point at Pos of the
// original text.
type Marker struct {
	Pos     int
	Text    string
	Closing bool

	rank int
	typ  string
}

// Opener ranks at one position.
const (
	rankPrefix = iota
	rankWrap
)

// Transfer inserts markers positioned against original into accumulated,
// which is original plus markup from earlier passes. The two texts are
// aligned by content. At one position closing markers come before opening
// ones, and markup already present stays before new markup of the same
// kind. Closers are recognised with the default style table.
func Transfer(original, accumulated string, markers []Marker) string {
	return transfer(original, accumulated, markers, DefaultOptions().closers())
}

func transfer(original, accumulated string, markers []Marker, closers []string) string {
	if len(markers) == 0 {
		return accumulated
	}
	ordered := make([]Marker, len(markers))
	copy(ordered, markers)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Pos != ordered[j].Pos {
			return ordered[i].Pos < ordered[j].Pos
		}
		if ordered[i].Closing != ordered[j].Closing {
			return ordered[i].Closing
		}
		if ordered[i].rank != ordered[j].rank {
			return ordered[i].rank < ordered[j].rank
		}
		return strings.ToLower(ordered[i].typ) < strings.ToLower(ordered[j].typ)
	})

	dmp := diffmatchpatch.New()
	dmp.DiffTimeout = 0
	diffs := dmp.DiffMain(original, accumulated, false)
	offsets := runeOffsets(original)

	type placed struct {
		at   int
		text string
	}
	out := make([]placed, len(ordered))
	for i, m := range ordered {
		out[i] = placed{at: mapOffset(diffs, offsets[clamp(m.Pos, len(offsets)-1)], m.Closing, closers), text: m.Text}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].at < out[j].at })

	var b strings.Builder
	b.Grow(len(accumulated) + len(markers)*8)
	prev := 0
	for _, p := range out {
		b.WriteString(accumulated[prev:p.at])
		b.WriteString(p.text)
		prev = p.at
	}
	b.WriteString(accumulated[prev:])
	return b.String()
}

// mapOffset maps a byte offset of the original text onto the accumulated
// text. Openers land after any markup inserted at that point; closers land
// after inserted closers but before inserted openers.
func mapOffset(diffs []diffmatchpatch.Diff, loc int, closing bool, closers []string) int {
	o, a := 0, 0
	for _, d := range diffs {
		n := len(d.Text)
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			if o == loc && closing {
				k := leadingClosers(d.Text, closers)
				if k < n {
					return a + k
				}
			}
			a += n
		case diffmatchpatch.DiffEqual:
			if loc < o+n {
				return a + (loc - o)
			}
			o += n
			a += n
		case diffmatchpatch.DiffDelete:
			if loc < o+n {
				return a
			}
			o += n
		}
	}
	return a
}

// leadingClosers returns the length of the run of closing markers that
// starts s.
func leadingClosers(s string, closers []string) int {
	i := 0
outer:
	for i < len(s) {
		for _, c := range closers {
			if strings.HasPrefix(s[i:], c) {
				i += len(c)
				continue outer
			}
		}
		break
	}
	return i
}

// runeOffsets returns the byte offset of every code point of s followed by
// len(s).
func runeOffsets(s string) []int {
	out := make([]int, 0, len(s)+1)
	for i := range s {
		out = append(out, i)
	}
	return append(out, len(s))
}

func clamp(v, hi int) int {
	if v < 0 {
		return 0
	}
	if v > hi {
		return hi
	}
	return v
}
