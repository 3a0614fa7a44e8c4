// Package alignment links segments of different pechas into translation
// pairs.
//
// An alignment file declares its sources and pairs:
//
//	{
//	  "segment_sources": {
//	    "S1": {"type": "origin_type", "relation": "source", "lang": "bo", "base": "v001"},
//	    "S2": {"type": "translation", "relation": "target", "lang": "en", "base": "v001"}
//	  },
//	  "segment_pairs": {
//	    "p1": {"S1": "ann1", "S2": "ann2"}
//	  }
//	}
//
// Sources and pairs keep the order of the file. Source documents are
// resolved lazily through a Resolver.
package alignment

import (
	"encoding/json"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/FocuswithJustin/PechaStam/core/errors"
	"github.com/FocuswithJustin/PechaStam/core/stam"
	"github.com/FocuswithJustin/PechaStam/internal/logging"
)

const (
	dirSuffix = ".opa"
	fileName  = "alignment.json"
	metaName  = "meta.json"
)

// Options configures pair resolution.
type Options struct {
	// Strict fails pairs lacking a declared source with
	// IncompleteAlignmentError. Otherwise missing sources are padded with
	// empty segments.
	Strict bool
}

// DefaultOptions returns lenient resolution.
func DefaultOptions() Options { return Options{} }

// SourceEntry is a declared source with its id.
type SourceEntry struct {
	ID     string
	Source SegmentSource
}

// PairEntry maps a source to the annotation holding its segment.
type PairEntry struct {
	SourceID     string
	AnnotationID string
}

// Pair is one segment pair in declared order.
type Pair struct {
	ID      string
	Entries []PairEntry
}

// Annotation returns the annotation id recorded for sourceID.
func (p Pair) Annotation(sourceID string) (string, bool) {
	for _, e := range p.Entries {
		if e.SourceID == sourceID {
			return e.AnnotationID, true
		}
	}
	return "", false
}

// Segment is the resolved text of one side of a pair.
type Segment struct {
	Text     string
	SourceID string
	Lang     string
	Span     stam.Span
	Missing  bool // padded placeholder for a source the pair lacks
}

// Alignment is a loaded alignment. It is read-only after loading.
// SegmentPair, AllSegmentPairs and Pairs are safe for concurrent use;
// the error reported by Err is shared between SegmentPairs callers.
type Alignment struct {
	id       string
	dir      string
	sources  []SourceEntry
	pairs    []Pair
	pairByID map[string]int
	resolver Resolver
	opts     Options

	mu   sync.Mutex
	docs map[string]Document
	err  error
}

// Open loads <root>/<id>/<id>.opa/alignment.json.
func Open(root, id string, resolver Resolver, opts Options) (*Alignment, error) {
	return Load(filepath.Join(root, id, id+dirSuffix, fileName), resolver, opts)
}

// Load reads and validates an alignment file. The alignment id is taken
// from the enclosing .opa directory when present.
func Load(path string, resolver Resolver, opts Options) (*Alignment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &errors.NotFoundError{Resource: "alignment", ID: path, Err: err}
		}
		return nil, errors.NewIO("read", path, err)
	}
	dir := filepath.Dir(path)
	id := strings.TrimSuffix(filepath.Base(dir), dirSuffix)
	a, err := Parse(data, id, resolver, opts)
	if err != nil {
		var pe *errors.ParseError
		if errors.As(err, &pe) && pe.Path == "" {
			pe.Path = path
		}
		return nil, errors.Wrapf(err, "load alignment %s", id)
	}
	a.dir = dir
	return a, nil
}

// Parse builds an alignment from the JSON document data.
func Parse(data []byte, id string, resolver Resolver, opts Options) (*Alignment, error) {
	if err := validateSchema(data); err != nil {
		return nil, err
	}
	doc, err := decodeDocument(data)
	if err != nil {
		return nil, err
	}

	declared := make(map[string]bool, len(doc.sources))
	for _, s := range doc.sources {
		if err := validateSource(s.ID, s.Source); err != nil {
			return nil, err
		}
		declared[s.ID] = true
	}
	a := &Alignment{
		id:       id,
		sources:  doc.sources,
		pairs:    doc.pairs,
		pairByID: make(map[string]int, len(doc.pairs)),
		resolver: resolver,
		opts:     opts,
		docs:     make(map[string]Document),
	}
	for i, p := range doc.pairs {
		for _, e := range p.Entries {
			if !declared[e.SourceID] {
				return nil, &errors.ValidationError{
					Field:   "segment_pairs." + p.ID,
					Value:   e.SourceID,
					Message: "references undeclared source " + e.SourceID,
				}
			}
		}
		a.pairByID[p.ID] = i
	}
	logging.Debug("alignment loaded", "alignment_id", id, "sources", len(a.sources), "pairs", len(a.pairs))
	return a, nil
}

// ID returns the alignment id.
func (a *Alignment) ID() string { return a.id }

// Sources returns the declared sources in file order.
func (a *Alignment) Sources() []SourceEntry {
	out := make([]SourceEntry, len(a.sources))
	copy(out, a.sources)
	return out
}

// Source returns a declared source.
func (a *Alignment) Source(id string) (SegmentSource, bool) {
	for _, s := range a.sources {
		if s.ID == id {
			return s.Source, true
		}
	}
	return SegmentSource{}, false
}

// PairIDs returns the pair ids in file order.
func (a *Alignment) PairIDs() []string {
	out := make([]string, len(a.pairs))
	for i, p := range a.pairs {
		out[i] = p.ID
	}
	return out
}

// Len returns the number of pairs.
func (a *Alignment) Len() int { return len(a.pairs) }

// Meta returns meta.json from the alignment directory, or an empty map if
// the alignment was not loaded from disk or has none.
func (a *Alignment) Meta() (map[string]any, error) {
	out := make(map[string]any)
	if a.dir == "" {
		return out, nil
	}
	path := filepath.Join(a.dir, metaName)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return out, nil
	}
	if err != nil {
		return nil, errors.NewIO("read", path, err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, &errors.ParseError{Format: "JSON", Path: path, Message: err.Error(), Err: err}
	}
	return out, nil
}

// SegmentPair resolves a pair. Segments follow the pair's own entry order;
// in lenient mode missing sources follow as empty segments in declared
// source order.
func (a *Alignment) SegmentPair(pairID string) ([]Segment, error) {
	i, ok := a.pairByID[pairID]
	if !ok {
		return nil, errors.NewNotFound("segment pair", pairID)
	}
	pair := a.pairs[i]

	var missing []string
	for _, s := range a.sources {
		if _, ok := pair.Annotation(s.ID); !ok {
			missing = append(missing, s.ID)
		}
	}
	if len(missing) > 0 && a.opts.Strict {
		return nil, &errors.IncompleteAlignmentError{AlignmentID: a.id, PairID: pairID, Missing: missing}
	}
	if len(missing) > 0 {
		logging.Warn("segment pair padded", "alignment_id", a.id, "pair", pairID, "missing", missing)
	}

	out := make([]Segment, 0, len(a.sources))
	for _, e := range pair.Entries {
		src, _ := a.Source(e.SourceID)
		doc, err := a.document(e.SourceID)
		if err != nil {
			return nil, err
		}
		text, span, err := doc.Segment(src.Base, e.AnnotationID)
		if err != nil {
			return nil, errors.Wrapf(err, "pair %s source %s", pairID, e.SourceID)
		}
		out = append(out, Segment{Text: text, SourceID: e.SourceID, Lang: src.Lang, Span: span})
	}
	for _, id := range missing {
		src, _ := a.Source(id)
		out = append(out, Segment{SourceID: id, Lang: src.Lang, Missing: true})
	}
	return out, nil
}

// SegmentPairs iterates the pairs in declared order. Iteration stops at the
// first error, which is then reported by Err. Err is shared by every
// SegmentPairs iteration of a; concurrent readers iterate through Pairs.
func (a *Alignment) SegmentPairs() iter.Seq2[string, []Segment] {
	return func(yield func(string, []Segment) bool) {
		it := a.Pairs()
		it.All()(yield)
		a.setErr(it.err)
	}
}

// Err returns the error that stopped the last SegmentPairs iteration.
func (a *Alignment) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

func (a *Alignment) setErr(err error) {
	a.mu.Lock()
	a.err = err
	a.mu.Unlock()
}

// PairIter is one pass over the pairs of an alignment. Its error belongs
// to the pass alone.
type PairIter struct {
	a   *Alignment
	err error
}

// Pairs returns a new iteration handle.
func (a *Alignment) Pairs() *PairIter { return &PairIter{a: a} }

// All iterates the pairs in declared order and stops at the first error.
func (it *PairIter) All() iter.Seq2[string, []Segment] {
	return func(yield func(string, []Segment) bool) {
		it.err = nil
		for _, p := range it.a.pairs {
			segs, err := it.a.SegmentPair(p.ID)
			if err != nil {
				it.err = err
				return
			}
			if !yield(p.ID, segs) {
				return
			}
		}
	}
}

// Err returns the error that stopped the pass, if any.
func (it *PairIter) Err() error { return it.err }

// AllSegmentPairs resolves every pair in declared order.
func (a *Alignment) AllSegmentPairs() ([][]Segment, error) {
	out := make([][]Segment, 0, len(a.pairs))
	for _, p := range a.pairs {
		segs, err := a.SegmentPair(p.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, segs)
	}
	return out, nil
}

// Document returns the resolved document of a declared source.
func (a *Alignment) Document(sourceID string) (Document, error) {
	if _, ok := a.Source(sourceID); !ok {
		return nil, errors.NewNotFound("segment source", sourceID)
	}
	return a.document(sourceID)
}

// document resolves and caches a source document.
func (a *Alignment) document(sourceID string) (Document, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if d, ok := a.docs[sourceID]; ok {
		return d, nil
	}
	if a.resolver == nil {
		return nil, errors.NewNotFound("source document", sourceID)
	}
	d, err := a.resolver.Document(sourceID)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve source %s", sourceID)
	}
	a.docs[sourceID] = d
	return d, nil
}
