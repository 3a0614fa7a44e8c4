package alignment

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/FocuswithJustin/PechaStam/core/cache"
	"github.com/FocuswithJustin/PechaStam/core/errors"
	"github.com/FocuswithJustin/PechaStam/core/pecha"
	"github.com/FocuswithJustin/PechaStam/core/stam"
)

// fakeDoc maps volume/annotation ids to segments.
type fakeDoc map[string]Segment

func (d fakeDoc) Segment(volume, id string) (string, stam.Span, error) {
	s, ok := d[volume+"/"+id]
	if !ok {
		return "", stam.Span{}, errors.NewNotFound("annotation", id)
	}
	return s.Text, s.Span, nil
}

func fakeResolver(calls map[string]int) Resolver {
	docs := map[string]fakeDoc{
		"S1": {"v1/ann1": {Text: "ཀ", Span: stam.Span{Start: 0, End: 1}}, "v1/ann3": {Text: "ཁ", Span: stam.Span{Start: 2, End: 3}}},
		"S2": {"v1/ann2": {Text: "Ka", Span: stam.Span{Start: 0, End: 2}}, "v1/ann4": {Text: "Kha", Span: stam.Span{Start: 3, End: 6}}},
		"S3": {"v2/ann5": {Text: "ga", Span: stam.Span{Start: 0, End: 2}}},
	}
	return ResolverFunc(func(id string) (Document, error) {
		if calls != nil {
			calls[id]++
		}
		d, ok := docs[id]
		if !ok {
			return nil, errors.NewNotFound("pecha", id)
		}
		return d, nil
	})
}

const twoSources = `{
  "segment_sources": {
    "S1": {"type": "origin_type", "relation": "source", "lang": "bo", "base": "v1"},
    "S2": {"type": "translation", "relation": "target", "lang": "en", "base": "v1"}
  },
  "segment_pairs": {
    "p1": {"S1": "ann1", "S2": "ann2"}
  }
}`

func TestSegmentPairExample(t *testing.T) {
	a, err := Parse([]byte(twoSources), "A1", fakeResolver(nil), DefaultOptions())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	got, err := a.SegmentPair("p1")
	if err != nil {
		t.Fatalf("SegmentPair: %v", err)
	}
	want := []Segment{
		{Text: "ཀ", SourceID: "S1", Lang: "bo", Span: stam.Span{Start: 0, End: 1}},
		{Text: "Ka", SourceID: "S2", Lang: "en", Span: stam.Span{Start: 0, End: 2}},
	}
	if len(got) != len(want) {
		t.Fatalf("SegmentPair() = %+v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("segment[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestMinimalSources(t *testing.T) {
	doc := `{"segment_sources": {"S1": {"lang": "bo", "base": "v1"}, "S2": {"lang": "en", "base": "v1"}},
	  "segment_pairs": {"p1": {"S1": "ann1", "S2": "ann2"}}}`
	a, err := Parse([]byte(doc), "A1", fakeResolver(nil), DefaultOptions())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	got, err := a.SegmentPair("p1")
	if err != nil {
		t.Fatalf("SegmentPair: %v", err)
	}
	want := []Segment{
		{Text: "ཀ", SourceID: "S1", Lang: "bo", Span: stam.Span{Start: 0, End: 1}},
		{Text: "Ka", SourceID: "S2", Lang: "en", Span: stam.Span{Start: 0, End: 2}},
	}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("SegmentPair() = %+v, want %+v", got, want)
	}
}

const threeSources = `{
  "segment_sources": {
    "S3": {"type": "translation", "relation": "target", "lang": "en-us", "base": "v2"},
    "S1": {"type": "origin_type", "relation": "source", "lang": "bo", "base": "v1"},
    "S2": {"type": "translation", "relation": "target", "lang": "en", "base": "v1"}
  },
  "segment_pairs": {
    "p2": {"S2": "ann4", "S1": "ann3"},
    "p1": {"S1": "ann1", "S3": "ann5", "S2": "ann2"}
  }
}`

func TestDeclaredOrder(t *testing.T) {
	a, err := Parse([]byte(threeSources), "A1", fakeResolver(nil), DefaultOptions())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := strings.Join(a.PairIDs(), ","); got != "p2,p1" {
		t.Errorf("PairIDs() = %s, want file order", got)
	}
	var ids []string
	for _, s := range a.Sources() {
		ids = append(ids, s.ID)
	}
	if got := strings.Join(ids, ","); got != "S3,S1,S2" {
		t.Errorf("Sources() = %s, want file order", got)
	}

	segs, err := a.SegmentPair("p1")
	if err != nil {
		t.Fatal(err)
	}
	var order []string
	for _, s := range segs {
		order = append(order, s.SourceID)
	}
	if got := strings.Join(order, ","); got != "S1,S3,S2" {
		t.Errorf("segment order = %s, want pair entry order", got)
	}
}

func TestLenientPadsMissing(t *testing.T) {
	a, err := Parse([]byte(threeSources), "A1", fakeResolver(nil), Options{Strict: false})
	if err != nil {
		t.Fatal(err)
	}
	segs, err := a.SegmentPair("p2")
	if err != nil {
		t.Fatalf("SegmentPair: %v", err)
	}
	if len(segs) != 3 {
		t.Fatalf("segments = %+v", segs)
	}
	if segs[0].Text != "Kha" || segs[1].Text != "ཁ" {
		t.Errorf("present segments = %+v", segs[:2])
	}
	pad := segs[2]
	if !pad.Missing || pad.SourceID != "S3" || pad.Text != "" || !pad.Span.IsEmpty() || pad.Lang != "en-us" {
		t.Errorf("padding = %+v", pad)
	}
}

func TestStrictRejectsMissing(t *testing.T) {
	a, err := Parse([]byte(threeSources), "A1", fakeResolver(nil), Options{Strict: true})
	if err != nil {
		t.Fatal(err)
	}
	_, err = a.SegmentPair("p2")
	var ie *errors.IncompleteAlignmentError
	if !errors.As(err, &ie) {
		t.Fatalf("SegmentPair() error = %v, want IncompleteAlignmentError", err)
	}
	if ie.PairID != "p2" || len(ie.Missing) != 1 || ie.Missing[0] != "S3" {
		t.Errorf("error = %+v", ie)
	}

	count := 0
	for range a.SegmentPairs() {
		count++
	}
	if count != 0 || !errors.Is(a.Err(), errors.ErrIncompleteAlignment) {
		t.Errorf("SegmentPairs() yielded %d, Err() = %v", count, a.Err())
	}
	if _, err := a.AllSegmentPairs(); !errors.Is(err, errors.ErrIncompleteAlignment) {
		t.Errorf("AllSegmentPairs() error = %v", err)
	}
}

func TestSegmentPairsRestartable(t *testing.T) {
	calls := make(map[string]int)
	a, err := Parse([]byte(threeSources), "A1", fakeResolver(calls), DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	for round := 0; round < 2; round++ {
		var ids []string
		for id, segs := range a.SegmentPairs() {
			ids = append(ids, id)
			if len(segs) != 3 {
				t.Errorf("pair %s has %d segments", id, len(segs))
			}
		}
		if a.Err() != nil {
			t.Fatalf("Err() = %v", a.Err())
		}
		if got := strings.Join(ids, ","); got != "p2,p1" {
			t.Errorf("round %d pairs = %s", round, got)
		}
	}
	for id, n := range calls {
		if n != 1 {
			t.Errorf("source %s resolved %d times, want cached", id, n)
		}
	}

	for range a.SegmentPairs() {
		break
	}
	all, err := a.AllSegmentPairs()
	if err != nil || len(all) != 2 {
		t.Errorf("AllSegmentPairs() = %d, %v", len(all), err)
	}
}

func TestPairIterIndependent(t *testing.T) {
	doc := `{"segment_sources": {"S1": {"lang": "bo", "base": "v1"}, "S2": {"lang": "en", "base": "v1"}},
	  "segment_pairs": {"p1": {"S1": "ann1", "S2": "ann2"}, "p2": {"S1": "ann3"}}}`
	a, err := Parse([]byte(doc), "A1", fakeResolver(nil), Options{Strict: true})
	if err != nil {
		t.Fatal(err)
	}

	first, full := a.Pairs(), a.Pairs()
	for range first.All() {
		break
	}
	for range full.All() {
	}
	if first.Err() != nil {
		t.Errorf("stopped pass Err() = %v, want nil", first.Err())
	}
	if !errors.Is(full.Err(), errors.ErrIncompleteAlignment) {
		t.Errorf("full pass Err() = %v, want ErrIncompleteAlignment", full.Err())
	}

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			it := a.Pairs()
			for range it.All() {
				if i%2 == 0 {
					break
				}
			}
			errs[i] = it.Err()
		}()
	}
	wg.Wait()
	for i, err := range errs {
		if i%2 == 0 && err != nil {
			t.Errorf("pass %d Err() = %v, want nil", i, err)
		}
		if i%2 == 1 && !errors.Is(err, errors.ErrIncompleteAlignment) {
			t.Errorf("pass %d Err() = %v, want ErrIncompleteAlignment", i, err)
		}
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want error
	}{
		{"not json", `{"segment_sources":`, errors.ErrInvalidInput},
		{"missing pairs", `{"segment_sources": {"S1": {"type": "t", "relation": "source", "lang": "bo", "base": "v1"}}}`, errors.ErrInvalidInput},
		{"missing base", `{"segment_sources": {"S1": {"type": "t", "relation": "source", "lang": "bo"}}, "segment_pairs": {}}`, errors.ErrInvalidInput},
		{"bad relation", `{"segment_sources": {"S1": {"type": "t", "relation": "mirror", "lang": "bo", "base": "v1"}}, "segment_pairs": {}}`, errors.ErrInvalidInput},
		{"bad lang", `{"segment_sources": {"S1": {"type": "t", "relation": "source", "lang": "zh", "base": "v1"}}, "segment_pairs": {}}`, errors.ErrInvalidInput},
		{"undeclared source", `{"segment_sources": {"S1": {"type": "t", "relation": "source", "lang": "bo", "base": "v1"}}, "segment_pairs": {"p1": {"S9": "a"}}}`, errors.ErrInvalidInput},
		{"duplicate pair", `{"segment_sources": {"S1": {"type": "t", "relation": "source", "lang": "bo", "base": "v1"}}, "segment_pairs": {"p1": {"S1": "a"}, "p1": {"S1": "b"}}}`, errors.ErrAlreadyExists},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc), "A1", nil, DefaultOptions())
			if !errors.Is(err, tt.want) {
				t.Errorf("Parse() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSegmentPairErrors(t *testing.T) {
	a, err := Parse([]byte(twoSources), "A1", nil, DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.SegmentPair("p404"); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("unknown pair error = %v", err)
	}
	if _, err := a.SegmentPair("p1"); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("nil resolver error = %v", err)
	}
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
}

// writePecha writes a converted pecha with one annotation spanning text.
func writePecha(t *testing.T, root, id, annID, text string) {
	t.Helper()
	dir := filepath.Join(root, id)
	base := filepath.Join(dir, id+".opf", "base", "v1.txt")
	writeFile(t, base, text)
	s := stam.New(id)
	if _, err := s.AddResourceFile("v1.txt", base, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AddDataSet("ds", stam.GroupTranslation.String()); err != nil {
		t.Fatal(err)
	}
	span := stam.Span{Start: 0, End: len([]rune(text))}
	if _, err := s.AnnotateWith(annID, stam.TextTarget("v1.txt", span), "ds", stam.GroupTranslation.String(), "Segment"); err != nil {
		t.Fatal(err)
	}
	if err := stam.Save(s, filepath.Join(dir, id+".opf", "layers", "v1", "v1.opf.json"), dir); err != nil {
		t.Fatal(err)
	}
}

func TestOpenWithDirResolver(t *testing.T) {
	root := t.TempDir()
	remote := t.TempDir()
	writePecha(t, root, "S1", "ann1", "ཀ")
	writePecha(t, remote, "S2", "ann2", "Ka")
	writeFile(t, filepath.Join(root, "A1", "A1.opa", "alignment.json"), twoSources)
	writeFile(t, filepath.Join(root, "A1", "A1.opa", "meta.json"), `{"source": "https://example.org/A1"}`)

	resolver := DirResolver{Root: root, Fetcher: pecha.LocalFetcher{Root: remote}}
	a, err := Open(root, "A1", resolver, Options{Strict: true})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if a.ID() != "A1" || a.Len() != 1 {
		t.Errorf("ID/Len = %q %d", a.ID(), a.Len())
	}
	segs, err := a.SegmentPair("p1")
	if err != nil {
		t.Fatalf("SegmentPair: %v", err)
	}
	if segs[0].Text != "ཀ" || segs[1].Text != "Ka" || segs[1].Span != (stam.Span{Start: 0, End: 2}) {
		t.Errorf("segments = %+v", segs)
	}
	meta, err := a.Meta()
	if err != nil || meta["source"] != "https://example.org/A1" {
		t.Errorf("Meta() = %v, %v", meta, err)
	}

	if _, err := Open(root, "A404", resolver, DefaultOptions()); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("missing alignment error = %v", err)
	}

	broken := DirResolver{Root: root}
	b, err := Open(root, "A1", broken, DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.SegmentPair("p1"); !errors.Is(err, errors.ErrRepoNotFound) {
		t.Errorf("unresolvable source error = %v", err)
	}
}

func TestCachingResolverSharesDocuments(t *testing.T) {
	calls := map[string]int{}
	resolver := NewCachingResolver(fakeResolver(calls), cache.DefaultConfig())

	for range 2 {
		a, err := Parse([]byte(twoSources), "A1", resolver, DefaultOptions())
		if err != nil {
			t.Fatalf("Parse: %v", err)
		}
		if _, err := a.AllSegmentPairs(); err != nil {
			t.Fatalf("AllSegmentPairs: %v", err)
		}
	}
	if calls["S1"] != 1 || calls["S2"] != 1 {
		t.Errorf("resolver calls = %v, want one per source", calls)
	}
	if s := resolver.Stats(); s.Loads != 2 || s.Size != 2 {
		t.Errorf("Stats() = %+v", s)
	}

	if _, err := resolver.Document("S9"); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("Document(S9) error = %v", err)
	}
	if _, err := resolver.Document("S9"); err == nil || calls["S9"] != 2 {
		t.Errorf("failed resolution was cached: calls = %d", calls["S9"])
	}
}
