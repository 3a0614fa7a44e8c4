package opf

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/FocuswithJustin/PechaStam/core/errors"
	"github.com/FocuswithJustin/PechaStam/core/stam"
)

const baseText = "བཀྲ་ཤིས་བདེ་ལེགས། ཀ་ཁ་ག"

func writeFileT(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLayerStore(t *testing.T) {
	base := writeFileT(t, t.TempDir(), "v001.txt", baseText)
	layer := &Layer{
		ID:             "L1",
		AnnotationType: stam.TypeBookTitle,
		Annotations: []LayerAnnotation{
			{ID: "a1", Span: stam.Span{Start: 0, End: 8}, Payloads: []Payload{{Key: "imgnum", Value: int64(2)}}},
			{ID: "a2", Span: stam.Span{Start: 19, End: 23}},
		},
	}

	s, err := LayerStore(layer, "v001.txt", base, stam.GroupStructureType)
	if err != nil {
		t.Fatalf("LayerStore: %v", err)
	}
	if s.ID() != "L1" {
		t.Errorf("store id = %q", s.ID())
	}

	a1, err := s.Annotation("a1")
	if err != nil {
		t.Fatal(err)
	}
	if typ, _ := s.Type(a1); typ != "BookTitle" {
		t.Errorf("Type(a1) = %q", typ)
	}
	if text, _ := s.Text(a1); text != "བཀྲ་ཤིས་" {
		t.Errorf("Text(a1) = %q", text)
	}
	if p := s.Payloads(a1); p["imgnum"] != int64(2) {
		t.Errorf("Payloads(a1) = %v", p)
	}

	a2, _ := s.Annotation("a2")
	if len(s.MetaAnnotations(a2)) != 0 {
		t.Error("annotation without payloads got a meta-annotation")
	}

	ds, err := s.DataSet("L1")
	if err != nil {
		t.Fatal(err)
	}
	if ds.PrimaryKey() != "Structure Type" || !ds.HasKey("imgnum") {
		t.Errorf("keys = %v", ds.Keys())
	}
	if s.Len() != 3 {
		t.Errorf("Len() = %d, want 2 annotations plus 1 meta", s.Len())
	}
}

func TestLayerStoreErrors(t *testing.T) {
	base := writeFileT(t, t.TempDir(), "v001.txt", baseText)

	if _, err := LayerStore(nil, "v001.txt", base, stam.GroupStructureType); !errors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("nil layer error = %v", err)
	}

	tooLong := &Layer{ID: "L1", AnnotationType: stam.TypeAuthor, Annotations: []LayerAnnotation{
		{ID: "a1", Span: stam.Span{Start: 0, End: 500}},
	}}
	if _, err := LayerStore(tooLong, "v001.txt", base, stam.GroupStructureType); !errors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("out of range span error = %v", err)
	}
}

func TestConvertVolume(t *testing.T) {
	base := writeFileT(t, t.TempDir(), "v001.txt", baseText)
	mk := func(id string, typ stam.AnnotationType, ann string, span stam.Span) *stam.Store {
		s, err := LayerStore(&Layer{ID: id, AnnotationType: typ, Annotations: []LayerAnnotation{{ID: ann, Span: span}}},
			"v001.txt", base, stam.GroupStructureType)
		if err != nil {
			t.Fatal(err)
		}
		return s
	}

	if _, err := ConvertVolume("v001", nil); !errors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("empty volume error = %v", err)
	}

	one := mk("L1", stam.TypeAuthor, "a1", stam.Span{Start: 0, End: 8})
	if got, err := ConvertVolume("v001", []*stam.Store{one}); err != nil || got != one {
		t.Errorf("single store = %v, %v; want pass-through", got, err)
	}

	two := mk("L2", stam.TypeChapter, "c1", stam.Span{Start: 8, End: 19})
	merged, err := ConvertVolume("v001", []*stam.Store{one, two})
	if err != nil {
		t.Fatalf("ConvertVolume: %v", err)
	}
	if merged.Len() != 2 || merged.ID() != "L1" {
		t.Errorf("merged len=%d id=%q", merged.Len(), merged.ID())
	}

	dup := mk("L3", stam.TypeChapter, "a1", stam.Span{Start: 8, End: 19})
	if _, err := ConvertVolume("v001", []*stam.Store{one, dup}); !errors.Is(err, stam.ErrDuplicateAnnotationID) {
		t.Errorf("duplicate id error = %v", err)
	}
}
