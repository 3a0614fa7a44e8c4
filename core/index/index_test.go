package index

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/FocuswithJustin/PechaStam/core/errors"
	"github.com/FocuswithJustin/PechaStam/core/stam"
)

const baseText = "བཀྲ་ཤིས་བདེ་ལེགས། ཀ་ཁ་ག"

func testStore(t *testing.T, id string) *stam.Store {
	t.Helper()
	s := stam.New(id)
	if _, err := s.AddResource("v001.txt", baseText); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AddDataSet("ds1", "Structure Type"); err != nil {
		t.Fatal(err)
	}
	for _, a := range []struct {
		id   string
		span stam.Span
		typ  string
	}{
		{"a1", stam.Span{Start: 0, End: 8}, "Author"},
		{"b1", stam.Span{Start: 8, End: 19}, "BookTitle"},
		{"a2", stam.Span{Start: 19, End: 23}, "Author"},
	} {
		if _, err := s.AnnotateWith(a.id, stam.TextTarget("v001.txt", a.span), "ds1", "Structure Type", a.typ); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := s.AddDataSet("ds2", "imgnum"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AnnotateWith("m1", stam.AnnotationTarget("a1"), "ds2", "imgnum", 4); err != nil {
		t.Fatal(err)
	}
	return s
}

func createIndex(t *testing.T) *Index {
	t.Helper()
	ix, err := Create(context.Background(), filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	t.Cleanup(func() { ix.Close() })
	return ix
}

func TestAddStoreAndFind(t *testing.T) {
	ctx := context.Background()
	ix := createIndex(t)
	if err := ix.AddStore(ctx, "P1/v001", testStore(t, "P1_v001")); err != nil {
		t.Fatalf("AddStore: %v", err)
	}
	if err := ix.AddStore(ctx, "P2/v001", testStore(t, "P2_v001")); err != nil {
		t.Fatalf("AddStore: %v", err)
	}

	n, err := ix.Count(ctx)
	if err != nil || n != 8 {
		t.Fatalf("Count() = %d, %v, want 8", n, err)
	}

	hits, err := ix.Find(ctx, "Structure Type", "Author")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	want := []Hit{
		{Store: "P1/v001", AnnotationID: "a1", ResourceID: "v001.txt", Span: stam.Span{Start: 0, End: 8}, Key: "Structure Type", Value: "Author"},
		{Store: "P1/v001", AnnotationID: "a2", ResourceID: "v001.txt", Span: stam.Span{Start: 19, End: 23}, Key: "Structure Type", Value: "Author"},
		{Store: "P2/v001", AnnotationID: "a1", ResourceID: "v001.txt", Span: stam.Span{Start: 0, End: 8}, Key: "Structure Type", Value: "Author"},
		{Store: "P2/v001", AnnotationID: "a2", ResourceID: "v001.txt", Span: stam.Span{Start: 19, End: 23}, Key: "Structure Type", Value: "Author"},
	}
	if len(hits) != len(want) {
		t.Fatalf("Find() = %+v", hits)
	}
	for i := range want {
		if hits[i] != want[i] {
			t.Errorf("hit %d = %+v, want %+v", i, hits[i], want[i])
		}
	}
}

func TestFindMetaAndAnyValue(t *testing.T) {
	ctx := context.Background()
	ix := createIndex(t)
	if err := ix.AddStore(ctx, "P1", testStore(t, "P1")); err != nil {
		t.Fatal(err)
	}

	hits, err := ix.Find(ctx, "imgnum", "4")
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || !hits[0].IsMeta() || hits[0].Target != "a1" || hits[0].AnnotationID != "m1" {
		t.Errorf("Find(imgnum) = %+v", hits)
	}

	all, err := ix.Find(ctx, "Structure Type", "")
	if err != nil || len(all) != 3 {
		t.Errorf("Find(any) = %d hits, %v", len(all), err)
	}

	none, err := ix.Find(ctx, "Structure Type", "Chapter")
	if err != nil || len(none) != 0 {
		t.Errorf("Find(Chapter) = %+v, %v", none, err)
	}
}

func TestAddStoreDuplicateName(t *testing.T) {
	ctx := context.Background()
	ix := createIndex(t)
	if err := ix.AddStore(ctx, "P1", testStore(t, "P1")); err != nil {
		t.Fatal(err)
	}
	err := ix.AddStore(ctx, "P1", testStore(t, "P1"))
	if !errors.Is(err, errors.ErrAlreadyExists) {
		t.Fatalf("AddStore(duplicate) error = %v", err)
	}
	if n, _ := ix.Count(ctx); n != 4 {
		t.Errorf("Count() = %d after rejected add, want 4", n)
	}
}

func TestAddStoreRollsBack(t *testing.T) {
	ctx := context.Background()
	ix := createIndex(t)

	s := stam.New("broken")
	if _, err := s.AddResourceFile("gone.txt", filepath.Join(t.TempDir(), "gone.txt"), ""); err != nil {
		t.Fatal(err)
	}
	if err := ix.AddStore(ctx, "broken", s); err == nil {
		t.Fatal("AddStore() with unreadable resource succeeded")
	}
	names, err := ix.Stores(ctx)
	if err != nil || len(names) != 0 {
		t.Errorf("Stores() = %v, %v after rollback", names, err)
	}
}

func TestRemoveStore(t *testing.T) {
	ctx := context.Background()
	ix := createIndex(t)
	for _, name := range []string{"P2", "P1"} {
		if err := ix.AddStore(ctx, name, testStore(t, name)); err != nil {
			t.Fatal(err)
		}
	}
	names, _ := ix.Stores(ctx)
	if len(names) != 2 || names[0] != "P1" {
		t.Fatalf("Stores() = %v", names)
	}

	if err := ix.RemoveStore(ctx, "P1"); err != nil {
		t.Fatalf("RemoveStore: %v", err)
	}
	if n, _ := ix.Count(ctx); n != 4 {
		t.Errorf("Count() = %d, want 4", n)
	}
	hits, _ := ix.Find(ctx, "imgnum", "")
	if len(hits) != 1 || hits[0].Store != "P2" {
		t.Errorf("Find() after remove = %+v", hits)
	}
	if err := ix.RemoveStore(ctx, "P1"); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("RemoveStore(missing) error = %v", err)
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "index.db")
	ix, err := Create(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	if err := ix.AddStore(ctx, "P1", testStore(t, "P1")); err != nil {
		t.Fatal(err)
	}
	ix.Close()

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer reopened.Close()
	if n, _ := reopened.Count(ctx); n != 4 {
		t.Errorf("Count() = %d, want 4", n)
	}
	if err := reopened.AddStore(ctx, "P2", testStore(t, "P2")); err == nil {
		t.Error("AddStore() on a read-only index succeeded")
	}

	if _, err := Open(filepath.Join(t.TempDir(), "missing.db")); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("Open(missing) error = %v", err)
	}

	empty := filepath.Join(t.TempDir(), "empty.db")
	if err := os.WriteFile(empty, nil, 0644); err != nil {
		t.Fatal(err)
	}
	var parseErr *errors.ParseError
	if _, err := Open(empty); !errors.As(err, &parseErr) {
		t.Errorf("Open(empty) error = %v, want ParseError", err)
	}
}

func TestAddStoreCancelled(t *testing.T) {
	ix := createIndex(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := ix.AddStore(ctx, "P1", testStore(t, "P1")); err == nil {
		t.Error("AddStore() with cancelled context succeeded")
	}
}
