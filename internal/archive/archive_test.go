package archive

import (
	"archive/tar"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/FocuswithJustin/PechaStam/core/errors"
)

var entries = []struct {
	name    string
	content string
}{
	{"manifest.json", `{"version": 1}`},
	{"P1/P1.opf/base/v001.txt", "བཀྲ་ཤིས་བདེ་ལེགས།"},
	{"P1/P1.opf/layers/v001/v001.opf.json", `{"@type": "AnnotationStore"}`},
}

func writeArchive(t *testing.T, path string) {
	t.Helper()
	w, err := NewWriter(path)
	if err != nil {
		t.Fatalf("NewWriter(%s): %v", path, err)
	}
	for _, e := range entries {
		if err := w.AddFile(e.name, int64(len(e.content)), strings.NewReader(e.content)); err != nil {
			t.Fatalf("AddFile(%s): %v", e.name, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		path string
		want Format
	}{
		{"P1.tar.xz", FormatTarXz},
		{"P1.tar.zst", FormatTarZst},
		{"P1.tar.gz", FormatTarGz},
		{"P1.tar", FormatTar},
		{"P1.zip", ""},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := DetectFormat(tt.path); got != tt.want {
				t.Errorf("DetectFormat(%q) = %q, want %q", tt.path, got, tt.want)
			}
			if got := IsSupportedFormat(tt.path); got != (tt.want != "") {
				t.Errorf("IsSupportedFormat(%q) = %v", tt.path, got)
			}
		})
	}
}

func TestTrimExt(t *testing.T) {
	tests := map[string]string{
		"P000216.tar.xz":  "P000216",
		"P000216.tar.zst": "P000216",
		"A1.opa.tar.gz":   "A1.opa",
		"P1.tar":          "P1",
		"no-extension":    "no-extension",
	}
	for in, want := range tests {
		if got := TrimExt(in); got != want {
			t.Errorf("TrimExt(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRoundTrip(t *testing.T) {
	for _, f := range formats {
		t.Run(string(f), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "bundle."+string(f))
			writeArchive(t, path)

			var names []string
			err := Walk(path, func(h *tar.Header, r io.Reader) (bool, error) {
				data, err := io.ReadAll(r)
				if err != nil {
					return true, err
				}
				want := entries[len(names)].content
				if string(data) != want {
					t.Errorf("%s content = %q, want %q", h.Name, data, want)
				}
				if !h.ModTime.Equal(epoch) {
					t.Errorf("%s ModTime = %v", h.Name, h.ModTime)
				}
				names = append(names, h.Name)
				return false, nil
			})
			if err != nil {
				t.Fatalf("Walk: %v", err)
			}
			if len(names) != len(entries) {
				t.Fatalf("entries = %v", names)
			}

			data, err := ReadFile(path, "P1/P1.opf/base/v001.txt")
			if err != nil || string(data) != entries[1].content {
				t.Errorf("ReadFile() = %q, %v", data, err)
			}
		})
	}
}

func TestWriterReproducible(t *testing.T) {
	dir := t.TempDir()
	for _, f := range formats {
		a := filepath.Join(dir, "a."+string(f))
		b := filepath.Join(dir, "b."+string(f))
		writeArchive(t, a)
		writeArchive(t, b)
		da, _ := os.ReadFile(a)
		db, _ := os.ReadFile(b)
		if !bytes.Equal(da, db) {
			t.Errorf("%s archives differ", f)
		}
	}
}

func TestReadFileMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bundle.tar.gz")
	writeArchive(t, path)
	if _, err := ReadFile(path, "missing.txt"); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("ReadFile(missing) error = %v", err)
	}
}

func TestNewReaderErrors(t *testing.T) {
	dir := t.TempDir()

	if _, err := NewReader(filepath.Join(dir, "bundle.zip")); !errors.Is(err, errors.ErrUnsupported) {
		t.Errorf("NewReader(zip) error = %v", err)
	}
	var ioErr *errors.IOError
	if _, err := NewReader(filepath.Join(dir, "missing.tar.gz")); !errors.As(err, &ioErr) {
		t.Errorf("NewReader(missing) error = %v", err)
	}

	for _, name := range []string{"corrupt.tar.gz", "corrupt.tar.xz"} {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte("not compressed"), 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := NewReader(path); err == nil {
			t.Errorf("NewReader(%s) succeeded", name)
		}
	}

	corrupt := filepath.Join(dir, "corrupt.tar")
	if err := os.WriteFile(corrupt, bytes.Repeat([]byte{0xff}, 1024), 0644); err != nil {
		t.Fatal(err)
	}
	err := Walk(corrupt, func(*tar.Header, io.Reader) (bool, error) { return false, nil })
	if err == nil {
		t.Error("Walk(corrupt tar) succeeded")
	}
}

func TestIterateStopAndError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bundle.tar.zst")
	writeArchive(t, path)

	n := 0
	err := Walk(path, func(*tar.Header, io.Reader) (bool, error) {
		n++
		return true, nil
	})
	if err != nil || n != 1 {
		t.Errorf("stop early: n = %d, err = %v", n, err)
	}

	want := fmt.Errorf("visitor failed")
	if err := Walk(path, func(*tar.Header, io.Reader) (bool, error) { return false, want }); err != want {
		t.Errorf("Walk() error = %v, want %v", err, want)
	}
}

func TestCloseTwice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bundle.tar.xz")
	w, err := NewWriter(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}

	r, err := NewReader(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Close(); err != nil {
		t.Errorf("Reader.Close: %v", err)
	}
}

func TestNewWriterUnsupported(t *testing.T) {
	if _, err := NewWriter(filepath.Join(t.TempDir(), "bundle.rar")); !errors.Is(err, errors.ErrUnsupported) {
		t.Errorf("NewWriter(rar) error = %v", err)
	}
}
