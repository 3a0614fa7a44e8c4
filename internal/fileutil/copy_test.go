package fileutil

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

const baseText = "བཀྲ་ཤིས་བདེ་ལེགས། ཀ་ཁ་ག"

// writeTree creates files (slash separated, relative to root).
func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, body := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(body), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestCopyFile(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(t *testing.T, dir string) (src, dst string)
		wantErr bool
	}{
		{
			name: "base text",
			prepare: func(t *testing.T, dir string) (string, string) {
				writeTree(t, dir, map[string]string{"base/v001.txt": baseText})
				return filepath.Join(dir, "base", "v001.txt"), filepath.Join(dir, "out", "v001.txt")
			},
		},
		{
			name: "creates parents",
			prepare: func(t *testing.T, dir string) (string, string) {
				writeTree(t, dir, map[string]string{"v001.txt": baseText})
				return filepath.Join(dir, "v001.txt"), filepath.Join(dir, "P1", "P1.opf", "base", "v001.txt")
			},
		},
		{
			name: "missing source",
			prepare: func(t *testing.T, dir string) (string, string) {
				return filepath.Join(dir, "missing.txt"), filepath.Join(dir, "out.txt")
			},
			wantErr: true,
		},
		{
			name: "parent is a file",
			prepare: func(t *testing.T, dir string) (string, string) {
				writeTree(t, dir, map[string]string{"v001.txt": baseText, "out": "blocking"})
				return filepath.Join(dir, "v001.txt"), filepath.Join(dir, "out", "v001.txt")
			},
			wantErr: true,
		},
		{
			name: "destination is a directory",
			prepare: func(t *testing.T, dir string) (string, string) {
				writeTree(t, dir, map[string]string{"v001.txt": baseText, "out/v001.txt/keep": ""})
				return filepath.Join(dir, "v001.txt"), filepath.Join(dir, "out", "v001.txt")
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, dst := tt.prepare(t, t.TempDir())
			err := CopyFile(src, dst)
			if tt.wantErr {
				if err == nil {
					t.Fatal("CopyFile() succeeded, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("CopyFile() error = %v", err)
			}
			got, err := os.ReadFile(dst)
			if err != nil || string(got) != baseText {
				t.Errorf("copied content = %q, %v", got, err)
			}
		})
	}
}

func TestCopyFileMode(t *testing.T) {
	for _, mode := range []os.FileMode{0600, 0644, 0755} {
		dir := t.TempDir()
		src := filepath.Join(dir, "hook.sh")
		if err := os.WriteFile(src, []byte("#!/bin/sh\n"), mode); err != nil {
			t.Fatal(err)
		}
		if err := os.Chmod(src, mode); err != nil {
			t.Fatal(err)
		}
		dst := filepath.Join(dir, "copy", "hook.sh")
		if err := CopyFile(src, dst); err != nil {
			t.Fatalf("CopyFile() error = %v", err)
		}
		info, err := os.Stat(dst)
		if err != nil {
			t.Fatal(err)
		}
		if info.Mode().Perm() != mode {
			t.Errorf("mode = %v, want %v", info.Mode().Perm(), mode)
		}
	}
}

func TestCopyTree(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "OpenPecha-Data", "P000216")
	writeTree(t, src, map[string]string{
		".git/HEAD":                          "ref: refs/heads/main",
		".git/objects/ab/cdef":               "blob",
		"P000216.opf/base/v001.txt":          baseText,
		"P000216.opf/layers/v001/Author.yml": "annotation_type: Author",
		"P000216.opf/meta.yml":               "id: P000216",
		"README.md":                          "# P000216",
	})
	if err := os.MkdirAll(filepath.Join(src, "P000216.opf", "assets"), 0755); err != nil {
		t.Fatal(err)
	}

	dst := filepath.Join(dir, "PechaData", "P000216")
	skipYAML := func(rel string, d fs.DirEntry) bool {
		return SkipGit(rel, d) || filepath.Ext(rel) == ".yml"
	}
	if err := CopyTree(src, dst, skipYAML); err != nil {
		t.Fatalf("CopyTree() error = %v", err)
	}

	absent := []string{".git", "P000216.opf/layers/v001/Author.yml", "P000216.opf/meta.yml"}
	for _, name := range absent {
		if _, err := os.Stat(filepath.Join(dst, filepath.FromSlash(name))); !os.IsNotExist(err) {
			t.Errorf("%s copied", name)
		}
	}
	present := map[string]string{"P000216.opf/base/v001.txt": baseText, "README.md": "# P000216"}
	for name, want := range present {
		got, err := os.ReadFile(filepath.Join(dst, filepath.FromSlash(name)))
		if err != nil || string(got) != want {
			t.Errorf("%s = %q, %v", name, got, err)
		}
	}
	for _, name := range []string{"P000216.opf/layers/v001", "P000216.opf/assets"} {
		if info, err := os.Stat(filepath.Join(dst, filepath.FromSlash(name))); err != nil || !info.IsDir() {
			t.Errorf("directory %s not created", name)
		}
	}
}

func TestCopyTreeNoSkip(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{"src/.git/HEAD": "ref", "src/v001.txt": baseText})
	if err := CopyTree(filepath.Join(dir, "src"), filepath.Join(dir, "dst"), nil); err != nil {
		t.Fatalf("CopyTree() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "dst", ".git", "HEAD")); err != nil {
		t.Errorf("nil skip left out .git: %v", err)
	}
}

func TestCopyTreeSingleFile(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{"v001.txt": baseText})
	dst := filepath.Join(dir, "copy.txt")
	if err := CopyTree(filepath.Join(dir, "v001.txt"), dst, SkipGit); err != nil {
		t.Fatalf("CopyTree() error = %v", err)
	}
	if got, _ := os.ReadFile(dst); string(got) != baseText {
		t.Errorf("content = %q", got)
	}
}

func TestCopyTreeErrors(t *testing.T) {
	tests := []struct {
		name    string
		files   map[string]string
		dst     string
		noRoot  bool
		chmodRO string
	}{
		{name: "missing source", dst: "dst"},
		{
			name:  "destination is a file",
			files: map[string]string{"src/v001.txt": baseText, "dst": "blocking"},
			dst:   "dst",
		},
		{
			name:  "subdirectory blocked",
			files: map[string]string{"src/base/v001.txt": baseText, "dst/base": "blocking"},
			dst:   "dst",
		},
		{
			name:  "file blocked by directory",
			files: map[string]string{"src/v001.txt": baseText, "dst/v001.txt/keep": ""},
			dst:   "dst",
		},
		{
			name:    "unreadable directory",
			files:   map[string]string{"src/layers/v001/Author.yml": "id: a"},
			dst:     "dst",
			noRoot:  true,
			chmodRO: "src/layers",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.noRoot && os.Geteuid() == 0 {
				t.Skip("directory permissions are not enforced for root")
			}
			dir := t.TempDir()
			writeTree(t, dir, tt.files)
			if tt.chmodRO != "" {
				locked := filepath.Join(dir, filepath.FromSlash(tt.chmodRO))
				if err := os.Chmod(locked, 0000); err != nil {
					t.Fatal(err)
				}
				defer os.Chmod(locked, 0755)
			}
			if err := CopyTree(filepath.Join(dir, "src"), filepath.Join(dir, tt.dst), SkipGit); err == nil {
				t.Error("CopyTree() succeeded, want error")
			}
		})
	}
}
