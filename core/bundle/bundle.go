// Package bundle packs a converted pecha or alignment directory into a
// single reproducible archive and unpacks it again. Every bundle starts
// with a manifest listing each file's size, SHA-256 and BLAKE3 digests.
package bundle

import (
	"archive/tar"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"hash"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/zeebo/blake3"

	"github.com/FocuswithJustin/PechaStam/core/errors"
	"github.com/FocuswithJustin/PechaStam/internal/archive"
	"github.com/FocuswithJustin/PechaStam/internal/logging"
	"github.com/FocuswithJustin/PechaStam/internal/validation"
)

// ManifestName is the first entry of every bundle.
const ManifestName = "manifest.json"

const manifestVersion = 1

// File describes one bundled file.
type File struct {
	Path   string `json:"path"`
	Size   int64  `json:"size"`
	SHA256 string `json:"sha256"`
	BLAKE3 string `json:"blake3"`
}

// Manifest lists the bundled files in archive order.
type Manifest struct {
	Version int    `json:"version"`
	Root    string `json:"root"`
	Files   []File `json:"files"`
}

// file returns the entry for path.
func (m *Manifest) file(path string) (File, bool) {
	for _, f := range m.Files {
		if f.Path == path {
			return f, true
		}
	}
	return File{}, false
}

// digest hashes everything written to it with both algorithms.
type digest struct {
	sha  hash.Hash
	b3   *blake3.Hasher
	size int64
}

func newDigest() *digest {
	return &digest{sha: sha256.New(), b3: blake3.New()}
}

func (d *digest) Write(p []byte) (int, error) {
	d.sha.Write(p)
	d.b3.Write(p)
	d.size += int64(len(p))
	return len(p), nil
}

func (d *digest) file(path string) File {
	return File{
		Path:   path,
		Size:   d.size,
		SHA256: hex.EncodeToString(d.sha.Sum(nil)),
		BLAKE3: hex.EncodeToString(d.b3.Sum(nil)),
	}
}

// Pack writes srcDir into dst. The compression follows the extension of
// dst. Directories named .git are skipped.
func Pack(srcDir, dst string) (*Manifest, error) {
	info, err := os.Stat(srcDir)
	if err != nil || !info.IsDir() {
		return nil, &errors.NotFoundError{Resource: "directory", ID: srcDir, Err: errors.ErrNotFound}
	}
	if !archive.IsSupportedFormat(dst) {
		return nil, errors.NewUnsupported("bundle format", filepath.Base(dst))
	}

	m := &Manifest{Version: manifestVersion, Root: filepath.Base(srcDir)}
	var paths []string
	err = filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		f, err := hashFile(path, filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		m.Files = append(m.Files, f)
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "scan %s", srcDir)
	}

	manifest, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "encode manifest")
	}

	w, err := archive.NewWriter(dst)
	if err != nil {
		return nil, err
	}
	if err := w.AddFile(ManifestName, int64(len(manifest)), bytes.NewReader(manifest)); err != nil {
		w.Close()
		return nil, err
	}
	for i, f := range m.Files {
		if err := addFile(w, paths[i], f); err != nil {
			w.Close()
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, errors.NewIO("write", dst, err)
	}
	logging.Info("bundle packed", "src", srcDir, "dst", dst, "files", len(m.Files))
	return m, nil
}

func hashFile(path, rel string) (File, error) {
	f, err := os.Open(path)
	if err != nil {
		return File{}, errors.NewIO("open", path, err)
	}
	defer f.Close()
	d := newDigest()
	if _, err := io.Copy(d, f); err != nil {
		return File{}, errors.NewIO("read", path, err)
	}
	return d.file(rel), nil
}

func addFile(w *archive.Writer, path string, f File) error {
	in, err := os.Open(path)
	if err != nil {
		return errors.NewIO("open", path, err)
	}
	defer in.Close()
	// a file changed between hashing and archiving fails the size check
	return w.AddFile(f.Path, f.Size, io.LimitReader(in, f.Size))
}

// walk iterates the entries of src once its content matches the
// compression its extension names.
func walk(src string, visit archive.Visitor) error {
	f, err := os.Open(src)
	if err != nil {
		return errors.NewIO("open", src, err)
	}
	_, err = validation.ValidateFileType(f, filepath.Base(src))
	f.Close()
	if err != nil {
		return &errors.ValidationError{Field: "bundle", Value: src, Message: err.Error()}
	}
	return archive.Walk(src, visit)
}

// readManifest decodes the manifest entry.
func readManifest(hdr *tar.Header, r io.Reader) (*Manifest, error) {
	if hdr.Name != ManifestName {
		return nil, &errors.ParseError{Format: "bundle", Path: hdr.Name, Message: "first entry is not " + ManifestName}
	}
	var m Manifest
	if err := json.NewDecoder(r).Decode(&m); err != nil {
		return nil, &errors.ParseError{Format: "JSON", Path: ManifestName, Message: err.Error(), Err: err}
	}
	if m.Version != manifestVersion {
		return nil, errors.NewUnsupported("manifest version", hdr.Name)
	}
	return &m, nil
}

// Unpack extracts src into dstDir and checks every file against the
// manifest. Entries escaping dstDir and non-regular entries are rejected.
func Unpack(src, dstDir string) (*Manifest, error) {
	var m *Manifest
	seen := make(map[string]bool)
	err := walk(src, func(hdr *tar.Header, r io.Reader) (bool, error) {
		if m == nil {
			var err error
			m, err = readManifest(hdr, r)
			return false, err
		}
		if hdr.Typeflag != tar.TypeReg {
			return true, errors.NewValidation("entry", hdr.Name+": only regular files are allowed")
		}
		rel, err := validation.SanitizePath(dstDir, hdr.Name)
		if err != nil {
			return true, &errors.ValidationError{Field: "entry", Value: hdr.Name, Message: err.Error(), Err: err}
		}
		want, ok := m.file(hdr.Name)
		if !ok {
			return true, errors.NewValidation("entry", hdr.Name+": not listed in manifest")
		}
		if hdr.Size > validation.MaxFileSize {
			return true, errors.NewValidation("entry", hdr.Name+": file too large")
		}
		got, err := extract(filepath.Join(dstDir, rel), hdr.Name, r)
		if err != nil {
			return true, err
		}
		if reason := compare(want, got); reason != "" {
			return true, errors.NewValidation("entry", hdr.Name+": "+reason)
		}
		seen[hdr.Name] = true
		return false, nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "unpack %s", src)
	}
	if m == nil {
		return nil, &errors.ParseError{Format: "bundle", Path: src, Message: "empty archive"}
	}
	for _, f := range m.Files {
		if !seen[f.Path] {
			return nil, errors.NewValidation("entry", f.Path+": listed in manifest but missing")
		}
	}
	logging.Info("bundle unpacked", "src", src, "dst", dstDir, "files", len(m.Files))
	return m, nil
}

func extract(path, name string, r io.Reader) (File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return File{}, errors.NewIO("create directory", filepath.Dir(path), err)
	}
	out, err := os.Create(path)
	if err != nil {
		return File{}, errors.NewIO("create", path, err)
	}
	d := newDigest()
	if _, err := io.Copy(io.MultiWriter(out, d), r); err != nil {
		out.Close()
		return File{}, errors.NewIO("write", path, err)
	}
	if err := out.Close(); err != nil {
		return File{}, errors.NewIO("write", path, err)
	}
	return d.file(name), nil
}

func compare(want, got File) string {
	switch {
	case want.Size != got.Size:
		return "size mismatch"
	case want.SHA256 != got.SHA256:
		return "sha256 mismatch"
	case want.BLAKE3 != got.BLAKE3:
		return "blake3 mismatch"
	}
	return ""
}

// Mismatch is one problem found by Verify.
type Mismatch struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// Report is the result of Verify.
type Report struct {
	Manifest   *Manifest  `json:"manifest"`
	Mismatches []Mismatch `json:"mismatches,omitempty"`
}

// OK reports whether the bundle matched its manifest.
func (r *Report) OK() bool { return len(r.Mismatches) == 0 }

// Verify recomputes the digests of every entry in src without extracting
// it. Mismatches are reported, not returned as errors.
func Verify(src string) (*Report, error) {
	rep := &Report{}
	seen := make(map[string]bool)
	err := walk(src, func(hdr *tar.Header, r io.Reader) (bool, error) {
		if rep.Manifest == nil {
			var err error
			rep.Manifest, err = readManifest(hdr, r)
			return false, err
		}
		want, ok := rep.Manifest.file(hdr.Name)
		if !ok {
			rep.Mismatches = append(rep.Mismatches, Mismatch{Path: hdr.Name, Reason: "not listed in manifest"})
			return false, nil
		}
		seen[hdr.Name] = true
		d := newDigest()
		if _, err := io.Copy(d, r); err != nil {
			return true, errors.NewIO("read", hdr.Name, err)
		}
		if reason := compare(want, d.file(hdr.Name)); reason != "" {
			rep.Mismatches = append(rep.Mismatches, Mismatch{Path: hdr.Name, Reason: reason})
		}
		return false, nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "verify %s", src)
	}
	if rep.Manifest == nil {
		return nil, &errors.ParseError{Format: "bundle", Path: src, Message: "empty archive"}
	}
	for _, f := range rep.Manifest.Files {
		if !seen[f.Path] {
			rep.Mismatches = append(rep.Mismatches, Mismatch{Path: f.Path, Reason: "missing"})
		}
	}
	return rep, nil
}
