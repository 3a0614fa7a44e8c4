package archive

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"

	"github.com/FocuswithJustin/PechaStam/core/errors"
)

// epoch is the modification time written for every entry, so that equal
// inputs give byte-identical archives.
var epoch = time.Unix(0, 0).UTC()

// Writer wraps a tar.Writer with compression chosen by extension.
type Writer struct {
	tw         *tar.Writer
	file       *os.File
	compressor io.WriteCloser
	closed     bool
}

// NewWriter creates the archive at path, creating parent directories.
func NewWriter(path string) (*Writer, error) {
	format := DetectFormat(path)
	if format == "" {
		return nil, errors.NewUnsupported("archive format", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errors.NewIO("create directory", filepath.Dir(path), err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.NewIO("create archive", path, err)
	}

	var out io.Writer = f
	var compressor io.WriteCloser
	switch format {
	case FormatTarXz:
		compressor, err = xz.NewWriter(f)
	case FormatTarZst:
		compressor, err = zstd.NewWriter(f, zstd.WithEncoderConcurrency(1))
	case FormatTarGz:
		compressor = gzip.NewWriter(f)
	}
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s writer: %w", format, err)
	}
	if compressor != nil {
		out = compressor
	}
	return &Writer{tw: tar.NewWriter(out), file: f, compressor: compressor}, nil
}

// AddFile writes one regular file entry of the given size, copying its
// content from r.
func (w *Writer) AddFile(name string, size int64, r io.Reader) error {
	hdr := &tar.Header{
		Typeflag: tar.TypeReg,
		Name:     name,
		Size:     size,
		Mode:     0644,
		ModTime:  epoch,
		Format:   tar.FormatPAX,
	}
	if err := w.tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("write header %s: %w", name, err)
	}
	if _, err := io.Copy(w.tw, r); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// Close flushes the tar stream, the compressor and the file.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	var errs []error
	if err := w.tw.Close(); err != nil {
		errs = append(errs, err)
	}
	if w.compressor != nil {
		if err := w.compressor.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := w.file.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}
