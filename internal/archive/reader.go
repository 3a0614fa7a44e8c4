// Package archive reads and writes the compressed tar archives behind
// pecha bundles. It supports tar.xz, tar.zst, tar.gz and plain tar.
package archive

import (
	"archive/tar"
	"compress/gzip"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"

	"github.com/FocuswithJustin/PechaStam/core/errors"
)

// decompressor wraps a compressed stream. The closer is nil when the
// decompressor holds nothing to release.
type decompressor func(io.Reader) (io.Reader, io.Closer, error)

var decompressors = map[Format]decompressor{
	FormatTar: func(r io.Reader) (io.Reader, io.Closer, error) {
		return r, nil, nil
	},
	FormatTarXz: func(r io.Reader) (io.Reader, io.Closer, error) {
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return xr, nil, nil
	},
	FormatTarZst: func(r io.Reader) (io.Reader, io.Closer, error) {
		zr, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, nil, err
		}
		rc := zr.IOReadCloser()
		return rc, rc, nil
	},
	FormatTarGz: func(r io.Reader) (io.Reader, io.Closer, error) {
		gr, err := gzip.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return gr, gr, nil
	},
}

// Reader iterates the entries of one archive file.
type Reader struct {
	*tar.Reader
	file   *os.File
	closer io.Closer
}

// NewReader opens the archive at path with the decompressor its extension
// names.
func NewReader(path string) (*Reader, error) {
	format := DetectFormat(path)
	decompress, ok := decompressors[format]
	if !ok {
		return nil, errors.NewUnsupported("archive format", path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.NewIO("open archive", path, err)
	}
	r, closer, err := decompress(f)
	if err != nil {
		f.Close()
		return nil, errors.NewIO("decompress "+string(format), path, err)
	}
	return &Reader{Reader: tar.NewReader(r), file: f, closer: closer}, nil
}

// Close releases the decompressor and the file. The first error wins.
func (r *Reader) Close() error {
	var err error
	if r.closer != nil {
		err = r.closer.Close()
		r.closer = nil
	}
	if ferr := r.file.Close(); err == nil {
		err = ferr
	}
	return err
}

// Visitor receives each entry in archive order. Returning stop ends the
// iteration without error.
type Visitor func(header *tar.Header, content io.Reader) (stop bool, err error)

// Iterate calls visit for every remaining entry.
func (r *Reader) Iterate(visit Visitor) error {
	for {
		hdr, err := r.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "read tar header")
		}
		if stop, err := visit(hdr, r); err != nil || stop {
			return err
		}
	}
}

// Walk opens the archive at path and iterates it.
func Walk(path string, visit Visitor) error {
	r, err := NewReader(path)
	if err != nil {
		return err
	}
	defer r.Close()
	return r.Iterate(visit)
}

// ReadFile returns the content of the entry called name.
func ReadFile(path, name string) ([]byte, error) {
	var content []byte
	found := false
	err := Walk(path, func(hdr *tar.Header, r io.Reader) (bool, error) {
		if hdr.Name != name {
			return false, nil
		}
		found = true
		var err error
		content, err = io.ReadAll(r)
		return true, err
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errors.NewNotFound("archive entry", name)
	}
	return content, nil
}
