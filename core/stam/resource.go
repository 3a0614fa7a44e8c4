package stam

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"sync"
	"unicode/utf8"

	"github.com/zeebo/blake3"

	"github.com/FocuswithJustin/PechaStam/core/errors"
)

// readFile is a variable to allow testing of resource load errors.
var readFile = os.ReadFile

// Resource is a base text addressed by annotation spans. Its content is
// either held inline or read once from an included file.
type Resource struct {
	id      string
	include string // as supplied; empty for inline resources
	baseDir string // resolves a relative include
	inline  bool

	once    sync.Once
	text    string
	offsets []int32 // byte offset of each code point; nil when text is ASCII
	length  int
	err     error
}

func newInlineResource(id, text string) *Resource {
	r := &Resource{id: id, inline: true}
	r.once.Do(func() { r.setText(text) })
	return r
}

func newFileResource(id, include, baseDir string) *Resource {
	return &Resource{id: id, include: include, baseDir: baseDir}
}

// ID returns the resource identifier.
func (r *Resource) ID() string { return r.id }

// IsInline reports whether the text was supplied directly rather than included.
func (r *Resource) IsInline() bool { return r.inline }

// Include returns the file reference as supplied. Empty for inline resources.
func (r *Resource) Include() string { return r.include }

// BaseDir returns the directory a relative include is resolved against.
func (r *Resource) BaseDir() string { return r.baseDir }

// Path returns the resolved location of an included resource.
func (r *Resource) Path() string {
	if r.inline {
		return ""
	}
	if filepath.IsAbs(r.include) || r.baseDir == "" {
		return filepath.Clean(r.include)
	}
	return filepath.Join(r.baseDir, r.include)
}

func (r *Resource) load() {
	r.once.Do(func() {
		data, err := readFile(r.Path())
		if err != nil {
			r.err = errors.NewIO("read resource", r.Path(), err)
			return
		}
		r.setText(string(data))
	})
}

func (r *Resource) setText(text string) {
	r.text = text
	r.length = utf8.RuneCountInString(text)
	if r.length == len(text) {
		return
	}
	r.offsets = make([]int32, 0, r.length+1)
	for i := range text {
		r.offsets = append(r.offsets, int32(i))
	}
	r.offsets = append(r.offsets, int32(len(text)))
}

// Text returns the full resource text, loading it on first use.
func (r *Resource) Text() (string, error) {
	r.load()
	return r.text, r.err
}

// Len returns the text length in code points.
func (r *Resource) Len() (int, error) {
	r.load()
	return r.length, r.err
}

// Slice returns the text covered by span.
func (r *Resource) Slice(span Span) (string, error) {
	r.load()
	if r.err != nil {
		return "", r.err
	}
	if err := span.Validate(); err != nil {
		return "", err
	}
	if span.End > r.length {
		return "", &errors.ValidationError{
			Field:   "span",
			Value:   span.String(),
			Message: "span exceeds resource " + r.id,
		}
	}
	if r.offsets == nil {
		return r.text[span.Start:span.End], nil
	}
	return r.text[r.offsets[span.Start]:r.offsets[span.End]], nil
}

// Checksum returns the hex encoded BLAKE3 digest of the resource text.
func (r *Resource) Checksum() (string, error) {
	text, err := r.Text()
	if err != nil {
		return "", err
	}
	sum := blake3.Sum256([]byte(text))
	return hex.EncodeToString(sum[:]), nil
}

// clone copies the resource definition without sharing loaded state.
func (r *Resource) clone() *Resource {
	if r.inline {
		return newInlineResource(r.id, r.text)
	}
	return newFileResource(r.id, r.include, r.baseDir)
}
