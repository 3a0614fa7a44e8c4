// Package pecha reads converted pechas: a directory holding one annotation
// store per volume under <id>.opf/layers together with base texts and
// metadata.
package pecha

import (
	"encoding/json"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/FocuswithJustin/PechaStam/core/errors"
	"github.com/FocuswithJustin/PechaStam/core/stam"
	"github.com/FocuswithJustin/PechaStam/internal/logging"
)

const storeSuffix = ".opf.json"

// Injectable for testing.
var loadStore = stam.Load

// Pecha is an opened multi-volume document.
type Pecha struct {
	id      string
	root    string
	volumes []string
	stores  map[string]*stam.Store
}

// Record is the flattened view of one annotation.
type Record struct {
	ID       string            `json:"id"`
	Group    string            `json:"annotation_group,omitempty"`
	Type     string            `json:"annotation,omitempty"`
	Text     string            `json:"text"`
	Span     stam.Span         `json:"span"`
	Payloads map[string]string `json:"payloads,omitempty"`
}

// Open loads every volume store under <root>/<id>.opf/layers. Includes are
// resolved against root.
func Open(id, root string) (*Pecha, error) {
	layers := filepath.Join(root, id+".opf", "layers")
	info, err := os.Stat(layers)
	if err != nil || !info.IsDir() {
		return nil, &errors.NotFoundError{Resource: "pecha", ID: id, Err: errors.ErrNotFound}
	}

	p := &Pecha{id: id, root: root, stores: make(map[string]*stam.Store)}
	err = filepath.WalkDir(layers, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), storeSuffix) {
			return nil
		}
		volume := strings.TrimSuffix(d.Name(), storeSuffix)
		if _, dup := p.stores[volume]; dup {
			return errors.NewDuplicate("volume", volume)
		}
		s, err := loadStore(path, root)
		if err != nil {
			return err
		}
		p.stores[volume] = s
		p.volumes = append(p.volumes, volume)
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "open pecha %s", id)
	}
	slices.Sort(p.volumes)
	logging.Debug("pecha opened", "pecha_id", id, "root", root, "volumes", len(p.volumes))
	return p, nil
}

// ID returns the pecha id.
func (p *Pecha) ID() string { return p.id }

// Root returns the directory the pecha was opened from.
func (p *Pecha) Root() string { return p.root }

// Volumes returns the volume names in sorted order.
func (p *Pecha) Volumes() []string { return slices.Clone(p.volumes) }

// Store returns the annotation store of a volume.
func (p *Pecha) Store(volume string) (*stam.Store, error) {
	s, ok := p.stores[volume]
	if !ok {
		return nil, errors.NewNotFound("volume", volume)
	}
	return s, nil
}

// BaseText returns the text of <volume>.txt, searched anywhere under the
// pecha root.
func (p *Pecha) BaseText(volume string) (string, error) {
	path, err := p.find(volume + ".txt")
	if err != nil {
		return "", err
	}
	if path == "" {
		return "", errors.NewNotFound("base text", volume)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", errors.NewIO("read", path, err)
	}
	return string(data), nil
}

// Meta returns the first meta.json under the pecha root, or an empty map.
func (p *Pecha) Meta() (map[string]any, error) { return p.readJSON("meta.json") }

// Index returns the first index.json under the pecha root, or an empty map.
func (p *Pecha) Index() (map[string]any, error) { return p.readJSON("index.json") }

func (p *Pecha) readJSON(name string) (map[string]any, error) {
	path, err := p.find(name)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any)
	if path == "" {
		return out, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewIO("read", path, err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, &errors.ParseError{Format: "JSON", Path: path, Message: err.Error(), Err: err}
	}
	return out, nil
}

// find returns the first file called name under the root in lexical walk
// order, or "" if there is none.
func (p *Pecha) find(name string) (string, error) {
	var found string
	err := filepath.WalkDir(p.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() && d.Name() == ".git" {
			return filepath.SkipDir
		}
		if !d.IsDir() && d.Name() == name {
			found = path
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		return "", errors.NewIO("search", p.root, err)
	}
	return found, nil
}

// Segment returns the text and span of an annotation in a volume.
func (p *Pecha) Segment(volume, annotationID string) (string, stam.Span, error) {
	s, err := p.Store(volume)
	if err != nil {
		return "", stam.Span{}, err
	}
	a, err := s.Annotation(annotationID)
	if err != nil {
		return "", stam.Span{}, err
	}
	text, err := s.Text(a)
	if err != nil {
		return "", stam.Span{}, err
	}
	return text, a.Span(), nil
}

// Records returns the non-meta annotations of a volume in store order.
func (p *Pecha) Records(volume string) ([]Record, error) {
	s, err := p.Store(volume)
	if err != nil {
		return nil, err
	}
	return collect(s, s.Annotations())
}

// Filtered returns, per volume, the records typed as typ under group.
func (p *Pecha) Filtered(group stam.AnnotationGroup, typ stam.AnnotationType) (map[string][]Record, error) {
	out := make(map[string][]Record, len(p.volumes))
	for _, v := range p.volumes {
		s := p.stores[v]
		recs, err := collect(s, s.AnnotationsFiltered(group.String(), typ.String()))
		if err != nil {
			return nil, errors.Wrapf(err, "volume %s", v)
		}
		out[v] = recs
	}
	return out, nil
}

func collect(s *stam.Store, seq iter.Seq[*stam.Annotation]) ([]Record, error) {
	var out []Record
	for a := range seq {
		if a.IsMeta() {
			continue
		}
		r, err := NewRecord(s, a)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// NewRecord flattens a. Data under an annotation group key sets Group and
// Type; any other data, and the data of meta-annotations, become payloads.
func NewRecord(s *stam.Store, a *stam.Annotation) (Record, error) {
	text, err := s.Text(a)
	if err != nil {
		return Record{}, err
	}
	r := Record{ID: a.ID(), Text: text, Span: a.Span()}
	payloads := make(map[string]string)
	for _, d := range a.Data() {
		if _, err := stam.ParseAnnotationGroup(d.Key()); err == nil {
			r.Group, r.Type = d.Key(), d.String()
			continue
		}
		payloads[d.Key()] = d.String()
	}
	for k, v := range s.Payloads(a) {
		payloads[k] = stam.FormatValue(v)
	}
	if len(payloads) > 0 {
		r.Payloads = payloads
	}
	return r, nil
}
