package stam

import (
	"fmt"
	"iter"
	"slices"

	"github.com/FocuswithJustin/PechaStam/core/errors"
)

// Sentinel errors for store lookups and merges.
var (
	// ErrUnknownResource is returned when a text selector names a missing resource.
	ErrUnknownResource = fmt.Errorf("unknown resource: %w", errors.ErrNotFound)
	// ErrUnknownAnnotation is returned when an annotation selector names a missing annotation.
	ErrUnknownAnnotation = fmt.Errorf("unknown annotation: %w", errors.ErrNotFound)
	// ErrDuplicateAnnotationID is returned when two annotations share an id.
	ErrDuplicateAnnotationID = fmt.Errorf("duplicate annotation id: %w", errors.ErrAlreadyExists)
)

// SelectorKind distinguishes text selectors from annotation selectors.
type SelectorKind int

const (
	// SelectText targets a span of a resource.
	SelectText SelectorKind = iota
	// SelectAnnotation targets another annotation.
	SelectAnnotation
)

// Selector is the target of an annotation.
type Selector struct {
	Kind         SelectorKind
	ResourceID   string
	Span         Span
	AnnotationID string
}

// TextTarget selects span within the given resource.
func TextTarget(resourceID string, span Span) Selector {
	return Selector{Kind: SelectText, ResourceID: resourceID, Span: span}
}

// AnnotationTarget selects another annotation.
func AnnotationTarget(annotationID string) Selector {
	return Selector{Kind: SelectAnnotation, AnnotationID: annotationID}
}

// DataRef points at a data entry by set and value id.
type DataRef struct {
	SetID  string
	DataID string
}

// Data is a typed (key, value) fact held by a data set. Value is one of
// string, int64, float64, bool or nil.
type Data struct {
	id    string
	key   string
	value any
	set   *DataSet
}

func (d *Data) ID() string        { return d.id }
func (d *Data) Key() string       { return d.key }
func (d *Data) Value() any        { return d.value }
func (d *Data) DataSet() *DataSet { return d.set }

// Ref returns a reference usable with Store.Annotate.
func (d *Data) Ref() DataRef { return DataRef{SetID: d.set.id, DataID: d.id} }

// String renders the value the way Markdown and query matching see it.
func (d *Data) String() string { return valueString(d.value) }

// DataSet is a controlled vocabulary. The first key is the primary key.
type DataSet struct {
	id       string
	keys     []string
	data     []*Data
	dataByID map[string]*Data
}

func newDataSet(id string, keys ...string) *DataSet {
	ds := &DataSet{id: id, dataByID: make(map[string]*Data)}
	for _, k := range keys {
		ds.AddKey(k)
	}
	return ds
}

// ID returns the data set identifier.
func (ds *DataSet) ID() string { return ds.id }

// Keys returns the keys in insertion order.
func (ds *DataSet) Keys() []string {
	out := make([]string, len(ds.keys))
	copy(out, ds.keys)
	return out
}

// PrimaryKey returns the first key of the set.
func (ds *DataSet) PrimaryKey() string {
	if len(ds.keys) == 0 {
		return ""
	}
	return ds.keys[0]
}

// HasKey reports whether key belongs to the set.
func (ds *DataSet) HasKey(key string) bool {
	for _, k := range ds.keys {
		if k == key {
			return true
		}
	}
	return false
}

// AddKey adds an extra key, typically a payload key. Adding an existing key is a no-op.
func (ds *DataSet) AddKey(key string) {
	if key == "" || ds.HasKey(key) {
		return
	}
	ds.keys = append(ds.keys, key)
}

// Data returns a data entry by value id.
func (ds *DataSet) Data(id string) (*Data, bool) {
	d, ok := ds.dataByID[id]
	return d, ok
}

// Entries iterates the data entries in insertion order.
func (ds *DataSet) Entries() iter.Seq[*Data] {
	return func(yield func(*Data) bool) {
		for _, d := range ds.data {
			if !yield(d) {
				return
			}
		}
	}
}

// Len returns the number of data entries.
func (ds *DataSet) Len() int { return len(ds.data) }

// Annotation is a fact bound to data and targeted at text or at another annotation.
type Annotation struct {
	id     string
	target Selector
	data   []*Data
	store  *Store
}

// ID returns the annotation identifier.
func (a *Annotation) ID() string { return a.id }

// Target returns the selector as stored.
func (a *Annotation) Target() Selector { return a.target }

// IsMeta reports whether the annotation targets another annotation.
func (a *Annotation) IsMeta() bool { return a.target.Kind == SelectAnnotation }

// Data returns the bound data entries.
func (a *Annotation) Data() []*Data {
	out := make([]*Data, len(a.data))
	copy(out, a.data)
	return out
}

// Value returns the value bound under key, if any.
func (a *Annotation) Value(key string) (any, bool) {
	for _, d := range a.data {
		if d.key == key {
			return d.value, true
		}
	}
	return nil, false
}

// Span returns the annotation offset, resolving annotation selectors
// through their target.
func (a *Annotation) Span() Span {
	cur := a
	for cur.target.Kind == SelectAnnotation {
		next, ok := cur.store.annotationByID[cur.target.AnnotationID]
		if !ok {
			return Span{}
		}
		cur = next
	}
	return cur.target.Span
}

// ResourceID returns the resource the annotation ultimately points into.
func (a *Annotation) ResourceID() string {
	cur := a
	for cur.target.Kind == SelectAnnotation {
		next, ok := cur.store.annotationByID[cur.target.AnnotationID]
		if !ok {
			return ""
		}
		cur = next
	}
	return cur.target.ResourceID
}

// Store is the annotation store: resources, data sets and annotations, all
// kept in insertion order. It is not safe for concurrent writers; once built
// it may be read from multiple goroutines.
type Store struct {
	id string

	resources    []*Resource
	resourceByID map[string]*Resource

	dataSets    []*DataSet
	dataSetByID map[string]*DataSet

	annotations    []*Annotation
	annotationByID map[string]*Annotation

	// meta maps a target annotation id to the annotations selecting it.
	meta  map[string][]*Annotation
	bound map[*Data]*Annotation
}

// New creates an empty store. An empty id is replaced by a generated one.
func New(id string) *Store {
	if id == "" {
		id = NewID()
	}
	return &Store{
		id:             id,
		resourceByID:   make(map[string]*Resource),
		dataSetByID:    make(map[string]*DataSet),
		annotationByID: make(map[string]*Annotation),
		meta:           make(map[string][]*Annotation),
		bound:          make(map[*Data]*Annotation),
	}
}

// ID returns the store identifier.
func (s *Store) ID() string { return s.id }

// AddResource adds an inline text resource. Duplicate ids are rejected.
func (s *Store) AddResource(id, text string) (*Resource, error) {
	if err := s.checkResourceID(id); err != nil {
		return nil, err
	}
	r := newInlineResource(id, text)
	s.insertResource(r)
	return r, nil
}

// AddResourceFile adds a resource whose text is read lazily from include,
// resolved against baseDir when relative.
func (s *Store) AddResourceFile(id, include, baseDir string) (*Resource, error) {
	if err := s.checkResourceID(id); err != nil {
		return nil, err
	}
	if include == "" {
		return nil, errors.NewValidation("resource", "include path must not be empty")
	}
	r := newFileResource(id, include, baseDir)
	s.insertResource(r)
	return r, nil
}

func (s *Store) checkResourceID(id string) error {
	if id == "" {
		return errors.NewValidation("resource", "resource id must not be empty")
	}
	if _, ok := s.resourceByID[id]; ok {
		return errors.NewDuplicate("resource", id)
	}
	return nil
}

func (s *Store) insertResource(r *Resource) {
	s.resources = append(s.resources, r)
	s.resourceByID[r.id] = r
}

// AddDataSet creates a data set with a primary key. An empty id is generated.
func (s *Store) AddDataSet(id, key string) (*DataSet, error) {
	if key == "" {
		return nil, errors.NewValidation("dataset", "data set key must not be empty")
	}
	return s.addDataSet(id, []string{key})
}

func (s *Store) addDataSet(id string, keys []string) (*DataSet, error) {
	if id == "" {
		id = NewID()
	}
	if _, ok := s.dataSetByID[id]; ok {
		return nil, errors.NewDuplicate("dataset", id)
	}
	ds := newDataSet(id, keys...)
	s.dataSets = append(s.dataSets, ds)
	s.dataSetByID[id] = ds
	return ds, nil
}

// AddData attaches a (key, value) entry to a data set. An empty valueID is
// generated.
func (s *Store) AddData(setID, key string, value any, valueID string) (*Data, error) {
	ds, ok := s.dataSetByID[setID]
	if !ok {
		return nil, errors.NewNotFound("dataset", setID)
	}
	return addData(ds, key, value, valueID)
}

func addData(ds *DataSet, key string, value any, valueID string) (*Data, error) {
	if !ds.HasKey(key) {
		return nil, &errors.ValidationError{
			Field:   "key",
			Value:   key,
			Message: fmt.Sprintf("key %q is not declared by data set %s", key, ds.id),
		}
	}
	v, err := normalizeValue(value)
	if err != nil {
		return nil, err
	}
	if valueID == "" {
		valueID = NewID()
	}
	if _, ok := ds.dataByID[valueID]; ok {
		return nil, errors.NewDuplicate("data", valueID)
	}
	d := &Data{id: valueID, key: key, value: v, set: ds}
	ds.data = append(ds.data, d)
	ds.dataByID[valueID] = d
	return d, nil
}

// Annotate adds an annotation with the given target bound to existing data
// entries. An empty id is generated. Each data entry may back exactly one
// annotation.
func (s *Store) Annotate(id string, target Selector, refs ...DataRef) (*Annotation, error) {
	if id == "" {
		id = NewID()
	}
	if err := s.checkAnnotation(id, target); err != nil {
		return nil, err
	}
	data := make([]*Data, 0, len(refs))
	for _, ref := range refs {
		ds, ok := s.dataSetByID[ref.SetID]
		if !ok {
			return nil, errors.NewNotFound("dataset", ref.SetID)
		}
		d, ok := ds.dataByID[ref.DataID]
		if !ok {
			return nil, errors.NewNotFound("data", ref.SetID+"/"+ref.DataID)
		}
		if _, taken := s.bound[d]; taken || slices.Contains(data, d) {
			return nil, errors.NewDuplicate("data binding", ref.SetID+"/"+ref.DataID)
		}
		data = append(data, d)
	}
	return s.insertAnnotation(id, target, data), nil
}

// AnnotateWith creates a fresh data entry (key, value) in set setID and binds
// it to a new annotation.
func (s *Store) AnnotateWith(id string, target Selector, setID, key string, value any) (*Annotation, error) {
	if id == "" {
		id = NewID()
	}
	if err := s.checkAnnotation(id, target); err != nil {
		return nil, err
	}
	d, err := s.AddData(setID, key, value, "")
	if err != nil {
		return nil, err
	}
	return s.insertAnnotation(id, target, []*Data{d}), nil
}

func (s *Store) checkAnnotation(id string, target Selector) error {
	if _, ok := s.annotationByID[id]; ok {
		return &errors.DuplicateError{Kind: "annotation", ID: id, Err: ErrDuplicateAnnotationID}
	}
	switch target.Kind {
	case SelectText:
		r, ok := s.resourceByID[target.ResourceID]
		if !ok {
			return &errors.NotFoundError{Resource: "resource", ID: target.ResourceID, Err: ErrUnknownResource}
		}
		if err := target.Span.Validate(); err != nil {
			return err
		}
		n, err := r.Len()
		if err != nil {
			return err
		}
		if target.Span.End > n {
			return &errors.ValidationError{
				Field:   "span",
				Value:   target.Span.String(),
				Message: fmt.Sprintf("span exceeds resource %s of length %d", r.id, n),
			}
		}
	case SelectAnnotation:
		if _, ok := s.annotationByID[target.AnnotationID]; !ok {
			return &errors.NotFoundError{Resource: "annotation", ID: target.AnnotationID, Err: ErrUnknownAnnotation}
		}
	default:
		return errors.NewValidation("target", fmt.Sprintf("unknown selector kind %d", target.Kind))
	}
	return nil
}

func (s *Store) insertAnnotation(id string, target Selector, data []*Data) *Annotation {
	a := &Annotation{id: id, target: target, data: data, store: s}
	s.annotations = append(s.annotations, a)
	s.annotationByID[id] = a
	for _, d := range data {
		s.bound[d] = a
	}
	if target.Kind == SelectAnnotation {
		s.meta[target.AnnotationID] = append(s.meta[target.AnnotationID], a)
	}
	return a
}

// Annotation returns the annotation with the given id.
func (s *Store) Annotation(id string) (*Annotation, error) {
	a, ok := s.annotationByID[id]
	if !ok {
		return nil, errors.NewNotFound("annotation", id)
	}
	return a, nil
}

// Resource returns the resource with the given id.
func (s *Store) Resource(id string) (*Resource, error) {
	r, ok := s.resourceByID[id]
	if !ok {
		return nil, &errors.NotFoundError{Resource: "resource", ID: id, Err: ErrUnknownResource}
	}
	return r, nil
}

// DataSet returns the data set with the given id.
func (s *Store) DataSet(id string) (*DataSet, error) {
	ds, ok := s.dataSetByID[id]
	if !ok {
		return nil, errors.NewNotFound("dataset", id)
	}
	return ds, nil
}

// DataSetByKey returns the first data set whose primary key is key.
func (s *Store) DataSetByKey(key string) (*DataSet, bool) {
	for _, ds := range s.dataSets {
		if ds.PrimaryKey() == key {
			return ds, true
		}
	}
	return nil, false
}

// Annotations iterates all annotations in insertion order.
func (s *Store) Annotations() iter.Seq[*Annotation] {
	return func(yield func(*Annotation) bool) {
		for _, a := range s.annotations {
			if !yield(a) {
				return
			}
		}
	}
}

// Resources iterates all resources in insertion order.
func (s *Store) Resources() iter.Seq[*Resource] {
	return func(yield func(*Resource) bool) {
		for _, r := range s.resources {
			if !yield(r) {
				return
			}
		}
	}
}

// DataSets iterates all data sets in insertion order.
func (s *Store) DataSets() iter.Seq[*DataSet] {
	return func(yield func(*DataSet) bool) {
		for _, ds := range s.dataSets {
			if !yield(ds) {
				return
			}
		}
	}
}

// Len returns the number of annotations.
func (s *Store) Len() int { return len(s.annotations) }

// AnnotationsFiltered iterates annotations carrying data (key, value).
func (s *Store) AnnotationsFiltered(key string, value any) iter.Seq[*Annotation] {
	want, err := normalizeValue(value)
	return func(yield func(*Annotation) bool) {
		if err != nil {
			return
		}
		for _, a := range s.annotations {
			for _, d := range a.data {
				if d.key == key && d.value == want {
					if !yield(a) {
						return
					}
					break
				}
			}
		}
	}
}

// MetaAnnotations returns the annotations that target a.
func (s *Store) MetaAnnotations(a *Annotation) []*Annotation {
	metas := s.meta[a.id]
	out := make([]*Annotation, len(metas))
	copy(out, metas)
	return out
}

// Payloads collects the data of the meta-annotations targeting a. When a
// key repeats, the later meta-annotation wins.
func (s *Store) Payloads(a *Annotation) map[string]any {
	out := make(map[string]any)
	for _, m := range s.meta[a.id] {
		for _, d := range m.data {
			out[d.key] = d.value
		}
	}
	return out
}

// Group returns the annotation group key the annotation is classified under.
func (s *Store) Group(a *Annotation) (AnnotationGroup, bool) {
	for _, d := range a.data {
		if isGroupKey(d.key) {
			return AnnotationGroup(d.key), true
		}
	}
	return "", false
}

// Type returns the value bound under a known annotation group key, such as
// "Author" for a Structure Type annotation.
func (s *Store) Type(a *Annotation) (string, bool) {
	for _, d := range a.data {
		if isGroupKey(d.key) {
			return valueString(d.value), true
		}
	}
	return "", false
}

// Text returns the text covered by the annotation. Meta-annotations resolve
// to the text of the annotation they target.
func (s *Store) Text(a *Annotation) (string, error) {
	cur := a
	for cur.target.Kind == SelectAnnotation {
		next, ok := s.annotationByID[cur.target.AnnotationID]
		if !ok {
			return "", &errors.NotFoundError{Resource: "annotation", ID: cur.target.AnnotationID, Err: ErrUnknownAnnotation}
		}
		cur = next
	}
	r, ok := s.resourceByID[cur.target.ResourceID]
	if !ok {
		return "", &errors.NotFoundError{Resource: "resource", ID: cur.target.ResourceID, Err: ErrUnknownResource}
	}
	return r.Slice(cur.target.Span)
}
