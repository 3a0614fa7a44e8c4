package stam

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/FocuswithJustin/PechaStam/core/errors"
)

// osRename is a variable to allow testing of rename errors.
var osRename = os.Rename

// tempFileWrite is a function variable for writing to temp files (for testing).
var tempFileWrite = func(f *os.File, data []byte) (int, error) {
	return f.Write(data)
}

// tempFileClose is a function variable for closing temp files (for testing).
var tempFileClose = func(f io.Closer) error {
	return f.Close()
}

// jsonMarshal is a variable to allow testing of marshal errors.
var jsonMarshal = func(v any) ([]byte, error) {
	return json.MarshalIndent(v, "", "  ")
}

// Wire type tags.
const (
	typeStore              = "AnnotationStore"
	typeTextResource       = "TextResource"
	typeDataSet            = "AnnotationDataSet"
	typeData               = "AnnotationData"
	typeAnnotation         = "Annotation"
	typeTextSelector       = "TextSelector"
	typeAnnotationSelector = "AnnotationSelector"
	storeFileExtension     = ".json"
)

type storeDoc struct {
	Type        string          `json:"@type"`
	ID          string          `json:"@id"`
	Resources   []resourceDoc   `json:"resources"`
	DataSets    []dataSetDoc    `json:"datasets"`
	Annotations []annotationDoc `json:"annotations"`
}

type resourceDoc struct {
	Type    string  `json:"@type"`
	ID      string  `json:"@id"`
	Include string  `json:"@include,omitempty"`
	Text    *string `json:"text,omitempty"`
}

type dataSetDoc struct {
	Type string    `json:"@type"`
	ID   string    `json:"@id"`
	Keys []string  `json:"keys"`
	Data []dataDoc `json:"data"`
}

type dataDoc struct {
	Type  string   `json:"@type"`
	ID    string   `json:"@id"`
	Key   string   `json:"key"`
	Value valueDoc `json:"value"`
}

type valueDoc struct {
	Type  string          `json:"@type"`
	Value json.RawMessage `json:"value,omitempty"`
}

type annotationDoc struct {
	Type   string       `json:"@type"`
	ID     string       `json:"@id"`
	Target selectorDoc  `json:"target"`
	Data   []dataRefDoc `json:"data"`
}

type selectorDoc struct {
	Type       string     `json:"@type"`
	Resource   string     `json:"resource,omitempty"`
	Offset     *offsetDoc `json:"offset,omitempty"`
	Annotation string     `json:"annotation,omitempty"`
}

type offsetDoc struct {
	Begin int `json:"begin"`
	End   int `json:"end"`
}

type dataRefDoc struct {
	Type string `json:"@type"`
	ID   string `json:"@id"`
	Set  string `json:"set"`
}

// Marshal renders the store document. Included resources located under
// baseDir are written relative to it; other includes keep their resolved path.
func Marshal(s *Store, baseDir string) ([]byte, error) {
	doc := storeDoc{
		Type:        typeStore,
		ID:          s.id,
		Resources:   make([]resourceDoc, 0, len(s.resources)),
		DataSets:    make([]dataSetDoc, 0, len(s.dataSets)),
		Annotations: make([]annotationDoc, 0, len(s.annotations)),
	}

	for _, r := range s.resources {
		rd := resourceDoc{Type: typeTextResource, ID: r.id}
		if r.inline {
			text := r.text
			rd.Text = &text
		} else {
			rd.Include = relocate(r.Path(), baseDir)
		}
		doc.Resources = append(doc.Resources, rd)
	}

	for _, ds := range s.dataSets {
		dd := dataSetDoc{Type: typeDataSet, ID: ds.id, Keys: ds.Keys(), Data: make([]dataDoc, 0, len(ds.data))}
		for _, d := range ds.data {
			vd := valueDoc{Type: valueTypeName(d.value)}
			if d.value != nil {
				raw, err := json.Marshal(d.value)
				if err != nil {
					return nil, errors.Wrapf(err, "marshal value of %s", d.id)
				}
				vd.Value = raw
			}
			dd.Data = append(dd.Data, dataDoc{Type: typeData, ID: d.id, Key: d.key, Value: vd})
		}
		doc.DataSets = append(doc.DataSets, dd)
	}

	for _, a := range s.annotations {
		ad := annotationDoc{Type: typeAnnotation, ID: a.id, Data: make([]dataRefDoc, 0, len(a.data))}
		switch a.target.Kind {
		case SelectText:
			ad.Target = selectorDoc{
				Type:     typeTextSelector,
				Resource: a.target.ResourceID,
				Offset:   &offsetDoc{Begin: a.target.Span.Start, End: a.target.Span.End},
			}
		case SelectAnnotation:
			ad.Target = selectorDoc{Type: typeAnnotationSelector, Annotation: a.target.AnnotationID}
		}
		for _, d := range a.data {
			ad.Data = append(ad.Data, dataRefDoc{Type: typeData, ID: d.id, Set: d.set.id})
		}
		doc.Annotations = append(doc.Annotations, ad)
	}

	data, err := jsonMarshal(doc)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal store")
	}
	return append(data, '\n'), nil
}

// relocate returns path relative to baseDir when it lies under baseDir.
func relocate(path, baseDir string) string {
	if baseDir == "" {
		return path
	}
	base := filepath.Clean(baseDir)
	clean := filepath.Clean(path)
	if clean != base && !strings.HasPrefix(clean, base+string(filepath.Separator)) {
		return path
	}
	rel, err := filepath.Rel(base, clean)
	if err != nil {
		return path
	}
	return filepath.ToSlash(rel)
}

// Save writes the store to outputPath atomically. outputPath must end in
// ".json".
func Save(s *Store, outputPath, baseDir string) error {
	if !strings.EqualFold(filepath.Ext(outputPath), storeFileExtension) {
		return &errors.InvalidOutputPathError{Path: outputPath, Want: storeFileExtension}
	}
	data, err := Marshal(s, baseDir)
	if err != nil {
		return err
	}

	dir := filepath.Dir(outputPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.NewIO("create directory", dir, err)
	}

	tempFile, err := os.CreateTemp(dir, ".store-*")
	if err != nil {
		return errors.NewIO("create temp file", dir, err)
	}
	tempPath := tempFile.Name()

	if _, err := tempFileWrite(tempFile, data); err != nil {
		tempFileClose(tempFile)
		os.Remove(tempPath)
		return errors.NewIO("write", outputPath, err)
	}
	if err := tempFileClose(tempFile); err != nil {
		os.Remove(tempPath)
		return errors.NewIO("close", outputPath, err)
	}
	if err := osRename(tempPath, outputPath); err != nil {
		os.Remove(tempPath)
		return errors.NewIO("rename", outputPath, err)
	}
	return nil
}

// Load reads a store document. Relative includes are resolved against
// baseDir, or against the directory holding the file when baseDir is empty.
func Load(path, baseDir string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewIO("read", path, err)
	}
	if baseDir == "" {
		baseDir = filepath.Dir(path)
	}
	s, err := Unmarshal(data, baseDir)
	if err != nil {
		var pe *errors.ParseError
		if errors.As(err, &pe) && pe.Path == "" {
			pe.Path = path
		}
		return nil, err
	}
	return s, nil
}

// Unmarshal builds a store from its document, resolving relative includes
// against baseDir. References are validated; span bounds are checked lazily
// when text is read.
func Unmarshal(data []byte, baseDir string) (*Store, error) {
	var doc storeDoc
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&doc); err != nil {
		return nil, &errors.ParseError{Format: "JSON", Message: err.Error(), Err: err}
	}
	if doc.Type != "" && doc.Type != typeStore {
		return nil, errors.NewParse("JSON", "", "unexpected @type "+doc.Type)
	}

	s := New(doc.ID)
	for _, rd := range doc.Resources {
		var err error
		if rd.Text != nil {
			_, err = s.AddResource(rd.ID, *rd.Text)
		} else {
			_, err = s.AddResourceFile(rd.ID, filepath.FromSlash(rd.Include), baseDir)
		}
		if err != nil {
			return nil, err
		}
	}

	for _, dd := range doc.DataSets {
		if len(dd.Keys) == 0 {
			return nil, errors.NewValidation("dataset", "data set "+dd.ID+" declares no keys")
		}
		ds, err := s.addDataSet(dd.ID, dd.Keys)
		if err != nil {
			return nil, err
		}
		for _, d := range dd.Data {
			v, err := decodeValue(d.Value)
			if err != nil {
				return nil, errors.Wrapf(err, "data %s", d.ID)
			}
			ds.AddKey(d.Key)
			if _, err := addData(ds, d.Key, v, d.ID); err != nil {
				return nil, err
			}
		}
	}

	for _, ad := range doc.Annotations {
		var target Selector
		switch ad.Target.Type {
		case typeTextSelector:
			if ad.Target.Offset == nil {
				return nil, errors.NewParse("JSON", "", "text selector of "+ad.ID+" has no offset")
			}
			target = TextTarget(ad.Target.Resource, Span{Start: ad.Target.Offset.Begin, End: ad.Target.Offset.End})
			if _, ok := s.resourceByID[target.ResourceID]; !ok {
				return nil, &errors.NotFoundError{Resource: "resource", ID: target.ResourceID, Err: ErrUnknownResource}
			}
			if err := target.Span.Validate(); err != nil {
				return nil, err
			}
		case typeAnnotationSelector:
			target = AnnotationTarget(ad.Target.Annotation)
			if _, ok := s.annotationByID[target.AnnotationID]; !ok {
				return nil, &errors.NotFoundError{Resource: "annotation", ID: target.AnnotationID, Err: ErrUnknownAnnotation}
			}
		default:
			return nil, errors.NewParse("JSON", "", "unsupported selector "+ad.Target.Type)
		}
		if ad.ID == "" {
			ad.ID = NewID()
		}
		if _, ok := s.annotationByID[ad.ID]; ok {
			return nil, &errors.DuplicateError{Kind: "annotation", ID: ad.ID, Err: ErrDuplicateAnnotationID}
		}

		bound := make([]*Data, 0, len(ad.Data))
		for _, ref := range ad.Data {
			ds, ok := s.dataSetByID[ref.Set]
			if !ok {
				return nil, errors.NewNotFound("dataset", ref.Set)
			}
			d, ok := ds.dataByID[ref.ID]
			if !ok {
				return nil, errors.NewNotFound("data", ref.Set+"/"+ref.ID)
			}
			if _, taken := s.bound[d]; taken {
				return nil, errors.NewDuplicate("data binding", ref.Set+"/"+ref.ID)
			}
			bound = append(bound, d)
		}
		s.insertAnnotation(ad.ID, target, bound)
	}
	return s, nil
}

func decodeValue(v valueDoc) (any, error) {
	if len(v.Value) == 0 || string(v.Value) == "null" {
		return nil, nil
	}
	switch v.Type {
	case "Int":
		var n int64
		if err := json.Unmarshal(v.Value, &n); err != nil {
			return nil, &errors.ParseError{Format: "JSON", Message: err.Error(), Err: err}
		}
		return n, nil
	case "Float":
		var f float64
		if err := json.Unmarshal(v.Value, &f); err != nil {
			return nil, &errors.ParseError{Format: "JSON", Message: err.Error(), Err: err}
		}
		return f, nil
	case "Bool":
		var b bool
		if err := json.Unmarshal(v.Value, &b); err != nil {
			return nil, &errors.ParseError{Format: "JSON", Message: err.Error(), Err: err}
		}
		return b, nil
	case "String", "":
		var str string
		if err := json.Unmarshal(v.Value, &str); err != nil {
			return nil, &errors.ParseError{Format: "JSON", Message: err.Error(), Err: err}
		}
		return str, nil
	default:
		return nil, errors.NewParse("JSON", "", "unsupported value type "+v.Type)
	}
}
