// Package opf reads legacy per-type annotation layers and converts
// OpenPecha-Data pecha trees into annotation stores.
//
// A layer file describes one annotation type for one volume:
//
//	id: 2f1f8d0c
//	annotation_type: Author
//	revision: "00001"
//	annotations:
//	  a1:
//	    span: {start: 19, end: 83}
//	    imgnum: 3
//
// Older files use rev, content, start_char and end_char, or list the
// annotations as a sequence; ParseLayer normalises all of these.
package opf

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/FocuswithJustin/PechaStam/core/errors"
	"github.com/FocuswithJustin/PechaStam/core/stam"
)

// NullValue replaces empty payload values.
const NullValue = "null"

// timestampLayout is used for YAML timestamps in converted documents.
const timestampLayout = "2006-01-02 15:04:05"

// Layer is one per-type annotation definition.
type Layer struct {
	ID             string
	AnnotationType stam.AnnotationType
	Revision       string
	Annotations    []LayerAnnotation
}

// LayerAnnotation is a span with its payload fields in file order.
type LayerAnnotation struct {
	ID       string
	Span     stam.Span
	Payloads []Payload
}

// Payload is an extra field carried by a layer annotation.
type Payload struct {
	Key   string
	Value any
}

// LoadLayer reads and parses a layer file (YAML or JSON).
func LoadLayer(path string) (*Layer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewIO("read layer", path, err)
	}
	layer, err := ParseLayer(data)
	if err != nil {
		var pe *errors.ParseError
		if errors.As(err, &pe) && pe.Path == "" {
			pe.Path = path
		}
		return nil, err
	}
	return layer, nil
}

// ParseLayer parses a layer document. JSON input is accepted as YAML.
func ParseLayer(data []byte) (*Layer, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &errors.ParseError{Format: "YAML", Message: err.Error(), Err: err}
	}
	root := resolve(&doc)
	if root == nil || root.Kind != yaml.MappingNode {
		return nil, errors.NewParse("YAML", "", "layer must be a mapping")
	}

	layer := &Layer{}
	fields := mappingFields(root)

	if n, ok := fields["id"]; ok {
		layer.ID = scalarString(n)
	}
	if layer.ID == "" {
		layer.ID = stam.NewID()
	}

	typeNode, ok := fields["annotation_type"]
	if !ok {
		return nil, errors.NewValidation("annotation_type", "layer has no annotation_type")
	}
	typ, err := stam.ParseAnnotationType(scalarString(typeNode))
	if err != nil {
		return nil, err
	}
	layer.AnnotationType = typ

	if n, ok := firstField(fields, "revision", "rev"); ok {
		layer.Revision = scalarString(n)
	}

	annotations, ok := firstField(fields, "annotations", "content")
	if !ok || annotations.Kind == yaml.ScalarNode {
		return layer, nil
	}

	switch annotations.Kind {
	case yaml.MappingNode:
		for i := 0; i+1 < len(annotations.Content); i += 2 {
			id := annotations.Content[i].Value
			a, err := parseAnnotation(id, resolve(annotations.Content[i+1]), false)
			if err != nil {
				return nil, err
			}
			layer.Annotations = append(layer.Annotations, a)
		}
	case yaml.SequenceNode:
		single := len(annotations.Content) == 1
		for _, item := range annotations.Content {
			item = resolve(item)
			id := ""
			if !single {
				if n, ok := mappingFields(item)["id"]; ok {
					id = scalarString(n)
				}
			}
			a, err := parseAnnotation(id, item, true)
			if err != nil {
				return nil, err
			}
			layer.Annotations = append(layer.Annotations, a)
		}
	default:
		return nil, errors.NewParse("YAML", "", "annotations must be a mapping or a list")
	}
	return layer, nil
}

func parseAnnotation(id string, n *yaml.Node, listItem bool) (LayerAnnotation, error) {
	if id == "" {
		id = stam.NewID()
	}
	a := LayerAnnotation{ID: id}
	if n == nil || n.Kind != yaml.MappingNode {
		return a, errors.NewParse("YAML", "", fmt.Sprintf("annotation %s must be a mapping", id))
	}

	hasSpan := false
	for i := 0; i+1 < len(n.Content); i += 2 {
		key := n.Content[i].Value
		val := resolve(n.Content[i+1])
		switch {
		case key == "span":
			span, err := parseSpan(id, val)
			if err != nil {
				return a, err
			}
			a.Span, hasSpan = span, true
		case key == "id" && listItem:
		default:
			v, err := payloadValue(val)
			if err != nil {
				return a, errors.Wrapf(err, "annotation %s field %s", id, key)
			}
			a.Payloads = append(a.Payloads, Payload{Key: key, Value: v})
		}
	}
	if !hasSpan {
		return a, errors.NewValidation("span", fmt.Sprintf("annotation %s has no span", id))
	}
	return a, nil
}

func parseSpan(id string, n *yaml.Node) (stam.Span, error) {
	if n == nil || n.Kind != yaml.MappingNode {
		return stam.Span{}, errors.NewValidation("span", fmt.Sprintf("annotation %s span must be a mapping", id))
	}
	fields := mappingFields(n)
	start, okStart := firstField(fields, "start", "start_char")
	end, okEnd := firstField(fields, "end", "end_char")
	if !okStart || !okEnd {
		return stam.Span{}, errors.NewValidation("span", fmt.Sprintf("annotation %s span needs start and end", id))
	}
	s, err := strconv.Atoi(start.Value)
	if err != nil {
		return stam.Span{}, errors.NewValidation("span", fmt.Sprintf("annotation %s start %q is not an integer", id, start.Value))
	}
	e, err := strconv.Atoi(end.Value)
	if err != nil {
		return stam.Span{}, errors.NewValidation("span", fmt.Sprintf("annotation %s end %q is not an integer", id, end.Value))
	}
	return stam.NewSpan(s, e)
}

// payloadValue converts a node into a store value. Null and empty mappings
// become NullValue; nested structures are kept as compact JSON text.
func payloadValue(n *yaml.Node) (any, error) {
	switch n.Kind {
	case yaml.MappingNode:
		if len(n.Content) == 0 {
			return NullValue, nil
		}
		return compactJSON(n)
	case yaml.SequenceNode:
		return compactJSON(n)
	}
	v, err := scalarValue(n)
	if err != nil {
		return nil, err
	}
	switch x := v.(type) {
	case nil:
		return NullValue, nil
	case int:
		return int64(x), nil
	case string, int64, float64, bool:
		return x, nil
	default:
		return fmt.Sprint(x), nil
	}
}

func compactJSON(n *yaml.Node) (string, error) {
	var buf bytes.Buffer
	if err := writeJSON(&buf, n, -1); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// scalarValue decodes a scalar with YAML typing. Timestamps become strings.
func scalarValue(n *yaml.Node) (any, error) {
	var v any
	if err := n.Decode(&v); err != nil {
		return nil, &errors.ParseError{Format: "YAML", Message: err.Error(), Err: err}
	}
	if t, ok := v.(time.Time); ok {
		return t.Format(timestampLayout), nil
	}
	return v, nil
}

func scalarString(n *yaml.Node) string {
	if n == nil || n.Kind != yaml.ScalarNode || n.Tag == "!!null" {
		return ""
	}
	return n.Value
}

// resolve unwraps document and alias nodes.
func resolve(n *yaml.Node) *yaml.Node {
	for n != nil {
		switch n.Kind {
		case yaml.DocumentNode:
			if len(n.Content) == 0 {
				return nil
			}
			n = n.Content[0]
		case yaml.AliasNode:
			n = n.Alias
		default:
			return n
		}
	}
	return nil
}

func mappingFields(n *yaml.Node) map[string]*yaml.Node {
	out := make(map[string]*yaml.Node)
	if n == nil || n.Kind != yaml.MappingNode {
		return out
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		out[n.Content[i].Value] = resolve(n.Content[i+1])
	}
	return out
}

// firstField returns the first present field, trying names in order.
func firstField(fields map[string]*yaml.Node, names ...string) (*yaml.Node, bool) {
	for _, name := range names {
		if n, ok := fields[name]; ok && n != nil {
			return n, true
		}
	}
	return nil, false
}

// YAMLToJSON converts a YAML document to indented JSON, keeping mapping
// key order.
func YAMLToJSON(data []byte) ([]byte, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &errors.ParseError{Format: "YAML", Message: err.Error(), Err: err}
	}
	var buf bytes.Buffer
	if err := writeJSON(&buf, resolve(&doc), 0); err != nil {
		return nil, err
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// writeJSON encodes n. depth < 0 selects compact output; otherwise four
// space indentation starting at depth.
func writeJSON(buf *bytes.Buffer, n *yaml.Node, depth int) error {
	n = resolve(n)
	if n == nil {
		buf.WriteString("null")
		return nil
	}

	newline := func(d int) {
		if depth < 0 {
			return
		}
		buf.WriteByte('\n')
		for i := 0; i < d; i++ {
			buf.WriteString("    ")
		}
	}
	child := depth + 1
	if depth < 0 {
		child = -1
	}
	sep := ": "
	if depth < 0 {
		sep = ":"
	}

	switch n.Kind {
	case yaml.MappingNode:
		if len(n.Content) == 0 {
			buf.WriteString("{}")
			return nil
		}
		buf.WriteByte('{')
		for i := 0; i+1 < len(n.Content); i += 2 {
			if i > 0 {
				buf.WriteByte(',')
			}
			newline(depth + 1)
			if err := encodeScalar(buf, n.Content[i].Value); err != nil {
				return err
			}
			buf.WriteString(sep)
			if err := writeJSON(buf, n.Content[i+1], child); err != nil {
				return err
			}
		}
		newline(depth)
		buf.WriteByte('}')
	case yaml.SequenceNode:
		if len(n.Content) == 0 {
			buf.WriteString("[]")
			return nil
		}
		buf.WriteByte('[')
		for i, item := range n.Content {
			if i > 0 {
				buf.WriteByte(',')
			}
			newline(depth + 1)
			if err := writeJSON(buf, item, child); err != nil {
				return err
			}
		}
		newline(depth)
		buf.WriteByte(']')
	default:
		v, err := scalarValue(n)
		if err != nil {
			return err
		}
		if err := encodeScalar(buf, v); err != nil {
			// NaN and infinities have no JSON form
			return encodeScalar(buf, n.Value)
		}
	}
	return nil
}

func encodeScalar(buf *bytes.Buffer, v any) error {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return err
	}
	buf.Write(bytes.TrimRight(tmp.Bytes(), "\n"))
	return nil
}
