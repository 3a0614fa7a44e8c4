package alignment

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/FocuswithJustin/PechaStam/core/errors"
)

// document is the decoded alignment file with declared order preserved.
type document struct {
	sources []SourceEntry
	pairs   []Pair
}

// decodeDocument reads segment_sources and segment_pairs keeping the key
// order of the file. Unknown top-level fields are ignored.
func decodeDocument(data []byte) (*document, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	doc := &document{}
	err := decodeObject(dec, func(key string) error {
		switch key {
		case "segment_sources":
			return decodeObject(dec, func(id string) error {
				var src SegmentSource
				if err := dec.Decode(&src); err != nil {
					return syntaxError(err)
				}
				for _, s := range doc.sources {
					if s.ID == id {
						return errors.NewDuplicate("segment source", id)
					}
				}
				doc.sources = append(doc.sources, SourceEntry{ID: id, Source: src})
				return nil
			})
		case "segment_pairs":
			seen := make(map[string]bool)
			return decodeObject(dec, func(pairID string) error {
				if seen[pairID] {
					return errors.NewDuplicate("segment pair", pairID)
				}
				seen[pairID] = true
				pair := Pair{ID: pairID}
				err := decodeObject(dec, func(sourceID string) error {
					var ann string
					if err := dec.Decode(&ann); err != nil {
						return syntaxError(err)
					}
					if _, ok := pair.Annotation(sourceID); ok {
						return errors.NewDuplicate("pair entry", pairID+"/"+sourceID)
					}
					pair.Entries = append(pair.Entries, PairEntry{SourceID: sourceID, AnnotationID: ann})
					return nil
				})
				if err != nil {
					return err
				}
				doc.pairs = append(doc.pairs, pair)
				return nil
			})
		default:
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return syntaxError(err)
			}
			return nil
		}
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// decodeObject consumes one JSON object, calling field for every key with
// the decoder positioned at the value.
func decodeObject(dec *json.Decoder, field func(key string) error) error {
	tok, err := dec.Token()
	if err != nil {
		return syntaxError(err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return errors.NewParse("JSON", "", fmt.Sprintf("expected object, found %v", tok))
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return syntaxError(err)
		}
		key, ok := tok.(string)
		if !ok {
			return errors.NewParse("JSON", "", fmt.Sprintf("expected object key, found %v", tok))
		}
		if err := field(key); err != nil {
			return err
		}
	}
	if _, err := dec.Token(); err != nil {
		return syntaxError(err)
	}
	return nil
}

func syntaxError(err error) error {
	if err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return &errors.ParseError{Format: "JSON", Message: err.Error(), Err: err}
}
