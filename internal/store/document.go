package store

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Document is one JSON-like record. Numbers are float64 once normalized.
type Document map[string]any

// ID returns the document id, empty if absent.
func (d Document) ID() string {
	id, _ := d["id"].(string)
	return id
}

// Lookup resolves a dotted path through nested objects.
func (d Document) Lookup(path string) (any, bool) {
	var cur any = map[string]any(d)
	for _, part := range strings.Split(path, ".") {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Int reads an integral field, returning false when absent or non-numeric.
func (d Document) Int(field string) (int64, bool) {
	v, ok := d.Lookup(field)
	if !ok {
		return 0, false
	}
	f, ok := toFloat(v)
	return int64(f), ok
}

// Clone deep-copies the document through its JSON form.
func (d Document) Clone() Document {
	out, err := Normalize(d)
	if err != nil {
		// documents in the store are always JSON-safe
		panic(fmt.Sprintf("store: clone: %v", err))
	}
	return out
}

// Merge returns a copy of d with the patch fields set.
func (d Document) Merge(patch Document) Document {
	out := d.Clone()
	for k, v := range patch {
		out[k] = v
	}
	return out
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Document:
		return m, true
	}
	return nil, false
}

// Normalize round-trips doc through JSON so every backend sees identical
// value types.
func Normalize(doc Document) (Document, error) {
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var out Document
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Encode converts a domain value into a Document. Pointer fields tagged
// omitempty vanish when nil, so a request DTO encodes to a partial patch.
func Encode(v any) (Document, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var doc Document
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// Decode fills v from doc.
func Decode(doc Document, v any) error {
	b, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

// DecodeAll decodes every document into a fresh slice of T.
func DecodeAll[T any](docs []Document) ([]T, error) {
	out := make([]T, 0, len(docs))
	for _, doc := range docs {
		var v T
		if err := Decode(doc, &v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", doc.ID(), err)
		}
		out = append(out, v)
	}
	return out, nil
}
