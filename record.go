package shardkit

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"
)

// Record is a dynamically typed entity. It is the unit every bundled backend
// persists: scalar fields plus links to other records by key.
type Record struct {
	Type   string                 `json:"type"`
	ID     ID                     `json:"id"`
	Fields map[string]interface{} `json:"fields,omitempty"`
	Links  map[string][]Key       `json:"links,omitempty"`

	// Refs holds in-memory related records that have not necessarily been
	// persisted yet. Saving a record turns its refs into links.
	Refs map[string][]*Record `json:"-"`

	// Many lists the properties of Links/Refs that are collection valued.
	Many map[string]bool `json:"many,omitempty"`
}

// NewRecord returns an unsaved record of the given type.
func NewRecord(typ string, fields map[string]interface{}) *Record {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	return &Record{Type: typ, Fields: fields}
}

func (r *Record) EntityType() string { return r.Type }
func (r *Record) EntityID() ID       { return r.ID }
func (r *Record) SetEntityID(id ID)  { r.ID = id }
func (r *Record) Key() Key           { return Key{Type: r.Type, ID: r.ID} }

// Set assigns a scalar field.
func (r *Record) Set(k string, v interface{}) { r.Fields[k] = v }

// Refer adds a single-valued association to another record.
func (r *Record) Refer(property string, other *Record) {
	if r.Refs == nil {
		r.Refs = make(map[string][]*Record)
	}
	r.Refs[property] = []*Record{other}
}

// Append adds other to the collection-valued association property.
func (r *Record) Append(property string, other *Record) {
	if r.Refs == nil {
		r.Refs = make(map[string][]*Record)
	}
	if r.Many == nil {
		r.Many = make(map[string]bool)
	}
	r.Many[property] = true
	r.Refs[property] = append(r.Refs[property], other)
}

// Value returns the field at path. A path names a field, "id", or descends
// into nested maps with dots ("address.city").
func (r *Record) Value(path string) (interface{}, bool) {
	if path == "id" {
		return uint64(r.ID), true
	}
	if v, ok := r.Fields[path]; ok {
		return v, true
	}

	parts := strings.Split(path, ".")
	var cur interface{} = r.Fields
	for _, p := range parts {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		if cur, ok = m[p]; !ok {
			return nil, false
		}
	}
	return cur, true
}

// Associations returns the associations of the record, single valued
// properties first, in property name order. In-memory refs take precedence
// over persisted links; a link is exposed as a stub record carrying its key.
func (r *Record) Associations() []Association {
	props := make([]string, 0, len(r.Refs)+len(r.Links))
	for p := range r.Refs {
		props = append(props, p)
	}
	for p := range r.Links {
		if _, ok := r.Refs[p]; !ok {
			props = append(props, p)
		}
	}
	sort.Slice(props, func(i, j int) bool {
		if r.Many[props[i]] != r.Many[props[j]] {
			return !r.Many[props[i]]
		}
		return props[i] < props[j]
	})

	out := make([]Association, 0, len(props))
	for _, p := range props {
		a := Association{Property: p, Collection: r.Many[p]}
		if refs, ok := r.Refs[p]; ok {
			for _, t := range refs {
				if t != nil {
					a.Targets = append(a.Targets, t)
				}
			}
		} else {
			for _, k := range r.Links[p] {
				a.Targets = append(a.Targets, &Record{Type: k.Type, ID: k.ID})
			}
		}
		out = append(out, a)
	}
	return out
}

// SyncLinks rewrites Links from the ids currently held by Refs. Unsaved refs
// are skipped.
func (r *Record) SyncLinks() {
	for p, refs := range r.Refs {
		keys := make([]Key, 0, len(refs))
		for _, t := range refs {
			if t != nil && t.ID.Valid() {
				keys = append(keys, t.Key())
			}
		}
		if r.Links == nil {
			r.Links = make(map[string][]Key)
		}
		r.Links[p] = keys
	}
}

// Clone returns a deep copy of the persisted state of r. Refs are not copied.
func (r *Record) Clone() *Record {
	other := &Record{
		Type:   r.Type,
		ID:     r.ID,
		Fields: cloneMap(r.Fields),
	}
	if r.Links != nil {
		other.Links = make(map[string][]Key, len(r.Links))
		for p, keys := range r.Links {
			other.Links[p] = append([]Key(nil), keys...)
		}
	}
	if r.Many != nil {
		other.Many = make(map[string]bool, len(r.Many))
		for p, v := range r.Many {
			other.Many[p] = v
		}
	}
	return other
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		if nested, ok := v.(map[string]interface{}); ok {
			v = cloneMap(nested)
		}
		out[k] = v
	}
	return out
}

// MarshalRecord encodes the persisted state of r.
func MarshalRecord(r *Record) ([]byte, error) {
	return json.Marshal(r)
}

// UnmarshalRecord decodes a record, keeping integral JSON numbers as int64.
func UnmarshalRecord(b []byte) (*Record, error) {
	var r Record
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&r); err != nil {
		return nil, err
	}
	r.Fields = normalizeNumbers(r.Fields)
	return &r, nil
}

func normalizeNumbers(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return make(map[string]interface{})
	}
	for k, v := range m {
		m[k] = normalizeValue(v)
	}
	return m
}

func normalizeValue(v interface{}) interface{} {
	switch v := v.(type) {
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i
		}
		f, _ := v.Float64()
		return f
	case map[string]interface{}:
		return normalizeNumbers(v)
	case []interface{}:
		for i := range v {
			v[i] = normalizeValue(v[i])
		}
		return v
	default:
		return v
	}
}
