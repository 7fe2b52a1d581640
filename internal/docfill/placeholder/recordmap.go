package placeholder

import (
	"bytes"
	"encoding/json"
)

// RecordMap maps field display names to normalized display strings.
// Iteration order is insertion order, which callers set to the host's field
// order so fuzzy resolution is deterministic.
type RecordMap struct {
	keys   []string
	values map[string]string

	// normalized keys, built lazily on the first fuzzy lookup
	folded []string
}

// NewRecordMap creates an empty record map
func NewRecordMap() *RecordMap {
	return &RecordMap{values: make(map[string]string)}
}

// RecordMapFrom builds a record map from alternating key/value pairs
func RecordMapFrom(pairs ...string) *RecordMap {
	m := NewRecordMap()
	for i := 0; i+1 < len(pairs); i += 2 {
		m.Set(pairs[i], pairs[i+1])
	}
	return m
}

// Set stores value under name. Re-setting an existing name keeps its position.
func (m *RecordMap) Set(name, value string) {
	if _, ok := m.values[name]; !ok {
		m.keys = append(m.keys, name)
		m.folded = nil
	}
	m.values[name] = value
}

// Get returns the value stored under the exact name
func (m *RecordMap) Get(name string) (string, bool) {
	v, ok := m.values[name]
	return v, ok
}

// Len returns the number of entries
func (m *RecordMap) Len() int {
	return len(m.keys)
}

// Keys returns the names in insertion order
func (m *RecordMap) Keys() []string {
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

func (m *RecordMap) foldedKeys() []string {
	if m.folded == nil {
		m.folded = make([]string, len(m.keys))
		for i, k := range m.keys {
			m.folded[i] = NormalizeKey(k)
		}
	}
	return m.folded
}

// MarshalJSON renders the map as a JSON object in insertion order
func (m *RecordMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range m.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(m.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Dump returns an indented JSON rendering for debug output
func (m *RecordMap) Dump() string {
	raw, err := m.MarshalJSON()
	if err != nil {
		return "{}"
	}
	var out bytes.Buffer
	if err := json.Indent(&out, raw, "", "  "); err != nil {
		return string(raw)
	}
	return out.String()
}
