package value

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DefaultTimeLayout renders timestamps as a 24-hour date-time
const DefaultTimeLayout = "2006/1/2 15:04:05"

// ListSeparator joins normalized list elements
const ListSeparator = ", "

var (
	listItemKeys   = []string{"name", "text", "address"}
	structuredKeys = []string{"name", "text", "address", "value"}
)

// Normalizer converts values into display strings
type Normalizer struct {
	location *time.Location
	layout   string
}

// Option configures a Normalizer
type Option func(*Normalizer)

// WithLocation sets the zone timestamps are rendered in
func WithLocation(loc *time.Location) Option {
	return func(n *Normalizer) {
		if loc != nil {
			n.location = loc
		}
	}
}

// WithLayout overrides the timestamp layout
func WithLayout(layout string) Option {
	return func(n *Normalizer) {
		if layout != "" {
			n.layout = layout
		}
	}
}

// NewNormalizer creates a normalizer rendering timestamps in local time
func NewNormalizer(opts ...Option) *Normalizer {
	n := &Normalizer{
		location: time.Local,
		layout:   DefaultTimeLayout,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// NormalizeRaw classifies and normalizes a raw host value
func (n *Normalizer) NormalizeRaw(raw any) string {
	return n.Normalize(FromRaw(raw))
}

// Normalize converts v to its display string. It never fails.
func (n *Normalizer) Normalize(v Value) string {
	switch v.kind {
	case KindNull:
		return ""
	case KindScalar:
		return v.text
	case KindTimestamp:
		return time.UnixMilli(v.millis).In(n.location).Format(n.layout)
	case KindList:
		parts := make([]string, 0, len(v.items))
		for _, item := range v.items {
			parts = append(parts, n.normalizeListItem(item))
		}
		return strings.Join(parts, ListSeparator)
	case KindStructured:
		return n.extract(v.fields, structuredKeys)
	}
	return ""
}

func (n *Normalizer) normalizeListItem(item Value) string {
	if item.kind == KindStructured {
		return n.extract(item.fields, listItemKeys)
	}
	return n.Normalize(item)
}

// extract returns the first non-empty field among keys, else a JSON dump
func (n *Normalizer) extract(fields map[string]any, keys []string) string {
	for _, key := range keys {
		raw, ok := fields[key]
		if !ok || raw == nil {
			continue
		}
		if s := n.fieldText(raw); s != "" {
			return s
		}
	}
	return dump(fields)
}

func (n *Normalizer) fieldText(raw any) string {
	if s, ok := raw.(string); ok {
		return s
	}
	return n.Normalize(FromRaw(raw))
}

func dump(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}
