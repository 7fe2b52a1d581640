package store

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Fixture seeds a store with tables, records and the current selection
type Fixture struct {
	Selection Selection      `yaml:"selection"`
	Tables    []TableFixture `yaml:"tables"`
}

// TableFixture is one table of a fixture
type TableFixture struct {
	ID      string          `yaml:"id"`
	Name    string          `yaml:"name"`
	Fields  []Field         `yaml:"fields"`
	Records []RecordFixture `yaml:"records"`
}

// RecordFixture holds a record's cells keyed by field id
type RecordFixture struct {
	ID    string         `yaml:"id"`
	Cells map[string]any `yaml:"cells"`
}

// ParseFixture decodes a YAML fixture
func ParseFixture(data []byte) (*Fixture, error) {
	var f Fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture: %w", err)
	}
	if err := f.validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// LoadFixture reads a YAML fixture file
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}
	return ParseFixture(data)
}

func (f *Fixture) validate() error {
	tables := make(map[string]bool)
	for _, t := range f.Tables {
		if t.ID == "" {
			return fmt.Errorf("fixture: table without id")
		}
		if tables[t.ID] {
			return fmt.Errorf("fixture: duplicate table %s", t.ID)
		}
		tables[t.ID] = true

		fields := make(map[string]bool)
		for _, field := range t.Fields {
			if field.ID == "" {
				return fmt.Errorf("fixture: table %s has a field without id", t.ID)
			}
			fields[field.ID] = true
		}
		for _, r := range t.Records {
			if r.ID == "" {
				return fmt.Errorf("fixture: table %s has a record without id", t.ID)
			}
			for id := range r.Cells {
				if !fields[id] {
					return fmt.Errorf("fixture: record %s references unknown field %s", r.ID, id)
				}
			}
		}
	}
	if f.Selection.TableID != "" && !tables[f.Selection.TableID] {
		return fmt.Errorf("fixture: selection references unknown table %s", f.Selection.TableID)
	}
	return nil
}
