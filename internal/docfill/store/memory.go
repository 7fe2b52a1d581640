package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/oklog/ulid/v2"
)

type memTable struct {
	fields  []Field
	records map[string]map[string]any
}

// MemoryStore is an in-memory Store. Written cell values are stored as their
// JSON form, the way a remote host hands them back.
type MemoryStore struct {
	mu        sync.RWMutex
	selection Selection
	tables    map[string]*memTable
	blobs     map[string]Blob

	dropWrites bool
	uploadErr  error
	noTokens   bool
}

// NewMemoryStore creates a store seeded from fixture, which may be nil
func NewMemoryStore(fixture *Fixture) *MemoryStore {
	s := &MemoryStore{
		tables: make(map[string]*memTable),
		blobs:  make(map[string]Blob),
	}
	if fixture == nil {
		return s
	}
	s.selection = fixture.Selection
	for _, t := range fixture.Tables {
		mt := &memTable{
			fields:  append([]Field(nil), t.Fields...),
			records: make(map[string]map[string]any),
		}
		for _, r := range t.Records {
			cells := make(map[string]any, len(r.Cells))
			for k, v := range r.Cells {
				cells[k] = v
			}
			mt.records[r.ID] = cells
		}
		s.tables[t.ID] = mt
	}
	return s
}

// DropWrites makes SetCellValue succeed without storing anything
func (s *MemoryStore) DropWrites(drop bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropWrites = drop
}

// FailUploads makes UploadBlob return err; nil restores normal uploads
func (s *MemoryStore) FailUploads(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploadErr = err
}

// WithholdTokens makes UploadBlob succeed but return no tokens
func (s *MemoryStore) WithholdTokens(withhold bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.noTokens = withhold
}

// Select changes the current selection
func (s *MemoryStore) Select(tableID, recordID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selection = Selection{TableID: tableID, RecordID: recordID}
}

// Blob returns an uploaded file by token
func (s *MemoryStore) Blob(token string) (Blob, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blobs[token]
	return b, ok
}

func (s *MemoryStore) Selection(ctx context.Context) (Selection, error) {
	if err := ctx.Err(); err != nil {
		return Selection{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selection, nil
}

func (s *MemoryStore) Fields(ctx context.Context, tableID string) ([]Field, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tables[tableID]
	if !ok {
		return nil, fmt.Errorf("table %s: %w", tableID, ErrNotFound)
	}
	return append([]Field(nil), t.fields...), nil
}

func (s *MemoryStore) FieldsByType(ctx context.Context, tableID string, fieldType FieldType) ([]Field, error) {
	fields, err := s.Fields(ctx, tableID)
	if err != nil {
		return nil, err
	}
	return filterFields(fields, fieldType), nil
}

func (s *MemoryStore) CellValue(ctx context.Context, tableID, fieldID, recordID string) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	cells, err := s.cells(tableID, fieldID, recordID)
	if err != nil {
		return nil, err
	}
	return cells[fieldID], nil
}

func (s *MemoryStore) SetCellValue(ctx context.Context, tableID, fieldID, recordID string, value any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	stored, err := jsonCopy(value)
	if err != nil {
		return fmt.Errorf("encode cell value: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	cells, err := s.cells(tableID, fieldID, recordID)
	if err != nil {
		return err
	}
	if s.dropWrites {
		return nil
	}
	cells[fieldID] = stored
	return nil
}

func (s *MemoryStore) UploadBlob(ctx context.Context, files []Blob) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.uploadErr != nil {
		return nil, s.uploadErr
	}
	if s.noTokens {
		return nil, nil
	}
	tokens := make([]string, 0, len(files))
	for _, f := range files {
		token := ulid.Make().String()
		s.blobs[token] = Blob{Name: f.Name, Type: f.Type, Data: append([]byte(nil), f.Data...)}
		tokens = append(tokens, token)
	}
	return tokens, nil
}

// cells returns the cell map of a record after checking the table, field
// and record exist. Callers hold the lock.
func (s *MemoryStore) cells(tableID, fieldID, recordID string) (map[string]any, error) {
	t, ok := s.tables[tableID]
	if !ok {
		return nil, fmt.Errorf("table %s: %w", tableID, ErrNotFound)
	}
	known := false
	for _, f := range t.fields {
		if f.ID == fieldID {
			known = true
			break
		}
	}
	if !known {
		return nil, fmt.Errorf("field %s: %w", fieldID, ErrNotFound)
	}
	cells, ok := t.records[recordID]
	if !ok {
		return nil, fmt.Errorf("record %s: %w", recordID, ErrNotFound)
	}
	return cells, nil
}

func jsonCopy(value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return decodeJSON(data)
}
