package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store on a local SQLite database
type SQLiteStore struct {
	db *sql.DB

	mu      sync.Mutex
	entropy *rand.Rand
}

// NewSQLiteStore opens or creates a SQLite database at the given path
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	s := &SQLiteStore{
		db:      db,
		entropy: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) newToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tables (
		id   TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS fields (
		table_id TEXT NOT NULL REFERENCES tables(id),
		id       TEXT NOT NULL,
		name     TEXT NOT NULL,
		type     INTEGER NOT NULL,
		seq      INTEGER NOT NULL,
		PRIMARY KEY (table_id, id)
	);

	CREATE TABLE IF NOT EXISTS records (
		table_id TEXT NOT NULL REFERENCES tables(id),
		id       TEXT NOT NULL,
		PRIMARY KEY (table_id, id)
	);

	CREATE TABLE IF NOT EXISTS cells (
		table_id   TEXT NOT NULL,
		record_id  TEXT NOT NULL,
		field_id   TEXT NOT NULL,
		value      TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (table_id, record_id, field_id)
	);

	CREATE TABLE IF NOT EXISTS blobs (
		token      TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		mime       TEXT NOT NULL,
		size       INTEGER NOT NULL,
		data       BLOB NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS selection (
		id        INTEGER PRIMARY KEY CHECK (id = 1),
		table_id  TEXT NOT NULL DEFAULT '',
		record_id TEXT NOT NULL DEFAULT ''
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Import seeds the database from a fixture. Existing rows with the same ids
// are replaced.
func (s *SQLiteStore) Import(ctx context.Context, f *Fixture) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, t := range f.Tables {
		if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO tables (id, name) VALUES (?, ?)`, t.ID, t.Name); err != nil {
			return fmt.Errorf("insert table %s: %w", t.ID, err)
		}
		for i, field := range t.Fields {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR REPLACE INTO fields (table_id, id, name, type, seq) VALUES (?, ?, ?, ?, ?)`,
				t.ID, field.ID, field.Name, int(field.Type), i); err != nil {
				return fmt.Errorf("insert field %s: %w", field.ID, err)
			}
		}
		for _, r := range t.Records {
			if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO records (table_id, id) VALUES (?, ?)`, t.ID, r.ID); err != nil {
				return fmt.Errorf("insert record %s: %w", r.ID, err)
			}
			for fieldID, v := range r.Cells {
				data, err := json.Marshal(v)
				if err != nil {
					return fmt.Errorf("encode cell %s/%s: %w", r.ID, fieldID, err)
				}
				if _, err := tx.ExecContext(ctx,
					`INSERT OR REPLACE INTO cells (table_id, record_id, field_id, value, updated_at) VALUES (?, ?, ?, ?, ?)`,
					t.ID, r.ID, fieldID, string(data), now); err != nil {
					return fmt.Errorf("insert cell %s/%s: %w", r.ID, fieldID, err)
				}
			}
		}
	}
	if f.Selection.TableID != "" {
		if err := selectTx(ctx, tx, f.Selection); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Select changes the current selection
func (s *SQLiteStore) Select(ctx context.Context, tableID, recordID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()
	if err := selectTx(ctx, tx, Selection{TableID: tableID, RecordID: recordID}); err != nil {
		return err
	}
	return tx.Commit()
}

func selectTx(ctx context.Context, tx *sql.Tx, sel Selection) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO selection (id, table_id, record_id) VALUES (1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET table_id = excluded.table_id, record_id = excluded.record_id`,
		sel.TableID, sel.RecordID)
	if err != nil {
		return fmt.Errorf("update selection: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Selection(ctx context.Context) (Selection, error) {
	var sel Selection
	err := s.db.QueryRowContext(ctx, `SELECT table_id, record_id FROM selection WHERE id = 1`).
		Scan(&sel.TableID, &sel.RecordID)
	if errors.Is(err, sql.ErrNoRows) {
		return Selection{}, nil
	}
	if err != nil {
		return Selection{}, fmt.Errorf("read selection: %w", err)
	}
	return sel, nil
}

func (s *SQLiteStore) Fields(ctx context.Context, tableID string) ([]Field, error) {
	if err := s.tableExists(ctx, tableID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, type FROM fields WHERE table_id = ? ORDER BY seq`, tableID)
	if err != nil {
		return nil, fmt.Errorf("list fields: %w", err)
	}
	defer rows.Close()

	var fields []Field
	for rows.Next() {
		var f Field
		var typ int
		if err := rows.Scan(&f.ID, &f.Name, &typ); err != nil {
			return nil, fmt.Errorf("scan field: %w", err)
		}
		f.Type = FieldType(typ)
		fields = append(fields, f)
	}
	return fields, rows.Err()
}

func (s *SQLiteStore) FieldsByType(ctx context.Context, tableID string, fieldType FieldType) ([]Field, error) {
	fields, err := s.Fields(ctx, tableID)
	if err != nil {
		return nil, err
	}
	return filterFields(fields, fieldType), nil
}

func (s *SQLiteStore) CellValue(ctx context.Context, tableID, fieldID, recordID string) (any, error) {
	if err := s.cellExists(ctx, tableID, fieldID, recordID); err != nil {
		return nil, err
	}
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM cells WHERE table_id = ? AND record_id = ? AND field_id = ?`,
		tableID, recordID, fieldID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cell: %w", err)
	}
	return decodeJSON([]byte(raw))
}

func (s *SQLiteStore) SetCellValue(ctx context.Context, tableID, fieldID, recordID string, value any) error {
	if err := s.cellExists(ctx, tableID, fieldID, recordID); err != nil {
		return err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode cell value: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO cells (table_id, record_id, field_id, value, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(table_id, record_id, field_id) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		tableID, recordID, fieldID, string(data), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("write cell: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UploadBlob(ctx context.Context, files []Blob) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	tokens := make([]string, 0, len(files))
	for _, f := range files {
		token := s.newToken()
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO blobs (token, name, mime, size, data, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			token, f.Name, f.Type, len(f.Data), f.Data, now); err != nil {
			return nil, fmt.Errorf("store blob %s: %w", f.Name, err)
		}
		tokens = append(tokens, token)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return tokens, nil
}

// Blob returns an uploaded file by token
func (s *SQLiteStore) Blob(ctx context.Context, token string) (Blob, error) {
	var b Blob
	err := s.db.QueryRowContext(ctx, `SELECT name, mime, data FROM blobs WHERE token = ?`, token).
		Scan(&b.Name, &b.Type, &b.Data)
	if errors.Is(err, sql.ErrNoRows) {
		return Blob{}, fmt.Errorf("blob %s: %w", token, ErrNotFound)
	}
	if err != nil {
		return Blob{}, fmt.Errorf("read blob: %w", err)
	}
	return b, nil
}

func (s *SQLiteStore) tableExists(ctx context.Context, tableID string) error {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tables WHERE id = ?`, tableID).Scan(&n); err != nil {
		return fmt.Errorf("lookup table: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("table %s: %w", tableID, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) cellExists(ctx context.Context, tableID, fieldID, recordID string) error {
	if err := s.tableExists(ctx, tableID); err != nil {
		return err
	}
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM fields WHERE table_id = ? AND id = ?`, tableID, fieldID).Scan(&n); err != nil {
		return fmt.Errorf("lookup field: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("field %s: %w", fieldID, ErrNotFound)
	}
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM records WHERE table_id = ? AND id = ?`, tableID, recordID).Scan(&n); err != nil {
		return fmt.Errorf("lookup record: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("record %s: %w", recordID, ErrNotFound)
	}
	return nil
}

// decodeJSON decodes a cell value keeping numbers as json.Number so large
// integers survive exactly
func decodeJSON(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode cell value: %w", err)
	}
	return v, nil
}
