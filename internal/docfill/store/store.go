// Package store defines the host data store the generator reads records from
// and writes attachments back to, with in-memory and SQLite implementations.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned for unknown tables, fields and records
var ErrNotFound = errors.New("not found")

// FieldType is the host's numeric field type code
type FieldType int

const (
	FieldTypeText         FieldType = 1
	FieldTypeNumber       FieldType = 2
	FieldTypeSingleSelect FieldType = 3
	FieldTypeMultiSelect  FieldType = 4
	FieldTypeDateTime     FieldType = 5
	FieldTypeCheckbox     FieldType = 7
	FieldTypeUser         FieldType = 11
	FieldTypePhone        FieldType = 13
	FieldTypeURL          FieldType = 15
	FieldTypeAttachment   FieldType = 17
	FieldTypeLink         FieldType = 18
	FieldTypeLocation     FieldType = 22
)

// PDFMimeType is the MIME type of generated attachments
const PDFMimeType = "application/pdf"

// Selection is the table and record currently selected in the host
type Selection struct {
	TableID  string `json:"tableId,omitempty" yaml:"table"`
	RecordID string `json:"recordId,omitempty" yaml:"record"`
}

// Field describes one column of a table
type Field struct {
	ID   string    `json:"id" yaml:"id"`
	Name string    `json:"name" yaml:"name"`
	Type FieldType `json:"type" yaml:"type"`
}

// Blob is a file handed to UploadBlob
type Blob struct {
	Name string
	Type string
	Data []byte
}

// Attachment is one entry of an attachment field's value list
type Attachment struct {
	Token     string `json:"token"`
	Name      string `json:"name"`
	Type      string `json:"type"`
	Size      int64  `json:"size"`
	TimeStamp int64  `json:"timeStamp"`
}

// Store is the host data store. Cell values are raw JSON-like values:
// nil, strings, numbers, booleans, lists and string-keyed maps.
type Store interface {
	Selection(ctx context.Context) (Selection, error)
	Fields(ctx context.Context, tableID string) ([]Field, error)
	FieldsByType(ctx context.Context, tableID string, fieldType FieldType) ([]Field, error)
	CellValue(ctx context.Context, tableID, fieldID, recordID string) (any, error)
	SetCellValue(ctx context.Context, tableID, fieldID, recordID string, value any) error
	// UploadBlob stores files and returns one token per file, in order
	UploadBlob(ctx context.Context, files []Blob) ([]string, error)
}

func filterFields(fields []Field, fieldType FieldType) []Field {
	out := make([]Field, 0, len(fields))
	for _, f := range fields {
		if f.Type == fieldType {
			out = append(out, f)
		}
	}
	return out
}
