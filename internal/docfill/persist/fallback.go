package persist

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"
)

// Fallback receives PDFs that could not be attached to a record
type Fallback interface {
	Save(ctx context.Context, name string, pdf []byte) (string, error)
}

// DirFallback writes fallback PDFs into a directory
type DirFallback struct {
	fs  afero.Fs
	dir string
}

// NewDirFallback creates a fallback writing into dir on fs
func NewDirFallback(fs afero.Fs, dir string) *DirFallback {
	return &DirFallback{fs: fs, dir: dir}
}

// Save writes pdf as dir/name, replacing an existing file, and returns its path
func (d *DirFallback) Save(ctx context.Context, name string, pdf []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := d.fs.MkdirAll(d.dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	path := filepath.Join(d.dir, filepath.Base(name))
	if err := afero.WriteFile(d.fs, path, pdf, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}
