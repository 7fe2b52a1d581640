// Package templates loads .docx templates from a sandboxed directory.
package templates

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/afero"

	docerrors "github.com/a3tai/mcp-docfill/internal/docfill/errors"
)

// Extension is the only template file type accepted
const Extension = ".docx"

// Entry describes one template file
type Entry struct {
	Name     string    `json:"name"`
	Path     string    `json:"path"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}

// Library reads templates below one directory
type Library struct {
	fs      afero.Fs
	guard   *PathGuard
	maxSize int64
}

// NewLibrary creates a library over dir. Symlinks are only followed when
// fsys is the OS filesystem.
func NewLibrary(fsys afero.Fs, dir string, maxSize int64) (*Library, error) {
	_, osBacked := fsys.(*afero.OsFs)
	guard, err := NewPathGuard(dir, osBacked)
	if err != nil {
		return nil, err
	}
	return &Library{fs: fsys, guard: guard, maxSize: maxSize}, nil
}

// Dir returns the template directory
func (l *Library) Dir() string {
	return l.guard.Root()
}

// Load reads the template called name
func (l *Library) Load(name string) ([]byte, error) {
	path, err := l.guard.Resolve(name)
	if err != nil {
		return nil, docerrors.Wrap(docerrors.ErrorTypeInvalidRequest, err)
	}
	if !strings.EqualFold(filepath.Ext(path), Extension) {
		return nil, docerrors.Newf(docerrors.ErrorTypeInvalidTemplate, "not a %s file", Extension).WithContext(name)
	}

	info, err := l.fs.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, docerrors.New(docerrors.ErrorTypeInvalidRequest, "template not found").WithContext(name)
		}
		return nil, docerrors.Wrap(docerrors.ErrorTypeInvalidTemplate, err).WithContext(name)
	}
	if info.IsDir() {
		return nil, docerrors.New(docerrors.ErrorTypeInvalidRequest, "template is a directory").WithContext(name)
	}
	if l.maxSize > 0 && info.Size() > l.maxSize {
		return nil, docerrors.Newf(docerrors.ErrorTypeInvalidTemplate,
			"template is %d bytes, limit is %d", info.Size(), l.maxSize).WithContext(name)
	}

	data, err := afero.ReadFile(l.fs, path)
	if err != nil {
		return nil, docerrors.Wrap(docerrors.ErrorTypeInvalidTemplate, fmt.Errorf("read template: %w", err)).WithContext(name)
	}
	return data, nil
}

// List returns the templates whose relative path contains query, sorted by
// name. An empty query lists everything.
func (l *Library) List(query string) ([]Entry, error) {
	root := l.guard.Root()
	query = strings.ToLower(strings.TrimSpace(query))

	if ok, _ := afero.DirExists(l.fs, root); !ok {
		return nil, nil
	}

	var entries []Entry
	err := afero.Walk(l.fs, root, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			// skip hidden folders
			if path != root && strings.HasPrefix(info.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		// ~$ files are Word lock files
		if !strings.EqualFold(filepath.Ext(path), Extension) || strings.HasPrefix(info.Name(), "~$") {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if query != "" && !strings.Contains(strings.ToLower(rel), query) {
			return nil
		}
		entries = append(entries, Entry{
			Name:     rel,
			Path:     path,
			Size:     info.Size(),
			Modified: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, docerrors.Wrap(docerrors.ErrorTypeInvalidRequest, fmt.Errorf("list templates: %w", err))
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}
