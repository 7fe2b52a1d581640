package templates

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
)

// PathGuard keeps resolved paths inside one root directory
type PathGuard struct {
	root string
	// followLinks resolves symlinks on the real filesystem
	followLinks bool
}

// NewPathGuard creates a guard for root
func NewPathGuard(root string, followLinks bool) (*PathGuard, error) {
	if root == "" {
		return nil, fmt.Errorf("template directory cannot be empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve template directory: %w", err)
	}
	return &PathGuard{root: filepath.Clean(abs), followLinks: followLinks}, nil
}

// Root returns the guarded directory
func (g *PathGuard) Root() string {
	return g.root
}

// Resolve maps name to an absolute path under the root. Relative names are
// joined to the root; absolute names must already point inside it.
func (g *PathGuard) Resolve(name string) (string, error) {
	name = strings.ReplaceAll(name, "\x00", "")
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("path cannot be empty")
	}
	if !filepath.IsAbs(name) {
		name = filepath.Join(g.root, name)
	}
	path := filepath.Clean(name)

	if !within(g.root, path) {
		return "", fmt.Errorf("path is outside the template directory: %s", name)
	}
	if !g.followLinks {
		return path, nil
	}

	// Both sides are compared after symlink resolution
	realRoot := g.root
	if resolved, err := filepath.EvalSymlinks(g.root); err == nil {
		realRoot = resolved
	}
	realPath, err := evalExisting(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve link: %w", err)
	}
	if !within(g.root, realPath) && !within(realRoot, realPath) {
		return "", fmt.Errorf("path links outside the template directory: %s", name)
	}
	return path, nil
}

// evalExisting resolves every symlink along path. When path does not exist
// the deepest existing ancestor is resolved and the rest is appended.
func evalExisting(path string) (string, error) {
	var rest []string
	for {
		resolved, err := filepath.EvalSymlinks(path)
		if err == nil {
			return filepath.Join(append([]string{resolved}, rest...)...), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(path)
		if parent == path {
			return "", err
		}
		rest = append([]string{filepath.Base(path)}, rest...)
		path = parent
	}
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
