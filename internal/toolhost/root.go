package toolhost

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrOutsideRoot is returned for paths that resolve outside the tool root.
var ErrOutsideRoot = errors.New("path outside tool root")

// Root confines relative and absolute paths to one directory tree.
type Root struct {
	dir string
}

// NewRoot resolves dir to an absolute, symlink-free directory.
func NewRoot(dir string) (*Root, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	abs, err = filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", abs)
	}
	return &Root{dir: abs}, nil
}

// Dir returns the root directory.
func (r *Root) Dir() string {
	return r.dir
}

// Resolve maps p to an absolute path inside the root. Relative paths are
// taken from the root. Symlinks are followed for the part of p that exists.
func (r *Root) Resolve(p string) (string, error) {
	if p == "" {
		p = "."
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(r.dir, p)
	}
	p = filepath.Clean(p)

	if real, err := filepath.EvalSymlinks(p); err == nil {
		p = real
	}
	if !r.contains(p) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, p)
	}
	return p, nil
}

// Rel returns p relative to the root, using forward slashes.
func (r *Root) Rel(p string) string {
	rel, err := filepath.Rel(r.dir, p)
	if err != nil {
		return p
	}
	return filepath.ToSlash(rel)
}

func (r *Root) contains(p string) bool {
	rel, err := filepath.Rel(r.dir, p)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
