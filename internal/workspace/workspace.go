// Package workspace allocates the isolated scratch directories in which each
// composition writes its intermediate artifacts. A workspace is owned by a
// single request and removed as a whole once that request finishes.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Error reports a failure to create or remove a workspace directory.
type Error struct {
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("workspace %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Manager creates workspaces under a common root directory.
type Manager struct {
	root string
}

// NewManager creates a new Manager.
// If root is empty, a directory under os.TempDir() is used.
// The directory is created if it doesn't exist.
func NewManager(root string) (*Manager, error) {
	if root == "" {
		root = filepath.Join(os.TempDir(), "ffanime")
	}

	if err := os.MkdirAll(root, 0750); err != nil {
		return nil, &Error{Op: "init", Path: root, Err: err}
	}

	return &Manager{root: root}, nil
}

// Root returns the directory under which workspaces are created.
func (m *Manager) Root() string {
	return m.root
}

// Create allocates a new, empty workspace with a unique name.
func (m *Manager) Create() (*Workspace, error) {
	id := uuid.NewString()
	dir := filepath.Join(m.root, id)

	// Mkdir, not MkdirAll: an existing directory means a collision.
	if err := os.Mkdir(dir, 0750); err != nil {
		return nil, &Error{Op: "create", Path: dir, Err: err}
	}

	return &Workspace{id: id, dir: dir}, nil
}

// Workspace is one request's scratch directory.
type Workspace struct {
	id  string
	dir string
}

// ID returns the unique workspace name.
func (w *Workspace) ID() string {
	return w.id
}

// Dir returns the absolute workspace directory.
func (w *Workspace) Dir() string {
	return w.dir
}

// Path returns the location of name inside the workspace. The name is
// sanitized so it can never escape the directory.
func (w *Workspace) Path(name string) string {
	return filepath.Join(w.dir, Sanitize(name))
}

// Derived names the output of a stage applied to src: the stage prefix
// followed by src's base name.
func (w *Workspace) Derived(prefix, src string) string {
	return w.Path(prefix + filepath.Base(src))
}

// Remove deletes the workspace and everything in it.
func (w *Workspace) Remove() error {
	if err := os.RemoveAll(w.dir); err != nil {
		return &Error{Op: "remove", Path: w.dir, Err: err}
	}
	return nil
}

// Sanitize maps a file name onto a conservative character set: letters,
// digits, dot, dash and underscore. Everything else becomes an underscore.
func Sanitize(name string) string {
	name = filepath.Base(name)
	clean := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)

	if strings.Trim(clean, ".") == "" {
		return "file"
	}
	return clean
}
