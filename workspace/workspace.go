// Package workspace provides the upstream object sources the distribution
// engine reads from: a directory tree laid out per tenant and container, and
// re-readable stream providers for objects that arrive over the network.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ruteri/storage-distribution/interfaces"
)

// FileWorkspace serves objects from <root>/<tenant>/<container>/<uri>.
type FileWorkspace struct {
	root string
	log  *slog.Logger
}

var _ interfaces.ObjectSource = (*FileWorkspace)(nil)

// NewFileWorkspace creates a workspace rooted at root, creating it if needed.
func NewFileWorkspace(root string, log *slog.Logger) (*FileWorkspace, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create workspace %s: %w", root, err)
	}
	return &FileWorkspace{root: root, log: log}, nil
}

// Root returns the workspace directory.
func (w *FileWorkspace) Root() string {
	return w.root
}

// Path returns the file backing desc for tenant.
func (w *FileWorkspace) Path(tenant int, desc interfaces.ObjectDescription) (string, error) {
	if desc.WorkspaceObjectURI == "" {
		return "", fmt.Errorf("%w: empty workspace object uri", interfaces.ErrIllegalArgument)
	}
	for _, part := range []string{desc.WorkspaceContainer, desc.WorkspaceObjectURI} {
		if part != "" && !filepath.IsLocal(filepath.FromSlash(part)) {
			return "", fmt.Errorf("%w: workspace path %q escapes its container", interfaces.ErrIllegalArgument, part)
		}
	}
	return filepath.Join(w.root, strconv.Itoa(tenant), filepath.FromSlash(desc.WorkspaceContainer), filepath.FromSlash(desc.WorkspaceObjectURI)), nil
}

// Open returns the workspace object with its size.
func (w *FileWorkspace) Open(ctx context.Context, tenant int, desc interfaces.ObjectDescription) (*interfaces.StreamAndInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := w.Path(tenant, desc)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: workspace object %s", interfaces.ErrObjectNotFound, desc.WorkspaceObjectURI)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open workspace object: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat workspace object: %w", err)
	}
	if info.IsDir() {
		f.Close()
		return nil, fmt.Errorf("%w: workspace object %s is a directory", interfaces.ErrIllegalArgument, desc.WorkspaceObjectURI)
	}
	w.log.Debug("Opened workspace object", slog.String("path", path), slog.Int64("size", info.Size()))
	return &interfaces.StreamAndInfo{Stream: f, Size: info.Size()}, nil
}

// Put writes data as a workspace object. It is used to stage objects before
// a store and by tests.
func (w *FileWorkspace) Put(tenant int, desc interfaces.ObjectDescription, body io.Reader) (int64, error) {
	path, err := w.Path(tenant, desc)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return 0, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return 0, err
	}
	defer os.Remove(tmp.Name())
	n, err := io.Copy(tmp, body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, err
	}
	return n, os.Rename(tmp.Name(), path)
}

// Remove deletes a workspace object; a missing object is not an error.
func (w *FileWorkspace) Remove(tenant int, desc interfaces.ObjectDescription) error {
	path, err := w.Path(tenant, desc)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// List returns the object uris of a workspace container, sorted.
func (w *FileWorkspace) List(tenant int, container string) ([]string, error) {
	dir, err := w.Path(tenant, interfaces.ObjectDescription{WorkspaceContainer: container, WorkspaceObjectURI: "."})
	if err != nil {
		return nil, err
	}
	var uris []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		uris = append(uris, filepath.ToSlash(rel))
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return uris, err
}
