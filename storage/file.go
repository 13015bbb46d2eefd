package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ruteri/storage-distribution/cryptoutils"
	"github.com/ruteri/storage-distribution/interfaces"
)

const (
	fileDigestDir  = ".digests"
	fileTempDir    = ".tmp"
	fileJournalDir = ".offerlog"
)

// fileStore implements a blob store on the local file system.
// Objects live in one directory per container; digests are kept in a
// parallel sidecar tree so that listings only see object files.
type fileStore struct {
	baseDir string
	log     *slog.Logger
}

// NewFileOffer creates a file system offer rooted at baseDir.
// It creates the directory layout if it doesn't exist.
func NewFileOffer(id, baseDir string, log *slog.Logger) (*Offer, error) {
	for _, dir := range []string{baseDir, filepath.Join(baseDir, fileDigestDir), filepath.Join(baseDir, fileTempDir)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	journal, err := openFileJournal(filepath.Join(baseDir, fileJournalDir))
	if err != nil {
		return nil, err
	}

	store := &fileStore{baseDir: baseDir, log: log}
	return newOffer(id, fmt.Sprintf("file://%s", baseDir), store, journal, log), nil
}

func (s *fileStore) objectPath(key string) string {
	return filepath.Join(s.baseDir, filepath.FromSlash(key))
}

func (s *fileStore) digestPath(key string) string {
	return filepath.Join(s.baseDir, fileDigestDir, filepath.FromSlash(key))
}

// put writes to a temporary file and renames it into place, so readers never
// observe a partial object.
func (s *fileStore) put(ctx context.Context, key string, body io.Reader, size int64) (int64, error) {
	tmp, err := os.CreateTemp(filepath.Join(s.baseDir, fileTempDir), "put-*")
	if err != nil {
		return 0, fmt.Errorf("%w: failed to create temp file: %v", interfaces.ErrBackendUnavailable, err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, fmt.Errorf("failed to write object: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return n, err
	}

	path := s.objectPath(key)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return n, fmt.Errorf("failed to create container directory: %w", err)
	}
	// A stale digest must not describe the new content.
	_ = os.Remove(s.digestPath(key))
	if err := os.Rename(tmp.Name(), path); err != nil {
		return n, fmt.Errorf("failed to move object into place: %w", err)
	}
	return n, nil
}

func (s *fileStore) setDigest(_ context.Context, key string, dt cryptoutils.DigestType, digest string) error {
	path := s.digestPath(key)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create digest directory: %w", err)
	}
	return os.WriteFile(path, []byte(string(dt)+":"+digest), 0644)
}

func (s *fileStore) get(_ context.Context, key string) (io.ReadCloser, int64, error) {
	f, err := os.Open(s.objectPath(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, 0, interfaces.ErrObjectNotFound
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open object: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("failed to stat object: %w", err)
	}
	return f, st.Size(), nil
}

func (s *fileStore) stat(_ context.Context, key string) (*blobInfo, error) {
	st, err := os.Stat(s.objectPath(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, interfaces.ErrObjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat object: %w", err)
	}
	info := &blobInfo{Key: key, Size: st.Size(), LastModified: st.ModTime().UTC()}

	raw, err := os.ReadFile(s.digestPath(key))
	switch {
	case err == nil:
		if dt, digest, ok := strings.Cut(string(raw), ":"); ok {
			info.DigestType = cryptoutils.DigestType(dt)
			info.Digest = digest
		}
	case !errors.Is(err, fs.ErrNotExist):
		s.log.Warn("Failed to read digest sidecar", slog.String("key", key), "err", err)
	}
	return info, nil
}

func (s *fileStore) remove(_ context.Context, key string) error {
	err := os.Remove(s.objectPath(key))
	if errors.Is(err, fs.ErrNotExist) {
		return interfaces.ErrObjectNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to remove object: %w", err)
	}
	_ = os.Remove(s.digestPath(key))
	return nil
}

func (s *fileStore) list(_ context.Context, container, cursor string, limit int) ([]blobInfo, string, error) {
	entries, err := os.ReadDir(filepath.Join(s.baseDir, container))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to list container: %w", err)
	}
	// os.ReadDir returns entries sorted by file name.
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() && e.Name() > cursor {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	next := ""
	if len(names) > limit {
		names = names[:limit]
		next = names[limit-1]
	}
	out := make([]blobInfo, 0, len(names))
	for _, name := range names {
		st, err := os.Stat(filepath.Join(s.baseDir, container, name))
		if err != nil {
			continue
		}
		out = append(out, blobInfo{Key: container + "/" + name, Size: st.Size(), LastModified: st.ModTime().UTC()})
	}
	return out, next, nil
}

func (s *fileStore) capacity(context.Context) (*interfaces.Capacity, error) {
	used, available, err := volumeStats(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	return &interfaces.Capacity{UsableSpace: available, UsedSpace: used}, nil
}

func (s *fileStore) close() error {
	return nil
}
