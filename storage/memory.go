package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ruteri/storage-distribution/cryptoutils"
	"github.com/ruteri/storage-distribution/interfaces"
)

type memoryBlob struct {
	data         []byte
	digest       string
	digestType   cryptoutils.DigestType
	lastModified time.Time
}

// memoryStore keeps blobs in process memory. Capacity is bounded by
// maxBytes when positive.
type memoryStore struct {
	mu       sync.RWMutex
	blobs    map[string]*memoryBlob
	maxBytes int64
}

// NewMemoryOffer creates an in-memory offer. It is used by tests and
// single-process demos; maxBytes <= 0 means unbounded.
func NewMemoryOffer(id string, maxBytes int64, log *slog.Logger) *Offer {
	store := &memoryStore{blobs: make(map[string]*memoryBlob), maxBytes: maxBytes}
	return newOffer(id, "mem://"+id, store, newMemoryJournal(), log)
}

func (s *memoryStore) put(ctx context.Context, key string, body io.Reader, size int64) (int64, error) {
	data, err := bufferBody(body, size)
	if err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.maxBytes > 0 {
		var used int64
		for k, blob := range s.blobs {
			if k != key {
				used += int64(len(blob.data))
			}
		}
		if used+int64(len(data)) > s.maxBytes {
			return 0, fmt.Errorf("%w: offer full", interfaces.ErrBackendUnavailable)
		}
	}
	s.blobs[key] = &memoryBlob{data: data, lastModified: time.Now().UTC()}
	return int64(len(data)), nil
}

func (s *memoryStore) setDigest(_ context.Context, key string, dt cryptoutils.DigestType, digest string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	blob, ok := s.blobs[key]
	if !ok {
		return interfaces.ErrObjectNotFound
	}
	blob.digest = digest
	blob.digestType = dt
	return nil
}

func (s *memoryStore) get(_ context.Context, key string) (io.ReadCloser, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	blob, ok := s.blobs[key]
	if !ok {
		return nil, 0, interfaces.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(blob.data)), int64(len(blob.data)), nil
}

func (s *memoryStore) stat(_ context.Context, key string) (*blobInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	blob, ok := s.blobs[key]
	if !ok {
		return nil, interfaces.ErrObjectNotFound
	}
	return &blobInfo{
		Key:          key,
		Size:         int64(len(blob.data)),
		Digest:       blob.digest,
		DigestType:   blob.digestType,
		LastModified: blob.lastModified,
	}, nil
}

func (s *memoryStore) remove(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[key]; !ok {
		return interfaces.ErrObjectNotFound
	}
	delete(s.blobs, key)
	return nil
}

func (s *memoryStore) list(_ context.Context, container, cursor string, limit int) ([]blobInfo, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	prefix := container + "/"
	keys := make([]string, 0)
	for key := range s.blobs {
		if strings.HasPrefix(key, prefix) && (cursor == "" || key > prefix+cursor) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	next := ""
	if len(keys) > limit {
		keys = keys[:limit]
		next = strings.TrimPrefix(keys[limit-1], prefix)
	}
	out := make([]blobInfo, 0, len(keys))
	for _, key := range keys {
		blob := s.blobs[key]
		out = append(out, blobInfo{Key: key, Size: int64(len(blob.data)), LastModified: blob.lastModified})
	}
	return out, next, nil
}

func (s *memoryStore) capacity(context.Context) (*interfaces.Capacity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var used int64
	for _, blob := range s.blobs {
		used += int64(len(blob.data))
	}
	usable := UnboundedCapacity
	if s.maxBytes > 0 {
		usable = max(s.maxBytes-used, 0)
	}
	return &interfaces.Capacity{UsableSpace: usable, UsedSpace: used}, nil
}

func (s *memoryStore) close() error {
	return nil
}
