package workspace

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/ruteri/storage-distribution/interfaces"
)

// SourceProvider re-opens a workspace object on every call.
func SourceProvider(src interfaces.ObjectSource, tenant int, desc interfaces.ObjectDescription) interfaces.StreamProvider {
	return func(ctx context.Context) (*interfaces.StreamAndInfo, error) {
		return src.Open(ctx, tenant, desc)
	}
}

// BytesProvider serves data from memory.
func BytesProvider(data []byte) interfaces.StreamProvider {
	return func(context.Context) (*interfaces.StreamAndInfo, error) {
		return &interfaces.StreamAndInfo{Stream: io.NopCloser(bytes.NewReader(data)), Size: int64(len(data))}, nil
	}
}

// Spool is a one-shot stream copied to a temporary file so that it can be
// read once per store attempt. The caller must Remove it.
type Spool struct {
	path string
	size int64
}

// NewSpool copies r into a temporary file under dir. An empty dir uses the
// system temporary directory. The copy stops at limit bytes when limit > 0.
func NewSpool(ctx context.Context, r io.Reader, dir string, limit int64) (*Spool, error) {
	f, err := os.CreateTemp(dir, "spool-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create spool file: %w", err)
	}
	src := r
	if limit > 0 {
		src = io.LimitReader(r, limit+1)
	}
	n, err := io.Copy(f, contextReader{ctx: ctx, r: src})
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && limit > 0 && n > limit {
		err = fmt.Errorf("%w: object exceeds %d bytes", interfaces.ErrIllegalArgument, limit)
	}
	if err != nil {
		os.Remove(f.Name())
		return nil, err
	}
	return &Spool{path: f.Name(), size: n}, nil
}

// Size returns the number of spooled bytes.
func (s *Spool) Size() int64 {
	return s.size
}

// Provider opens the spooled bytes on every call.
func (s *Spool) Provider() interfaces.StreamProvider {
	return func(ctx context.Context) (*interfaces.StreamAndInfo, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		f, err := os.Open(s.path)
		if err != nil {
			return nil, fmt.Errorf("failed to open spool file: %w", err)
		}
		return &interfaces.StreamAndInfo{Stream: f, Size: s.size}, nil
	}
}

// Remove deletes the spool file.
func (s *Spool) Remove() error {
	return os.Remove(s.path)
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
