package distribution

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/ruteri/storage-distribution/cryptoutils"
	"github.com/ruteri/storage-distribution/interfaces"
)

var (
	errFanOutAborted = errors.New("fan-out aborted: every consumer closed")
	errReaderClosed  = errors.New("fan-out reader closed")
)

// fanOut reads a source once and broadcasts it to n readers while hashing
// the original bytes. The hasher sits upstream of the broadcast, so the
// digest never depends on how fast (or whether) a consumer reads.
//
// Each reader has a bounded queue of chunks; a slow reader applies
// backpressure to the source. A reader that is closed stops receiving chunks
// and never blocks the others.
type fanOut struct {
	src       io.Reader
	digest    *cryptoutils.Digest
	readers   []*fanOutReader
	chunkSize int

	done chan struct{}
	hex  string
	err  error
}

func newFanOut(src io.Reader, n int, digestType cryptoutils.DigestType, chunkSize, bufferedChunks int) (*fanOut, error) {
	if src == nil {
		return nil, fmt.Errorf("%w: fan-out source is nil", interfaces.ErrTechnical)
	}
	if n <= 0 {
		return nil, fmt.Errorf("%w: fan-out needs at least one consumer, got %d", interfaces.ErrTechnical, n)
	}
	digest, err := cryptoutils.NewDigest(digestType)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", interfaces.ErrTechnical, err)
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if bufferedChunks < 0 {
		bufferedChunks = 0
	}

	f := &fanOut{
		src:       src,
		digest:    digest,
		chunkSize: chunkSize,
		done:      make(chan struct{}),
	}
	f.readers = make([]*fanOutReader, n)
	for i := range f.readers {
		f.readers[i] = &fanOutReader{
			f:      f,
			ch:     make(chan []byte, bufferedChunks),
			closed: make(chan struct{}),
		}
	}
	go f.pump()
	return f, nil
}

// Readers returns one reader per consumer. Each must be closed.
func (f *fanOut) Readers() []io.ReadCloser {
	out := make([]io.ReadCloser, len(f.readers))
	for i, r := range f.readers {
		out[i] = r
	}
	return out
}

// Digest blocks until the source is exhausted and returns its hex digest,
// or the upstream error.
func (f *fanOut) Digest(ctx context.Context) (string, error) {
	select {
	case <-f.done:
		return f.hex, f.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Err returns the upstream error once the pump finished, nil otherwise.
func (f *fanOut) Err() error {
	select {
	case <-f.done:
		return f.err
	default:
		return nil
	}
}

// Wait blocks until the pump goroutine exits.
func (f *fanOut) Wait() {
	<-f.done
}

// abort closes every reader, which stops the pump at its next delivery.
func (f *fanOut) abort() {
	for _, r := range f.readers {
		r.Close()
	}
}

func (f *fanOut) pump() {
	defer func() {
		close(f.done)
		for _, r := range f.readers {
			close(r.ch)
		}
	}()

	buf := make([]byte, f.chunkSize)
	for {
		n, err := f.src.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			f.digest.Write(chunk)
			if !f.broadcast(chunk) {
				f.err = errFanOutAborted
				return
			}
		}
		if errors.Is(err, io.EOF) {
			f.hex = f.digest.Hex()
			return
		}
		if err != nil {
			f.err = fmt.Errorf("%w: reading source: %w", interfaces.ErrTechnical, err)
			return
		}
	}
}

// broadcast hands chunk to every open reader. It reports false when no
// reader is left.
func (f *fanOut) broadcast(chunk []byte) bool {
	delivered := false
	for _, r := range f.readers {
		select {
		case r.ch <- chunk:
			delivered = true
		case <-r.closed:
		}
	}
	return delivered
}

type fanOutReader struct {
	f         *fanOut
	ch        chan []byte
	closed    chan struct{}
	closeOnce sync.Once
	cur       []byte
}

func (r *fanOutReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for len(r.cur) == 0 {
		select {
		case <-r.closed:
			return 0, errReaderClosed
		default:
		}
		select {
		case chunk, ok := <-r.ch:
			if !ok {
				if r.f.err != nil {
					return 0, r.f.err
				}
				return 0, io.EOF
			}
			r.cur = chunk
		case <-r.closed:
			return 0, errReaderClosed
		}
	}
	n := copy(p, r.cur)
	r.cur = r.cur[n:]
	return n, nil
}

func (r *fanOutReader) Close() error {
	r.closeOnce.Do(func() { close(r.closed) })
	return nil
}
