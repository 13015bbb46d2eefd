package workspace

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/ruteri/storage-distribution/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWorkspace(t *testing.T) *FileWorkspace {
	t.Helper()
	ws, err := NewFileWorkspace(t.TempDir(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return ws
}

func TestFileWorkspace(t *testing.T) {
	ws := newTestWorkspace(t)
	ctx := context.Background()
	desc := interfaces.ObjectDescription{WorkspaceContainer: "op-1", WorkspaceObjectURI: "content/obj-1"}

	_, err := ws.Open(ctx, 2, desc)
	assert.ErrorIs(t, err, interfaces.ErrObjectNotFound)

	n, err := ws.Put(2, desc, strings.NewReader("payload"))
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
	_, err = ws.Put(2, interfaces.ObjectDescription{WorkspaceContainer: "op-1", WorkspaceObjectURI: "a"}, strings.NewReader("a"))
	require.NoError(t, err)

	stream, err := ws.Open(ctx, 2, desc)
	require.NoError(t, err)
	data, err := io.ReadAll(stream.Stream)
	require.NoError(t, err)
	require.NoError(t, stream.Stream.Close())
	assert.Equal(t, "payload", string(data))
	assert.Equal(t, int64(7), stream.Size)

	_, err = ws.Open(ctx, 3, desc)
	assert.ErrorIs(t, err, interfaces.ErrObjectNotFound, "tenants are isolated")

	uris, err := ws.List(2, "op-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "content/obj-1"}, uris)

	require.NoError(t, ws.Remove(2, desc))
	require.NoError(t, ws.Remove(2, desc))
	_, err = ws.Open(ctx, 2, desc)
	assert.ErrorIs(t, err, interfaces.ErrObjectNotFound)

	uris, err = ws.List(2, "unknown")
	require.NoError(t, err)
	assert.Empty(t, uris)
}

func TestFileWorkspaceRejectsEscapes(t *testing.T) {
	ws := newTestWorkspace(t)
	for _, uri := range []string{"", "../../etc/passwd", "/etc/passwd/../../../x/../../.."} {
		_, err := ws.Open(context.Background(), 2, interfaces.ObjectDescription{WorkspaceContainer: "c", WorkspaceObjectURI: uri})
		assert.ErrorIs(t, err, interfaces.ErrIllegalArgument, "uri %q", uri)
	}
}

func TestSpool(t *testing.T) {
	ctx := context.Background()
	data := bytes.Repeat([]byte("z"), 1000)
	spool, err := NewSpool(ctx, bytes.NewReader(data), t.TempDir(), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), spool.Size())

	provider := spool.Provider()
	for i := 0; i < 2; i++ {
		stream, err := provider(ctx)
		require.NoError(t, err)
		got, err := io.ReadAll(stream.Stream)
		require.NoError(t, err)
		require.NoError(t, stream.Stream.Close())
		assert.Equal(t, data, got, "read %d", i)
	}

	require.NoError(t, spool.Remove())
	_, err = provider(ctx)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestSpoolLimits(t *testing.T) {
	dir := t.TempDir()
	_, err := NewSpool(context.Background(), strings.NewReader("0123456789"), dir, 5)
	assert.ErrorIs(t, err, interfaces.ErrIllegalArgument)

	spool, err := NewSpool(context.Background(), strings.NewReader("01234"), dir, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(5), spool.Size())
	require.NoError(t, spool.Remove())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewSpool(ctx, strings.NewReader("x"), dir, 0)
	assert.ErrorIs(t, err, context.Canceled)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "failed spools leave nothing behind")
}

func TestSourceProvider(t *testing.T) {
	ws := newTestWorkspace(t)
	desc := interfaces.ObjectDescription{WorkspaceContainer: "c", WorkspaceObjectURI: "o"}
	_, err := ws.Put(1, desc, strings.NewReader("abc"))
	require.NoError(t, err)

	stream, err := SourceProvider(ws, 1, desc)(context.Background())
	require.NoError(t, err)
	defer stream.Stream.Close()
	assert.Equal(t, int64(3), stream.Size)

	stream2, err := BytesProvider([]byte("xy"))(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), stream2.Size)
}
