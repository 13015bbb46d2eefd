package storage

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/ruteri/storage-distribution/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestColdOfferReadOrder(t *testing.T) {
	ctx := context.Background()
	base := NewMemoryOffer("tape-1", 0, testLogger())
	putObject(t, base, "obj-1", []byte("cold bytes"))

	cold := NewColdOffer(base, time.Minute)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	cold.now = func() time.Time { return now }

	_, err := cold.GetObject(ctx, objectRef("obj-1"))
	assert.ErrorIs(t, err, interfaces.ErrPreconditionFailed, "reads require a read order")

	orderID, err := cold.CreateReadOrder(ctx, 2, interfaces.CategoryObject, []string{"obj-1"})
	require.NoError(t, err)
	require.NotEmpty(t, orderID)

	done, err := cold.IsReadOrderComplete(ctx, 2, orderID)
	require.NoError(t, err)
	assert.False(t, done)

	_, err = cold.GetObject(ctx, objectRef("obj-1"))
	assert.ErrorIs(t, err, interfaces.ErrPreconditionFailed, "order not staged yet")

	now = now.Add(time.Minute)
	done, err = cold.IsReadOrderComplete(ctx, 2, orderID)
	require.NoError(t, err)
	assert.True(t, done)

	got, err := cold.GetObject(ctx, objectRef("obj-1"))
	require.NoError(t, err)
	body, err := io.ReadAll(got.Body)
	require.NoError(t, err)
	assert.Equal(t, "cold bytes", string(body))

	// Orders are scoped to their tenant.
	_, err = cold.IsReadOrderComplete(ctx, 3, orderID)
	assert.ErrorIs(t, err, interfaces.ErrObjectNotFound)

	_, err = cold.IsReadOrderComplete(ctx, 2, "unknown")
	assert.ErrorIs(t, err, interfaces.ErrObjectNotFound)

	_, err = cold.CreateReadOrder(ctx, 2, interfaces.CategoryObject, nil)
	assert.ErrorIs(t, err, interfaces.ErrPreconditionFailed)
}

func TestColdOfferWritesPassThrough(t *testing.T) {
	ctx := context.Background()
	cold := NewColdOffer(NewMemoryOffer("tape-1", 0, testLogger()), 0)

	res := putObject(t, cold.Offer, "obj-2", []byte("x"))
	md, err := cold.GetMetadata(ctx, objectRef("obj-2"), false)
	require.NoError(t, err)
	assert.Equal(t, res.Digest, md.Digest)

	exists, err := cold.ObjectExists(ctx, objectRef("obj-2"))
	require.NoError(t, err)
	assert.True(t, exists)
}
