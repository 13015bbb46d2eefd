package distribution

import (
	"context"
	"testing"

	"github.com/ruteri/storage-distribution/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBulkStoreFromSource(t *testing.T) {
	h := newHarness(t, twoOfferStrategy())
	h.source.objects["ws/a"] = []byte("first")
	h.source.objects["ws/c"] = []byte("third")

	req := interfaces.BulkStoreRequest{
		Tenant:              2,
		Requester:           "ingest",
		Category:            interfaces.CategoryObject,
		WorkspaceContainer:  "ws",
		ObjectIDs:           []string{"a", "b", "c"},
		WorkspaceObjectURIs: []string{"ws/a", "ws/b", "ws/c"},
	}
	resp, err := h.dist.BulkStoreFromSource(context.Background(), "default", req)
	require.Error(t, err)
	assert.ErrorIs(t, err, interfaces.ErrObjectNotFound)
	assert.Contains(t, err.Error(), "object b (2 of 3)")

	require.NotNil(t, resp)
	require.Len(t, resp.Objects, 1)
	assert.Equal(t, "a", resp.Objects[0].ObjectID)
	assert.True(t, h.offers.holds(t, "o2", objectContext("a", interfaces.CategoryObject).Ref()))
	assert.False(t, h.offers.holds(t, "o1", objectContext("c", interfaces.CategoryObject).Ref()), "bulk stops at the first failure")

	h.source.objects["ws/b"] = []byte("second")
	req.ObjectIDs = []string{"b", "c"}
	req.WorkspaceObjectURIs = []string{"ws/b", "ws/c"}
	resp, err = h.dist.BulkStoreFromSource(context.Background(), "default", req)
	require.NoError(t, err)
	require.Len(t, resp.Objects, 2)
	assert.Equal(t, "c", resp.Objects[1].ObjectID)
}

func TestBulkStoreValidation(t *testing.T) {
	h := newHarness(t, twoOfferStrategy())
	_, err := h.dist.BulkStoreFromSource(context.Background(), "default", interfaces.BulkStoreRequest{
		Category:            interfaces.CategoryObject,
		ObjectIDs:           []string{"a", "b"},
		WorkspaceObjectURIs: []string{"ws/a"},
	})
	assert.ErrorIs(t, err, interfaces.ErrIllegalArgument)
}
