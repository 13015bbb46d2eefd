package distribution

import (
	"context"
	"io"
	"testing"

	"github.com/ruteri/storage-distribution/interfaces"
	"github.com/ruteri/storage-distribution/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rankedStrategy() *interfaces.Strategy {
	return strategyOf("ranked",
		interfaces.OfferReference{ID: "o3", Rank: 2},
		interfaces.OfferReference{ID: "o1", Rank: 0, Referent: true},
		interfaces.OfferReference{ID: "o2", Rank: 1},
	)
}

func TestRetrieveFallsBackByRank(t *testing.T) {
	h := newHarness(t, rankedStrategy())
	dc := objectContext("obj-1", interfaces.CategoryObject)
	h.offers.seed(t, "o3", dc.Ref(), []byte("from o3"))
	h.offers.fault("o1").getErr = interfaces.ErrBackendUnavailable

	res, err := h.dist.Retrieve(context.Background(), "ranked", dc, "")
	require.NoError(t, err)
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	require.NoError(t, res.Body.Close())

	assert.Equal(t, "o3", res.OfferID)
	assert.Equal(t, []byte("from o3"), body)
	assert.Equal(t, 1, h.offers.connectCount("o1"))
	assert.Equal(t, 1, h.offers.connectCount("o2"))
	assert.Equal(t, int64(0), h.offers.ActiveConnections(), "closing the body releases the connection")
}

func TestRetrieveErrors(t *testing.T) {
	ctx := context.Background()
	dc := objectContext("obj-1", interfaces.CategoryObject)

	t.Run("not found when an offer says so", func(t *testing.T) {
		h := newHarness(t, rankedStrategy())
		h.offers.fault("o1").getErr = interfaces.ErrBackendUnavailable
		_, err := h.dist.Retrieve(ctx, "ranked", dc, "")
		assert.ErrorIs(t, err, interfaces.ErrObjectNotFound)
	})

	t.Run("technical when every offer fails", func(t *testing.T) {
		h := newHarness(t, rankedStrategy())
		for _, id := range []string{"o1", "o2", "o3"} {
			h.offers.fault(id).getErr = interfaces.ErrBackendUnavailable
		}
		_, err := h.dist.Retrieve(ctx, "ranked", dc, "")
		assert.ErrorIs(t, err, interfaces.ErrTechnical)
		assert.NotErrorIs(t, err, interfaces.ErrObjectNotFound)
	})

	t.Run("explicit offer outside the strategy", func(t *testing.T) {
		h := newHarness(t, rankedStrategy())
		_, err := h.dist.Retrieve(ctx, "ranked", dc, "o9")
		assert.ErrorIs(t, err, interfaces.ErrOfferNotFound)
	})
}

func TestRetrieveSkipsAsyncOffersUnlessNamed(t *testing.T) {
	strategy := strategyOf("cold",
		interfaces.OfferReference{ID: "tape", Rank: 0, AsyncRead: true},
		interfaces.OfferReference{ID: "disk", Rank: 1, Referent: true},
	)
	h := newHarness(t, strategy)
	h.offers.add(storage.NewColdOffer(storage.NewMemoryOffer("tape", 0, testLogger()), 0))
	dc := objectContext("obj-1", interfaces.CategoryObject)
	h.offers.seed(t, "disk", dc.Ref(), []byte("disk copy"))
	h.offers.seed(t, "tape", dc.Ref(), []byte("tape copy"))

	res, err := h.dist.Retrieve(context.Background(), "cold", dc, "")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, "disk", res.OfferID)
	assert.Zero(t, h.offers.connectCount("tape"))

	_, err = h.dist.Retrieve(context.Background(), "cold", dc, "tape")
	assert.ErrorIs(t, err, interfaces.ErrTechnical, "cold reads need a read order")

	order, err := h.dist.CreateReadOrder(context.Background(), "cold", "tape", dc.Tenant, dc.Category, []string{dc.ObjectID})
	require.NoError(t, err)
	assert.NotEmpty(t, order.OrderID)
	assert.Equal(t, "tape", order.OfferID)

	done, err := h.dist.CheckReadOrder(context.Background(), "cold", "tape", dc.Tenant, order.OrderID)
	require.NoError(t, err)
	assert.True(t, done)

	res, err = h.dist.Retrieve(context.Background(), "cold", dc, "tape")
	require.NoError(t, err)
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, []byte("tape copy"), body)
}

func TestReadOrderValidation(t *testing.T) {
	h := newHarness(t, twoOfferStrategy())
	ctx := context.Background()

	_, err := h.dist.CreateReadOrder(ctx, "default", "o9", 2, interfaces.CategoryObject, []string{"a"})
	assert.ErrorIs(t, err, interfaces.ErrOfferNotFound)

	_, err = h.dist.CreateReadOrder(ctx, "default", "o1", 2, interfaces.CategoryObject, nil)
	assert.ErrorIs(t, err, interfaces.ErrIllegalArgument)

	_, err = h.dist.CreateReadOrder(ctx, "default", "o1", 2, interfaces.CategoryObject, []string{"a"})
	assert.ErrorIs(t, err, interfaces.ErrOperationUnsupported, "synchronous offers have no read orders")

	_, err = h.dist.CheckReadOrder(ctx, "default", "o1", 2, "")
	assert.ErrorIs(t, err, interfaces.ErrIllegalArgument)
}
