package distribution

import (
	"context"
	"testing"

	"github.com/ruteri/storage-distribution/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeleteInAllOffers(t *testing.T) {
	h := newHarness(t, twoOfferStrategy())
	dc := objectContext("obj-1", interfaces.CategoryObject)
	h.offers.seed(t, "o1", dc.Ref(), []byte("x"))

	res, err := h.dist.DeleteInAllOffers(context.Background(), "default", dc)
	require.NoError(t, err)
	assert.Equal(t, map[string]interfaces.DeleteOutcome{
		"o1": interfaces.DeleteOK,
		"o2": interfaces.DeleteAlreadyGone,
	}, res.Outcomes)
	assert.False(t, h.offers.holds(t, "o1", dc.Ref()))

	records := h.audit.all()
	require.Len(t, records, 1)
	assert.Equal(t, EventDelete, records[0].EventType)
	assert.Equal(t, interfaces.OutcomeOK, records[0].Outcome)
	assert.Equal(t, []string{"o1 : OK", "o2 : ALREADY_GONE"}, records[0].Agents)
}

func TestDeleteReportsFailedOffers(t *testing.T) {
	h := newHarness(t, twoOfferStrategy())
	dc := objectContext("obj-1", interfaces.CategoryObject)
	h.offers.seed(t, "o1", dc.Ref(), []byte("x"))
	h.offers.seed(t, "o2", dc.Ref(), []byte("x"))
	h.offers.fault("o2").removeErr = interfaces.ErrBackendUnavailable

	res, err := h.dist.DeleteInAllOffers(context.Background(), "default", dc)
	require.Error(t, err)
	assert.ErrorIs(t, err, interfaces.ErrTechnical)
	require.NotNil(t, res)
	assert.Equal(t, interfaces.DeleteOK, res.Outcomes["o1"])
	assert.Equal(t, interfaces.DeleteKO, res.Outcomes["o2"])

	records := h.audit.all()
	require.Len(t, records, 1)
	assert.Equal(t, interfaces.OutcomeKO, records[0].Outcome)
}

func TestDeleteInOffers(t *testing.T) {
	h := newHarness(t, twoOfferStrategy())
	dc := objectContext("obj-1", interfaces.CategoryObject)
	h.offers.seed(t, "o1", dc.Ref(), []byte("x"))
	h.offers.seed(t, "o2", dc.Ref(), []byte("x"))

	res, err := h.dist.DeleteInOffers(context.Background(), "default", dc, []string{"o2"})
	require.NoError(t, err)
	assert.Len(t, res.Outcomes, 1)
	assert.True(t, h.offers.holds(t, "o1", dc.Ref()))
	assert.False(t, h.offers.holds(t, "o2", dc.Ref()))

	_, err = h.dist.DeleteInOffers(context.Background(), "default", dc, []string{"o9"})
	assert.ErrorIs(t, err, interfaces.ErrOfferNotFound)
}
