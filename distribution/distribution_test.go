package distribution

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"testing"
	"testing/iotest"

	"github.com/ruteri/storage-distribution/cryptoutils"
	"github.com/ruteri/storage-distribution/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func twoOfferStrategy() *interfaces.Strategy {
	return strategyOf("default",
		interfaces.OfferReference{ID: "o1", Referent: true},
		interfaces.OfferReference{ID: "o2", Rank: 1},
	)
}

func TestStoreInAllOffers(t *testing.T) {
	h := newHarness(t, strategyOf("default",
		interfaces.OfferReference{ID: "o1", Referent: true},
		interfaces.OfferReference{ID: "o2"},
		interfaces.OfferReference{ID: "o3"},
	))
	data := []byte("the archival package payload")
	h.source.objects["ws/obj-1"] = data
	expected, err := cryptoutils.DigestBytes(cryptoutils.SHA512, data)
	require.NoError(t, err)

	dc := objectContext("obj-1", interfaces.CategoryObject)
	res, err := h.dist.StoreInAllOffers(context.Background(), "default", dc, interfaces.ObjectDescription{WorkspaceContainer: "ws", WorkspaceObjectURI: "ws/obj-1"})
	require.NoError(t, err)

	assert.Equal(t, "obj-1", res.ObjectID)
	assert.Equal(t, expected, res.Digest)
	assert.Equal(t, cryptoutils.SHA512, res.DigestType)
	assert.Equal(t, int64(len(data)), res.Size)
	assert.Equal(t, []string{"o1", "o2", "o3"}, res.OfferIDs)
	assert.Equal(t, map[string]int{"o1": http.StatusCreated, "o2": http.StatusCreated, "o3": http.StatusCreated}, res.OfferStatus)
	assert.Equal(t, "ws/obj-1", res.Description)

	for _, id := range []string{"o1", "o2", "o3"} {
		assert.Equal(t, data, h.offers.read(t, id, dc.Ref()), "offer %s", id)
	}

	records := h.audit.all()
	require.Len(t, records, 1)
	assert.Equal(t, interfaces.OutcomeOK, records[0].Outcome)
	assert.Equal(t, EventStore, records[0].EventType)
	assert.Equal(t, expected, records[0].Digest)
	assert.Equal(t, []string{"o1 attempt 1 : OK", "o2 attempt 1 : OK", "o3 attempt 1 : OK"}, records[0].Agents)
	assert.Equal(t, int64(0), h.offers.ActiveConnections())
}

func TestStoreRetriesTimedOutOffer(t *testing.T) {
	h := newHarness(t, twoOfferStrategy())
	h.offers.fault("o2").puts = []putBehavior{putHang, putHang}
	dc := objectContext("obj-1", interfaces.CategoryObject)

	res, err := h.dist.StoreInOffers(context.Background(), "default", dc, nil, bytesProvider([]byte("retried object")))
	require.NoError(t, err)
	assert.Equal(t, []string{"o1", "o2"}, res.OfferIDs)

	assert.Equal(t, 1, h.offers.fault("o1").calls(), "a verified offer is never rewritten")
	assert.Equal(t, 3, h.offers.fault("o2").calls())
	assert.True(t, h.offers.holds(t, "o1", dc.Ref()))
	assert.True(t, h.offers.holds(t, "o2", dc.Ref()))

	records := h.audit.all()
	require.Len(t, records, 1)
	assert.Equal(t, interfaces.OutcomeOK, records[0].Outcome)
	assert.Equal(t, []string{
		"o1 attempt 1 : OK",
		"o2 attempt 1 : KO",
		"o2 attempt 2 : KO",
		"o2 attempt 3 : OK",
	}, records[0].Agents)
}

func TestStoreConflictRollsBack(t *testing.T) {
	h := newHarness(t, twoOfferStrategy())
	dc := objectContext("obj-2", interfaces.CategoryObject)
	h.offers.seed(t, "o2", dc.Ref(), []byte("already archived"))

	_, err := h.dist.StoreInOffers(context.Background(), "default", dc, nil, bytesProvider([]byte("new bytes")))
	require.Error(t, err)
	assert.ErrorIs(t, err, interfaces.ErrObjectAlreadyExists)

	assert.False(t, h.offers.holds(t, "o1", dc.Ref()), "o1 copy is rolled back")
	assert.Equal(t, []byte("already archived"), h.offers.read(t, "o2", dc.Ref()), "the existing object is untouched")
	assert.Equal(t, 1, h.offers.fault("o1").calls(), "conflicts are not retried")

	records := h.audit.all()
	require.Len(t, records, 1)
	assert.Equal(t, interfaces.OutcomeKO, records[0].Outcome)
	assert.Equal(t, []string{"o1 attempt 1 : OK", "o2 attempt 1 : KO"}, records[0].Agents)
}

func TestStoreRollbackFailureKeepsError(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(t *testing.T, h *harness, dc interfaces.DataContext)
		wantErr error
	}{
		{
			name: "conflict",
			setup: func(t *testing.T, h *harness, dc interfaces.DataContext) {
				h.offers.seed(t, "o2", dc.Ref(), []byte("already archived"))
			},
			wantErr: interfaces.ErrObjectAlreadyExists,
		},
		{
			name: "retries exhausted",
			setup: func(_ *testing.T, h *harness, _ interfaces.DataContext) {
				faults := h.offers.fault("o2")
				faults.puts = []putBehavior{putFail, putFail, putFail}
				faults.putErr = interfaces.ErrBackendUnavailable
			},
			wantErr: interfaces.ErrCantStoreObject,
		},
	}
	errRemove := errors.New("remove refused")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, twoOfferStrategy())
			dc := objectContext("obj-rb", interfaces.CategoryObject)
			tt.setup(t, h, dc)
			h.offers.fault("o1").removeErr = errRemove

			_, err := h.dist.StoreInOffers(context.Background(), "default", dc, nil, bytesProvider([]byte("stuck copy")))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.NotErrorIs(t, err, errRemove, "the failed rollback is not reported")
			assert.True(t, h.offers.holds(t, "o1", dc.Ref()), "the copy could not be removed")

			records := h.audit.all()
			require.Len(t, records, 1)
			assert.Equal(t, interfaces.OutcomeKO, records[0].Outcome)
		})
	}
}

func TestStoreNeedsEveryOfferWhateverCopyCount(t *testing.T) {
	strategy := twoOfferStrategy()
	strategy.CopyCount = 1
	require.NoError(t, strategy.Validate())
	h := newHarness(t, strategy)
	faults := h.offers.fault("o2")
	faults.puts = []putBehavior{putFail, putFail, putFail}
	faults.putErr = interfaces.ErrBackendUnavailable
	dc := objectContext("obj-cc", interfaces.CategoryObject)

	_, err := h.dist.StoreInOffers(context.Background(), "default", dc, nil, bytesProvider([]byte("one copy is not enough")))
	require.Error(t, err)
	assert.ErrorIs(t, err, interfaces.ErrCantStoreObject)
	assert.False(t, h.offers.holds(t, "o1", dc.Ref()), "o1 copy is rolled back")
}

func TestStoreOverwritesRewritableCategory(t *testing.T) {
	h := newHarness(t, twoOfferStrategy())
	dc := objectContext("unit-1", interfaces.CategoryUnit)
	h.offers.seed(t, "o2", dc.Ref(), []byte("v1"))

	_, err := h.dist.StoreInOffers(context.Background(), "default", dc, nil, bytesProvider([]byte("v2")))
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), h.offers.read(t, "o2", dc.Ref()))
	assert.Equal(t, 0, h.offers.fault("o2").existsCalls, "rewritable categories skip the existence check")
}

func TestStoreDigestMismatchIsRetried(t *testing.T) {
	h := newHarness(t, twoOfferStrategy())
	h.offers.fault("o2").puts = []putBehavior{putCorrupt}
	dc := objectContext("obj-4", interfaces.CategoryObject)

	_, err := h.dist.StoreInOffers(context.Background(), "default", dc, nil, bytesProvider([]byte("bits rot")))
	require.NoError(t, err, "the corrupted copy is removed, so the retry is no conflict")
	assert.Equal(t, 2, h.offers.fault("o2").calls())

	records := h.audit.all()
	require.Len(t, records, 1)
	assert.Equal(t, []string{"o1 attempt 1 : OK", "o2 attempt 1 : KO", "o2 attempt 2 : OK"}, records[0].Agents)
}

func TestStoreRetryBound(t *testing.T) {
	h := newHarness(t, twoOfferStrategy())
	faults := h.offers.fault("o2")
	faults.puts = []putBehavior{putFail, putFail, putFail, putFail}
	faults.putErr = interfaces.ErrBackendUnavailable
	dc := objectContext("obj-5", interfaces.CategoryObject)

	_, err := h.dist.StoreInOffers(context.Background(), "default", dc, nil, bytesProvider([]byte("never lands")))
	require.Error(t, err)
	assert.ErrorIs(t, err, interfaces.ErrCantStoreObject)
	assert.Equal(t, 3, faults.calls(), "at most MaxAttempts writes per offer")
	assert.False(t, h.offers.holds(t, "o1", dc.Ref()))

	records := h.audit.all()
	require.Len(t, records, 1)
	assert.Equal(t, interfaces.OutcomeKO, records[0].Outcome)
	assert.Len(t, records[0].Agents, 4)
}

func TestStoreStopsOnFatalDriverErrors(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantErr error
	}{
		{name: "precondition failed", err: interfaces.ErrPreconditionFailed, wantErr: interfaces.ErrIllegalArgument},
		{name: "inconsistent state", err: interfaces.ErrInconsistentState, wantErr: interfaces.ErrCantStoreObject},
		{name: "do not retry", err: interfaces.ErrDoNotRetry, wantErr: interfaces.ErrCantStoreObject},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, twoOfferStrategy())
			faults := h.offers.fault("o2")
			faults.puts = []putBehavior{putFail, putFail, putFail}
			faults.putErr = tt.err
			dc := objectContext("obj-6", interfaces.CategoryUnit)

			_, err := h.dist.StoreInOffers(context.Background(), "default", dc, nil, bytesProvider([]byte("x")))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, 1, faults.calls())
			assert.False(t, h.offers.holds(t, "o1", dc.Ref()))
		})
	}
}

func TestStoreFanOutAtomicity(t *testing.T) {
	h := newHarness(t, twoOfferStrategy())
	errBroken := errors.New("workspace connection reset")
	broken := func(context.Context) (*interfaces.StreamAndInfo, error) {
		body := io.MultiReader(bytes.NewReader([]byte("partial content")), iotest.ErrReader(errBroken))
		return &interfaces.StreamAndInfo{Stream: io.NopCloser(body), Size: 1000}, nil
	}
	dc := objectContext("obj-7", interfaces.CategoryObject)

	_, err := h.dist.StoreInOffers(context.Background(), "default", dc, nil, broken)
	require.Error(t, err)
	assert.ErrorIs(t, err, interfaces.ErrCantStoreObject)
	assert.False(t, h.offers.holds(t, "o1", dc.Ref()))
	assert.False(t, h.offers.holds(t, "o2", dc.Ref()))
}

func TestStoreSourceChangedBetweenAttempts(t *testing.T) {
	h := newHarness(t, twoOfferStrategy())
	faults := h.offers.fault("o2")
	faults.puts = []putBehavior{putFail}
	faults.putErr = interfaces.ErrBackendUnavailable

	attempt := 0
	changing := func(context.Context) (*interfaces.StreamAndInfo, error) {
		attempt++
		data := []byte{byte('a' + attempt)}
		return &interfaces.StreamAndInfo{Stream: io.NopCloser(bytes.NewReader(data)), Size: 1}, nil
	}
	dc := objectContext("obj-8", interfaces.CategoryUnit)

	_, err := h.dist.StoreInOffers(context.Background(), "default", dc, nil, changing)
	require.Error(t, err)
	assert.ErrorIs(t, err, interfaces.ErrCantStoreObject)
	assert.Equal(t, 2, attempt, "inconsistent state stops retrying")
	assert.False(t, h.offers.holds(t, "o1", dc.Ref()))
	assert.False(t, h.offers.holds(t, "o2", dc.Ref()))
}

func TestStoreRejectsBadRequests(t *testing.T) {
	h := newHarness(t, twoOfferStrategy())
	ctx := context.Background()

	_, err := h.dist.StoreInOffers(ctx, "default", objectContext("x", "SPREADSHEET"), nil, bytesProvider(nil))
	assert.ErrorIs(t, err, interfaces.ErrIllegalArgument)

	_, err = h.dist.StoreInOffers(ctx, "default", objectContext("", interfaces.CategoryObject), nil, bytesProvider(nil))
	assert.ErrorIs(t, err, interfaces.ErrIllegalArgument)

	_, err = h.dist.StoreInOffers(ctx, "missing", objectContext("x", interfaces.CategoryObject), nil, bytesProvider(nil))
	assert.ErrorIs(t, err, interfaces.ErrStrategyNotFound)

	_, err = h.dist.StoreInOffers(ctx, "default", objectContext("x", interfaces.CategoryObject), []string{"o9"}, bytesProvider(nil))
	assert.ErrorIs(t, err, interfaces.ErrOfferNotFound)

	_, err = h.dist.StoreInAllOffers(ctx, "default", objectContext("x", interfaces.CategoryObject), interfaces.ObjectDescription{WorkspaceObjectURI: "ws/none"})
	assert.ErrorIs(t, err, interfaces.ErrObjectNotFound)

	assert.Zero(t, h.offers.connectCount("o1"), "no offer is contacted")
	assert.Empty(t, h.audit.all())
}

func TestStoreInSelectedOffers(t *testing.T) {
	h := newHarness(t, twoOfferStrategy())
	dc := objectContext("obj-9", interfaces.CategoryObject)

	res, err := h.dist.StoreInOffers(context.Background(), "default", dc, []string{"o2", "o2"}, bytesProvider([]byte("only o2")))
	require.NoError(t, err)
	assert.Equal(t, []string{"o2"}, res.OfferIDs)
	assert.False(t, h.offers.holds(t, "o1", dc.Ref()))
	assert.True(t, h.offers.holds(t, "o2", dc.Ref()))
}

func TestStoreEmptyObject(t *testing.T) {
	h := newHarness(t, twoOfferStrategy())
	dc := objectContext("empty", interfaces.CategoryObject)
	expected, err := cryptoutils.DigestBytes(cryptoutils.SHA512, nil)
	require.NoError(t, err)

	res, err := h.dist.StoreInOffers(context.Background(), "default", dc, nil, bytesProvider(nil))
	require.NoError(t, err)
	assert.Equal(t, expected, res.Digest)
	assert.Equal(t, int64(0), res.Size)
}

func TestNewFromConfig(t *testing.T) {
	deps := Dependencies{
		Strategies: staticStrategies{},
		Connector:  newTestOffers(t),
		Log:        testLogger(),
	}
	d, err := NewFromConfig(Config{}, deps)
	require.NoError(t, err)
	engine, ok := d.(*Distribution)
	require.True(t, ok)
	assert.Equal(t, DefaultConfig(), engine.Config())

	cfg := Config{ReadOnly: true}
	d, err = NewFromConfig(cfg, deps)
	require.NoError(t, err)
	_, ok = d.(*ReadOnlyShield)
	assert.True(t, ok)

	_, err = New(Config{DigestType: "MD5"}, deps)
	assert.ErrorIs(t, err, cryptoutils.ErrUnsupportedDigestType)

	_, err = New(Config{}, Dependencies{Connector: deps.Connector})
	assert.ErrorIs(t, err, interfaces.ErrIllegalArgument)
}
