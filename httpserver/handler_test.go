package httpserver

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/ruteri/storage-distribution/api"
	"github.com/ruteri/storage-distribution/distribution"
	"github.com/ruteri/storage-distribution/interfaces"
	"github.com/ruteri/storage-distribution/registry"
	"github.com/ruteri/storage-distribution/storage"
	"github.com/ruteri/storage-distribution/workspace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testReferential = `
offers:
  - {id: o1, uri: "mem://o1"}
  - {id: o2, uri: "mem://o2"}
  - {id: tape, uri: "mem://tape?async=true&staging_delay=0s"}
strategies:
  - id: default
    offers:
      - {id: o1, referent: true}
      - {id: o2, rank: 1}
      - {id: tape, rank: 2, async_read: true}
`

const objectPath = api.BasePath + "/strategies/default/objects/object/"

type testAPI struct {
	mux *chi.Mux
	ws  *workspace.FileWorkspace
}

func newTestAPI(t *testing.T, readOnly bool) *testAPI {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	reg, err := registry.Parse([]byte(testReferential))
	require.NoError(t, err)
	connector := storage.NewConnector(storage.NewOfferFactory(logger, nil), reg, logger)
	t.Cleanup(func() { connector.Close() })
	ws, err := workspace.NewFileWorkspace(t.TempDir(), logger)
	require.NoError(t, err)

	dist, err := distribution.NewFromConfig(distribution.Config{ReadOnly: readOnly}, distribution.Dependencies{
		Strategies: reg,
		Connector:  connector,
		Source:     ws,
		Log:        logger,
	})
	require.NoError(t, err)

	mux := chi.NewRouter()
	NewHandler(dist, t.TempDir(), 1024, logger).Routes(mux)
	return &testAPI{mux: mux, ws: ws}
}

func (a *testAPI) do(method, path string, body io.Reader, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	req.Header.Set(api.TenantHeader, "2")
	req.Header.Set(api.RequesterHeader, "tests")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	a.mux.ServeHTTP(w, req)
	return w
}

func jsonBody(t *testing.T, v any) io.Reader {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(data)
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestUploadReadAndDelete(t *testing.T) {
	a := newTestAPI(t, false)

	w := a.do(http.MethodPut, objectPath+"obj-1", strings.NewReader("object bytes"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	stored := decode[interfaces.StoredInfoResult](t, w)
	assert.Equal(t, "obj-1", stored.ObjectID)
	assert.Equal(t, []string{"o1", "o2", "tape"}, stored.OfferIDs)
	assert.Equal(t, int64(12), stored.Size)

	w = a.do(http.MethodGet, objectPath+"obj-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "object bytes", w.Body.String())
	assert.Equal(t, "o1", w.Header().Get(api.OfferIDHeader))
	assert.Equal(t, "12", w.Header().Get("Content-Length"))

	w = a.do(http.MethodGet, objectPath+"obj-1/exists", nil, api.OfferIDsHeader, "o2, unknown")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]bool{"o2": true, "unknown": false}, decode[map[string]bool](t, w))

	w = a.do(http.MethodGet, objectPath+"obj-1/info", nil)
	require.Equal(t, http.StatusOK, w.Code)
	info := decode[map[string]*interfaces.ObjectMetadata](t, w)
	require.NotNil(t, info["o2"])
	assert.Equal(t, stored.Digest, info["o2"].Digest)

	w = a.do(http.MethodPut, objectPath+"obj-1", strings.NewReader("other bytes"))
	assert.Equal(t, http.StatusConflict, w.Code)

	w = a.do(http.MethodDelete, objectPath+"obj-1", nil, api.OfferIDsHeader, "o1")
	require.Equal(t, http.StatusOK, w.Code)
	deleted := decode[interfaces.DeleteResult](t, w)
	assert.Equal(t, map[string]interfaces.DeleteOutcome{"o1": interfaces.DeleteOK}, deleted.Outcomes)

	w = a.do(http.MethodGet, objectPath+"obj-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "o2", w.Header().Get(api.OfferIDHeader), "reads fall back by rank")

	w = a.do(http.MethodDelete, objectPath+"obj-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = a.do(http.MethodGet, objectPath+"obj-1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.NotEmpty(t, decode[api.ErrorResponse](t, w).Error)
}

func TestUploadToSelectedOffersAndCopy(t *testing.T) {
	a := newTestAPI(t, false)

	w := a.do(http.MethodPut, objectPath+"obj-2", strings.NewReader("payload"), api.OfferIDsHeader, "o1")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = a.do(http.MethodPost, objectPath+"obj-2/copy", jsonBody(t, api.CopyRequest{SourceOfferID: "o1", DestinationOfferID: "o2"}))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, []string{"o2"}, decode[interfaces.StoredInfoResult](t, w).OfferIDs)

	w = a.do(http.MethodGet, objectPath+"obj-2?offer=o2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "payload", w.Body.String())
}

func TestStoreFromWorkspaceAndBulk(t *testing.T) {
	a := newTestAPI(t, false)
	_, err := a.ws.Put(2, interfaces.ObjectDescription{WorkspaceContainer: "ws", WorkspaceObjectURI: "a"}, strings.NewReader("first"))
	require.NoError(t, err)

	w := a.do(http.MethodPost, objectPath+"a", jsonBody(t, api.StoreRequest{WorkspaceContainer: "ws", WorkspaceObjectURI: "a"}))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = a.do(http.MethodPost, objectPath+"missing", jsonBody(t, api.StoreRequest{WorkspaceContainer: "ws", WorkspaceObjectURI: "missing"}))
	assert.Equal(t, http.StatusNotFound, w.Code)

	_, err = a.ws.Put(2, interfaces.ObjectDescription{WorkspaceContainer: "ws", WorkspaceObjectURI: "b"}, strings.NewReader("second"))
	require.NoError(t, err)
	w = a.do(http.MethodPost, api.BasePath+"/strategies/default/bulk", jsonBody(t, api.BulkStoreRequest{
		Category:            interfaces.DataCategory("unit"),
		WorkspaceContainer:  "ws",
		ObjectIDs:           []string{"b", "c"},
		WorkspaceObjectURIs: []string{"b", "c"},
	}))
	assert.Equal(t, http.StatusNotFound, w.Code)
	partial := decode[interfaces.BulkStoreResponse](t, w)
	require.Len(t, partial.Objects, 1)
	assert.Equal(t, "b", partial.Objects[0].ObjectID)

	w = a.do(http.MethodPost, api.BasePath+"/strategies/default/info/unit", jsonBody(t, api.BatchInfoRequest{ObjectIDs: []string{"b", "c"}}))
	require.Equal(t, http.StatusOK, w.Code)
	batch := decode[[]interfaces.BatchObjectInformation](t, w)
	require.Len(t, batch, 2)
	assert.NotEmpty(t, batch[0].Digest("o1"))
	assert.Empty(t, batch[1].Digest("o1"))
}

func TestListingLogsAndCapacity(t *testing.T) {
	a := newTestAPI(t, false)
	for _, id := range []string{"x1", "x2", "x3"} {
		w := a.do(http.MethodPut, objectPath+id, strings.NewReader(id), api.OfferIDsHeader, "o1,o2")
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	}

	w := a.do(http.MethodGet, api.BasePath+"/strategies/default/containers/object?limit=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	page := decode[interfaces.ObjectPage](t, w)
	assert.Len(t, page.Entries, 2)
	assert.Equal(t, "x2", page.NextCursor)

	w = a.do(http.MethodGet, api.BasePath+"/strategies/default/containers/object?cursor=x2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[interfaces.ObjectPage](t, w).Entries, 1)

	w = a.do(http.MethodGet, api.BasePath+"/strategies/default/logs/object?order=desc&limit=1&offer=o2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	logs := decode[[]interfaces.OfferLog](t, w)
	require.Len(t, logs, 1)
	assert.Equal(t, "x3", logs[0].FileName)

	w = a.do(http.MethodGet, api.BasePath+"/strategies/default/capacity", nil)
	require.Equal(t, http.StatusOK, w.Code)
	capacity := decode[[]interfaces.OfferCapacity](t, w)
	require.Len(t, capacity, 3)
	assert.Equal(t, int64(6), capacity[0].UsedSpace)

	w = a.do(http.MethodGet, api.BasePath+"/strategies/default/containers/object?limit=many", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReadOrders(t *testing.T) {
	a := newTestAPI(t, false)
	w := a.do(http.MethodPut, objectPath+"cold", strings.NewReader("on tape"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = a.do(http.MethodGet, objectPath+"cold?offer=tape", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code, "cold reads need a read order")

	w = a.do(http.MethodPost, api.BasePath+"/strategies/default/offers/tape/read-orders", jsonBody(t, api.ReadOrderRequest{Category: "object", ObjectIDs: []string{"cold"}}))
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	order := decode[interfaces.ReadOrder](t, w)
	require.NotEmpty(t, order.OrderID)

	w = a.do(http.MethodGet, api.BasePath+"/strategies/default/offers/tape/read-orders/"+order.OrderID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[api.ReadOrderStatus](t, w).Complete)

	w = a.do(http.MethodGet, objectPath+"cold?offer=tape", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "on tape", w.Body.String())

	w = a.do(http.MethodPost, api.BasePath+"/strategies/default/offers/o1/read-orders", jsonBody(t, api.ReadOrderRequest{Category: "object", ObjectIDs: []string{"cold"}}))
	assert.Equal(t, http.StatusNotImplemented, w.Code)
}

func TestRequestErrors(t *testing.T) {
	a := newTestAPI(t, false)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{name: "unknown strategy", method: http.MethodGet, path: api.BasePath + "/strategies/nope/objects/object/x", status: http.StatusNotFound},
		{name: "unknown category", method: http.MethodGet, path: api.BasePath + "/strategies/default/objects/pictures/x", status: http.StatusBadRequest},
		{name: "invalid json", method: http.MethodPost, path: objectPath + "x", body: "{", status: http.StatusBadRequest},
		{name: "object too large", method: http.MethodPut, path: objectPath + "x", body: strings.Repeat("z", 2048), status: http.StatusBadRequest},
		{name: "unknown offer", method: http.MethodGet, path: objectPath + "x?offer=o9", status: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := a.do(tt.method, tt.path, strings.NewReader(tt.body))
			assert.Equal(t, tt.status, w.Code, w.Body.String())
		})
	}

	req := httptest.NewRequest(http.MethodGet, objectPath+"x", nil)
	w := httptest.NewRecorder()
	a.mux.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code, "the tenant header is required")
}

func TestReadOnlyDeployment(t *testing.T) {
	a := newTestAPI(t, true)

	w := a.do(http.MethodPut, objectPath+"x", strings.NewReader("data"))
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = a.do(http.MethodDelete, objectPath+"x", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = a.do(http.MethodGet, objectPath+"x/exists", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{interfaces.ErrReadOnly, http.StatusForbidden},
		{interfaces.ErrIllegalState, http.StatusInternalServerError},
		{interfaces.ErrStrategyNotFound, http.StatusNotFound},
		{interfaces.ErrObjectAlreadyExists, http.StatusConflict},
		{interfaces.ErrPreconditionFailed, http.StatusBadRequest},
		{interfaces.ErrOperationUnsupported, http.StatusNotImplemented},
		{interfaces.ErrCantStoreObject, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.status, statusFor(tt.err), tt.err.Error())
	}
}
