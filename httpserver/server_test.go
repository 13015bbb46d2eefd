package httpserver

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ruteri/storage-distribution/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthAndDrain(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv, err := New(&api.HTTPServerConfig{
		ListenAddr:               "127.0.0.1:0",
		Log:                      logger,
		DrainDuration:            time.Millisecond,
		GracefulShutdownDuration: time.Second,
	}, NewHandler(nil, "", 0, logger), nil)
	require.NoError(t, err)
	router := srv.getRouter()

	get := func(path string) (int, string) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		return w.Code, w.Body.String()
	}

	code, _ := get("/livez")
	assert.Equal(t, http.StatusOK, code)
	code, _ = get("/readyz")
	assert.Equal(t, http.StatusOK, code)

	_, body := get("/drain")
	assert.JSONEq(t, `{"status":"draining"}`, body)
	_, body = get("/drain")
	assert.JSONEq(t, `{"status":"already draining"}`, body)
	code, _ = get("/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)

	_, body = get("/undrain")
	assert.JSONEq(t, `{"status":"ready"}`, body)
	code, _ = get("/readyz")
	assert.Equal(t, http.StatusOK, code)

	srv.Drain()
	code, _ = get("/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)

	code, _ = get("/debug/pprof/")
	assert.Equal(t, http.StatusNotFound, code, "pprof is disabled by default")
}
