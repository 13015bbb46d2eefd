package logbook

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/ruteri/storage-distribution/cryptoutils"
	"github.com/ruteri/storage-distribution/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(objectID string, outcome interfaces.LogbookOutcome) *interfaces.StorageLogbookParameters {
	return &interfaces.StorageLogbookParameters{
		EventType:       "STORAGE_STORE",
		EventDateTime:   time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Tenant:          2,
		ObjectID:        objectID,
		Category:        interfaces.CategoryObject,
		Digest:          "abcd",
		DigestAlgorithm: cryptoutils.SHA512,
		Size:            42,
		Agents:          []string{"o1 attempt 1 : OK"},
		Requester:       "ingest",
		Outcome:         outcome,
	}
}

func TestFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit", "storage.jsonl")
	sink, err := OpenFileSink(path)
	require.NoError(t, err)

	require.NoError(t, sink.Append(context.Background(), record("a", interfaces.OutcomeOK)))
	require.NoError(t, sink.Append(context.Background(), record("b", interfaces.OutcomeKO)))
	require.NoError(t, sink.Close())
	require.NoError(t, sink.Close())
	assert.ErrorIs(t, sink.Append(context.Background(), record("c", interfaces.OutcomeOK)), interfaces.ErrIllegalState)

	sink, err = OpenFileSink(path)
	require.NoError(t, err)
	require.NoError(t, sink.Append(context.Background(), record("c", interfaces.OutcomeOK)))
	require.NoError(t, sink.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	var ids []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec interfaces.StorageLogbookParameters
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		ids = append(ids, rec.ObjectID)
	}
	require.NoError(t, scanner.Err())
	assert.Equal(t, []string{"a", "b", "c"}, ids, "records are append-only across reopen")
}

func TestSlogSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewSlogSink(slog.New(slog.NewJSONHandler(&buf, nil)))
	require.NoError(t, sink.Append(context.Background(), record("a", interfaces.OutcomeKO)))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "WARN", line["level"])
	assert.Equal(t, "a", line["object"])
	assert.Equal(t, "logbook", line["component"])
	assert.Equal(t, "KO", line["outcome"])
}

type failingSink struct{ err error }

func (f failingSink) Append(context.Context, *interfaces.StorageLogbookParameters) error {
	return f.err
}

func TestMulti(t *testing.T) {
	errBroken := errors.New("broken")
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	file, err := OpenFileSink(path)
	require.NoError(t, err)
	defer file.Close()

	err = Multi{failingSink{errBroken}, file}.Append(context.Background(), record("a", interfaces.OutcomeOK))
	assert.ErrorIs(t, err, errBroken)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"object_id":"a"`, "later sinks still receive the record")
}

func TestAlertLogger(t *testing.T) {
	var buf bytes.Buffer
	reg := prometheus.NewRegistry()
	alerts := NewAlertLogger(slog.New(slog.NewJSONHandler(&buf, nil)), "test", reg)

	alerts.CreateAlert(context.Background(), interfaces.AlertCritical, "write on read-only site")
	alerts.CreateAlert(context.Background(), interfaces.AlertCritical, "again")
	alerts.CreateAlert(context.Background(), interfaces.AlertWarning, "slow offer")

	assert.Equal(t, 2.0, testutil.ToFloat64(alerts.alerts.WithLabelValues("CRITICAL")))
	assert.Equal(t, 1.0, testutil.ToFloat64(alerts.alerts.WithLabelValues("WARNING")))
	assert.Contains(t, buf.String(), `"level":"ERROR"`)
	assert.Contains(t, buf.String(), "write on read-only site")

	NewAlertLogger(slog.New(slog.NewJSONHandler(&buf, nil)), "test", nil).CreateAlert(context.Background(), interfaces.AlertError, "no metrics")
}
