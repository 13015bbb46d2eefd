package distribution

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ruteri/storage-distribution/cryptoutils"
	"github.com/ruteri/storage-distribution/interfaces"
	"github.com/ruteri/storage-distribution/storage"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	// badger pulls in glog, whose flush daemon starts at init.
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("github.com/golang/glog.(*loggingT).flushDaemon"))
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testConfig keeps waves short so timeouts are exercised quickly.
func testConfig() Config {
	return Config{
		MaxAttempts:       3,
		MillisecondsPerKB: 1,
		MinimumTimeout:    300 * time.Millisecond,
		MaximumTimeout:    300 * time.Millisecond,
		CancelGracePeriod: 200 * time.Millisecond,
		TransferWorkers:   8,
		BatchWorkers:      4,
		BatchTimeout:      time.Second,
		DigestType:        cryptoutils.SHA512,
		ChunkSize:         4,
		BufferedChunks:    1,
	}
}

type staticStrategies map[string]*interfaces.Strategy

func (s staticStrategies) GetStrategy(_ context.Context, strategyID string) (*interfaces.Strategy, error) {
	strategy, ok := s[strategyID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrStrategyNotFound, strategyID)
	}
	return strategy, nil
}

func strategyOf(id string, offers ...interfaces.OfferReference) *interfaces.Strategy {
	return &interfaces.Strategy{ID: id, CopyCount: len(offers), Offers: offers}
}

// putBehavior scripts one PutObject call of a faulty offer.
type putBehavior int

const (
	putPass putBehavior = iota
	// putHang consumes the body, then never acknowledges until cancelled.
	putHang
	putFail
	putCorrupt
)

// offerFaults injects failures into one offer. Scripts are consumed one
// entry per call; calls past the end of a script pass through.
type offerFaults struct {
	mu          sync.Mutex
	puts        []putBehavior
	putErr      error
	putCalls    int
	existsErr   error
	existsCalls int
	getErr      error
	removeErr   error
	capacityErr error
}

func (f *offerFaults) nextPut() putBehavior {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.putCalls++
	if len(f.puts) == 0 {
		return putPass
	}
	b := f.puts[0]
	f.puts = f.puts[1:]
	return b
}

func (f *offerFaults) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.putCalls
}

// testOffers is a connector over memory offers with fault injection and a
// record of every offer it was asked to connect to.
type testOffers struct {
	*storage.Connector
	offers map[string]storage.Driver

	mu       sync.Mutex
	faults   map[string]*offerFaults
	connects map[string]int
}

func newTestOffers(t *testing.T, ids ...string) *testOffers {
	t.Helper()
	to := &testOffers{
		Connector: storage.NewConnector(storage.NewOfferFactory(testLogger(), nil), nil, testLogger()),
		offers:    make(map[string]storage.Driver),
		faults:    make(map[string]*offerFaults),
		connects:  make(map[string]int),
	}
	for _, id := range ids {
		to.add(storage.NewMemoryOffer(id, 0, testLogger()))
	}
	t.Cleanup(func() { require.NoError(t, to.Close()) })
	return to
}

func (to *testOffers) add(d storage.Driver) {
	to.offers[d.ID()] = d
	to.Register(d)
}

func (to *testOffers) fault(offerID string) *offerFaults {
	to.mu.Lock()
	defer to.mu.Unlock()
	f, ok := to.faults[offerID]
	if !ok {
		f = &offerFaults{}
		to.faults[offerID] = f
	}
	return f
}

func (to *testOffers) connectCount(offerID string) int {
	to.mu.Lock()
	defer to.mu.Unlock()
	return to.connects[offerID]
}

func (to *testOffers) Connect(ctx context.Context, offerID string) (interfaces.OfferConnection, error) {
	to.mu.Lock()
	to.connects[offerID]++
	to.mu.Unlock()
	conn, err := to.Connector.Connect(ctx, offerID)
	if err != nil {
		return nil, err
	}
	return &faultyConn{OfferConnection: conn, f: to.fault(offerID)}, nil
}

// seed writes data to an offer directly, bypassing the engine.
func (to *testOffers) seed(t *testing.T, offerID string, ref interfaces.ObjectRef, data []byte) {
	t.Helper()
	_, err := to.offers[offerID].PutObject(context.Background(), interfaces.PutObjectRequest{
		Ref:        ref,
		DigestType: cryptoutils.SHA512,
		Size:       int64(len(data)),
		Body:       bytes.NewReader(data),
	})
	require.NoError(t, err)
}

func (to *testOffers) holds(t *testing.T, offerID string, ref interfaces.ObjectRef) bool {
	t.Helper()
	exists, err := to.offers[offerID].ObjectExists(context.Background(), ref)
	require.NoError(t, err)
	return exists
}

func (to *testOffers) read(t *testing.T, offerID string, ref interfaces.ObjectRef) []byte {
	t.Helper()
	res, err := to.offers[offerID].GetObject(context.Background(), ref)
	require.NoError(t, err)
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return data
}

type faultyConn struct {
	interfaces.OfferConnection
	f *offerFaults

	corrupt bool
}

func (c *faultyConn) PutObject(ctx context.Context, req interfaces.PutObjectRequest) (*interfaces.PutObjectResult, error) {
	switch c.f.nextPut() {
	case putHang:
		if _, err := io.Copy(io.Discard, req.Body); err != nil {
			return nil, err
		}
		<-ctx.Done()
		return nil, ctx.Err()
	case putFail:
		io.Copy(io.Discard, req.Body)
		return nil, c.f.putErr
	case putCorrupt:
		c.corrupt = true
	}
	return c.OfferConnection.PutObject(ctx, req)
}

func (c *faultyConn) CheckObjectDigest(ctx context.Context, ref interfaces.ObjectRef, dt cryptoutils.DigestType, expected string) (bool, error) {
	if c.corrupt {
		return false, nil
	}
	return c.OfferConnection.CheckObjectDigest(ctx, ref, dt, expected)
}

func (c *faultyConn) ObjectExists(ctx context.Context, ref interfaces.ObjectRef) (bool, error) {
	c.f.mu.Lock()
	c.f.existsCalls++
	err := c.f.existsErr
	c.f.mu.Unlock()
	if err != nil {
		return false, err
	}
	return c.OfferConnection.ObjectExists(ctx, ref)
}

func (c *faultyConn) GetObject(ctx context.Context, ref interfaces.ObjectRef) (*interfaces.GetObjectResult, error) {
	if c.f.getErr != nil {
		return nil, c.f.getErr
	}
	return c.OfferConnection.GetObject(ctx, ref)
}

func (c *faultyConn) RemoveObject(ctx context.Context, ref interfaces.ObjectRef) (bool, error) {
	if c.f.removeErr != nil {
		return false, c.f.removeErr
	}
	return c.OfferConnection.RemoveObject(ctx, ref)
}

func (c *faultyConn) GetCapacity(ctx context.Context, tenant int) (*interfaces.Capacity, error) {
	if c.f.capacityErr != nil {
		return nil, c.f.capacityErr
	}
	return c.OfferConnection.GetCapacity(ctx, tenant)
}

// recordingAudit keeps every appended record.
type recordingAudit struct {
	mu      sync.Mutex
	records []interfaces.StorageLogbookParameters
}

func (a *recordingAudit) Append(_ context.Context, record *interfaces.StorageLogbookParameters) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, *record)
	return nil
}

func (a *recordingAudit) all() []interfaces.StorageLogbookParameters {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]interfaces.StorageLogbookParameters(nil), a.records...)
}

// memorySource serves workspace objects keyed by their URI.
type memorySource struct {
	mu      sync.Mutex
	objects map[string][]byte
	opens   int
}

func (s *memorySource) Open(_ context.Context, _ int, desc interfaces.ObjectDescription) (*interfaces.StreamAndInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opens++
	data, ok := s.objects[desc.WorkspaceObjectURI]
	if !ok {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrObjectNotFound, desc.WorkspaceObjectURI)
	}
	return &interfaces.StreamAndInfo{Stream: io.NopCloser(bytes.NewReader(data)), Size: int64(len(data))}, nil
}

func bytesProvider(data []byte) interfaces.StreamProvider {
	return func(context.Context) (*interfaces.StreamAndInfo, error) {
		return &interfaces.StreamAndInfo{Stream: io.NopCloser(bytes.NewReader(data)), Size: int64(len(data))}, nil
	}
}

type harness struct {
	dist   *Distribution
	offers *testOffers
	audit  *recordingAudit
	source *memorySource
}

func newHarness(t *testing.T, strategy *interfaces.Strategy) *harness {
	t.Helper()
	ids := make([]string, 0, len(strategy.Offers))
	for _, o := range strategy.Offers {
		ids = append(ids, o.ID)
	}
	h := &harness{
		offers: newTestOffers(t, ids...),
		audit:  &recordingAudit{},
		source: &memorySource{objects: map[string][]byte{}},
	}
	dist, err := New(testConfig(), Dependencies{
		Strategies: staticStrategies{strategy.ID: strategy},
		Connector:  h.offers,
		Source:     h.source,
		Audit:      h.audit,
		Log:        testLogger(),
	})
	require.NoError(t, err)
	h.dist = dist
	return h
}

func objectContext(id string, category interfaces.DataCategory) interfaces.DataContext {
	return interfaces.DataContext{ObjectID: id, Category: category, Requester: "ingest", Tenant: 2}
}
