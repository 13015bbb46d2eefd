package distribution

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ruteri/storage-distribution/cryptoutils"
	"github.com/ruteri/storage-distribution/interfaces"
	"github.com/ruteri/storage-distribution/metrics"
)

// Dependencies are the collaborators of the distribution engine. Strategies
// and Connector are required; Source is required by StoreInAllOffers and
// BulkStoreFromSource only.
type Dependencies struct {
	Strategies interfaces.StrategyProvider
	Connector  interfaces.OfferConnector
	Source     interfaces.ObjectSource
	Audit      interfaces.AuditSink
	Alerts     interfaces.AlertService
	Metrics    *metrics.DistributionMetrics
	Log        *slog.Logger
}

// Distribution replicates objects across the offers of a strategy and reads,
// checks and deletes them there.
type Distribution struct {
	cfg        Config
	strategies interfaces.StrategyProvider
	connector  interfaces.OfferConnector
	source     interfaces.ObjectSource
	audit      interfaces.AuditSink
	metrics    *metrics.DistributionMetrics
	log        *slog.Logger

	transfers *pool
	batch     *pool
}

var _ interfaces.StorageDistribution = (*Distribution)(nil)

// New creates the distribution engine. Zero config fields take their defaults.
func New(cfg Config, deps Dependencies) (*Distribution, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Strategies == nil {
		return nil, fmt.Errorf("%w: strategy provider is required", interfaces.ErrIllegalArgument)
	}
	if deps.Connector == nil {
		return nil, fmt.Errorf("%w: offer connector is required", interfaces.ErrIllegalArgument)
	}
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	return &Distribution{
		cfg:        cfg,
		strategies: deps.Strategies,
		connector:  deps.Connector,
		source:     deps.Source,
		audit:      deps.Audit,
		metrics:    deps.Metrics,
		log:        log,
		transfers:  newPool(cfg.TransferWorkers),
		batch:      newPool(cfg.BatchWorkers),
	}, nil
}

// NewFromConfig creates the engine and wraps it in a ReadOnlyShield when
// cfg.ReadOnly is set.
func NewFromConfig(cfg Config, deps Dependencies) (interfaces.StorageDistribution, error) {
	d, err := New(cfg, deps)
	if err != nil {
		return nil, err
	}
	if cfg.ReadOnly {
		return NewReadOnlyShield(d, deps.Alerts, d.log), nil
	}
	return d, nil
}

// Config returns the effective configuration.
func (d *Distribution) Config() Config {
	return d.cfg
}

func (d *Distribution) strategy(ctx context.Context, strategyID string) (*interfaces.Strategy, error) {
	s, err := d.strategies.GetStrategy(ctx, strategyID)
	if err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", interfaces.ErrTechnical, err)
	}
	return s, nil
}

// targetOffers returns the enabled strategy offers named by offerIDs, or all
// of them when offerIDs is empty. Unknown offers fail the whole request.
func targetOffers(s *interfaces.Strategy, offerIDs []string) ([]string, error) {
	if len(offerIDs) == 0 {
		return s.OfferIDs(), nil
	}
	seen := make(map[string]bool, len(offerIDs))
	out := make([]string, 0, len(offerIDs))
	for _, id := range offerIDs {
		if _, ok := s.Offer(id); !ok {
			return nil, fmt.Errorf("%w: %s is not an enabled offer of strategy %s", interfaces.ErrOfferNotFound, id, s.ID)
		}
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out, nil
}

// StoreInAllOffers copies a workspace object to every offer of the strategy.
func (d *Distribution) StoreInAllOffers(ctx context.Context, strategyID string, dc interfaces.DataContext, desc interfaces.ObjectDescription) (*interfaces.StoredInfoResult, error) {
	if d.source == nil {
		return nil, fmt.Errorf("%w: no object source configured", interfaces.ErrIllegalState)
	}
	source := func(ctx context.Context) (*interfaces.StreamAndInfo, error) {
		return d.source.Open(ctx, dc.Tenant, desc)
	}
	return d.store(ctx, strategyID, dc, nil, source, EventStore, desc.WorkspaceObjectURI)
}

// StoreInOffers copies the stream returned by source to the given offers, or
// to every strategy offer when offerIDs is empty. source is called once per
// attempt.
func (d *Distribution) StoreInOffers(ctx context.Context, strategyID string, dc interfaces.DataContext, offerIDs []string, source interfaces.StreamProvider) (*interfaces.StoredInfoResult, error) {
	if source == nil {
		return nil, fmt.Errorf("%w: stream provider is nil", interfaces.ErrIllegalArgument)
	}
	return d.store(ctx, strategyID, dc, offerIDs, source, EventStore, "")
}

func (d *Distribution) store(ctx context.Context, strategyID string, dc interfaces.DataContext, offerIDs []string, source interfaces.StreamProvider, event, description string) (*interfaces.StoredInfoResult, error) {
	if err := dc.Validate(); err != nil {
		return nil, err
	}
	strategy, err := d.strategy(ctx, strategyID)
	if err != nil {
		return nil, err
	}
	targets, err := targetOffers(strategy, offerIDs)
	if err != nil {
		return nil, err
	}
	return d.storeInOffers(ctx, storeOp{
		strategy:    strategy,
		dc:          dc,
		offerIDs:    targets,
		source:      source,
		event:       event,
		description: description,
	})
}

// storeOp is one store operation handed to the coordinator.
type storeOp struct {
	strategy    *interfaces.Strategy
	dc          interfaces.DataContext
	offerIDs    []string
	source      interfaces.StreamProvider
	event       string
	description string
	// expectedDigest, when set, is the digest every copy must have.
	expectedDigest string
}

// storeInOffers runs write waves until every target holds a verified copy,
// attempts are exhausted or a failure forbids retrying. A partial result is
// never returned: on failure the verified copies are rolled back.
func (d *Distribution) storeInOffers(ctx context.Context, op storeOp) (*interfaces.StoredInfoResult, error) {
	started := time.Now()
	strategy, dc, offerIDs, source, event := op.strategy, op.dc, op.offerIDs, op.source, op.event
	ref := dc.Ref()
	tracker := newOffersToCopyIn(offerIDs)
	audit := newAuditRecord(event, dc)
	audit.params.DigestAlgorithm = d.cfg.DigestType

	log := d.log.With(
		slog.String("strategy", strategy.ID),
		slog.String("object", ref.String()),
		slog.String("event", event))

	var (
		digest  = op.expectedDigest
		size    int64
		retry   = true
		lastErr error
	)
	for attempt := 1; attempt <= d.cfg.MaxAttempts && retry && len(tracker.koOffers()) > 0; attempt++ {
		stream, err := source(ctx)
		if err != nil {
			if attempt == 1 {
				if errors.Is(err, interfaces.ErrObjectNotFound) {
					return nil, err
				}
				return nil, fmt.Errorf("%w: opening source of %s: %w", interfaces.ErrTechnical, ref, err)
			}
			lastErr = fmt.Errorf("opening source: %w", err)
			log.Warn("Source unavailable for retry", "err", err, slog.Int("attempt", attempt))
			break
		}
		if stream == nil || stream.Stream == nil {
			lastErr = fmt.Errorf("%w: source returned no stream", interfaces.ErrTechnical)
			break
		}

		for _, res := range d.storeWave(ctx, ref, stream, tracker.koOffers()) {
			ok := res.succeeded()
			if ok && digest != "" && !cryptoutils.EqualDigests(digest, res.digest) {
				// The source served different bytes than an earlier attempt
				// or than the expected digest.
				d.removeCopy(ctx, res.offerID, ref)
				res.err = fmt.Errorf("%w: source digest %s, expected %s", interfaces.ErrInconsistentState, res.digest, digest)
				res.status = http.StatusInternalServerError
				ok = false
			}

			audit.attempt(res.offerID, attempt, ok)
			d.metrics.ObserveAttempt(res.offerID, ok)
			if ok {
				tracker.koToOk(res.offerID)
				digest = res.digest
				size = res.put.Size
				log.Debug("Offer holds a verified copy", slog.String("offer", res.offerID), slog.Int("attempt", attempt))
				continue
			}

			tracker.setStatus(res.offerID, res.status)
			lastErr = res.err
			if stopsRetries(res.err) {
				retry = false
			}
			log.Warn("Offer write failed",
				"err", res.err,
				slog.String("offer", res.offerID),
				slog.Int("attempt", attempt),
				slog.Int("status", res.status))
		}

		if err := ctx.Err(); err != nil {
			lastErr = err
			break
		}
	}

	audit.params.Digest = digest
	audit.params.Size = size

	if ko := tracker.koOffers(); len(ko) > 0 {
		d.rollback(ctx, ref, tracker.okOffers())

		sentinel := interfaces.ErrCantStoreObject
		switch {
		case tracker.hasStatus(http.StatusConflict):
			sentinel = interfaces.ErrObjectAlreadyExists
		case tracker.hasStatus(http.StatusPreconditionFailed):
			sentinel = interfaces.ErrIllegalArgument
		}
		err := fmt.Errorf("%w: %s failed on offers %v", sentinel, ref, ko)
		if lastErr != nil {
			err = fmt.Errorf("%w: %v", err, lastErr)
		}
		d.appendAudit(ctx, audit, interfaces.OutcomeKO, err.Error())
		d.metrics.ObserveOperation(event, false, started)
		log.Error("Store failed", "err", err)
		return nil, err
	}

	d.appendAudit(ctx, audit, interfaces.OutcomeOK, "")
	d.metrics.ObserveOperation(event, true, started)
	d.metrics.AddBytesStored(size)
	log.Info("Object stored",
		slog.Int("offers", len(offerIDs)),
		slog.Int64("size", size),
		slog.Duration("duration", time.Since(started)))

	now := time.Now().UTC()
	return &interfaces.StoredInfoResult{
		ObjectID:         dc.ObjectID,
		Description:      op.description,
		Digest:           digest,
		DigestType:       d.cfg.DigestType,
		Strategy:         strategy.ID,
		OfferIDs:         tracker.okOffers(),
		OfferStatus:      tracker.statuses(),
		Size:             size,
		CreationTime:     now,
		LastModifiedTime: now,
	}, nil
}

// storeWave fans one stream out to offers and collects one result per offer,
// in the order of offers. Every task has reported or been abandoned after
// the grace period when it returns.
func (d *Distribution) storeWave(ctx context.Context, ref interfaces.ObjectRef, stream *interfaces.StreamAndInfo, offers []string) []taskResult {
	fo, err := newFanOut(stream.Stream, len(offers), d.cfg.DigestType, d.cfg.ChunkSize, d.cfg.BufferedChunks)
	if err != nil {
		stream.Stream.Close()
		err = fmt.Errorf("%w: %w", interfaces.ErrDoNotRetry, err)
		out := make([]taskResult, len(offers))
		for i, id := range offers {
			out[i] = taskResult{offerID: id, status: http.StatusInternalServerError, objectID: ref.ObjectID, err: err}
		}
		return out
	}

	timeout := d.cfg.transferTimeout(stream.SizeOrDefault())
	waveCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	results := make(chan taskResult, len(offers))
	readers := fo.Readers()
	tasks := make([]*transferTask, len(offers))
	runs := make([]func(), len(offers))
	for i, offerID := range offers {
		task := &transferTask{
			connector:      d.connector,
			offerID:        offerID,
			ref:            ref,
			digestType:     d.cfg.DigestType,
			size:           stream.Size,
			body:           readers[i],
			digest:         fo.Digest,
			cleanupTimeout: d.cfg.CancelGracePeriod,
			log:            d.log,
		}
		tasks[i] = task
		runs[i] = func() {
			d.metrics.TransferStarted()
			defer d.metrics.TransferFinished()
			results <- task.run(waveCtx)
		}
	}
	d.transfers.submitGroup(waveCtx, runs, func(i int, err error) {
		tasks[i].body.Close()
		results <- tasks[i].failed(err)
	})

	received := make(map[string]taskResult, len(offers))
	deadline := waveCtx.Done()
	var grace <-chan time.Time
collect:
	for len(received) < len(offers) {
		select {
		case res := <-results:
			received[res.offerID] = res
		case <-deadline:
			deadline = nil
			cancel()
			timer := time.NewTimer(d.cfg.CancelGracePeriod)
			defer timer.Stop()
			grace = timer.C
			d.log.Warn("Write wave cancelled",
				"err", waveCtx.Err(),
				slog.String("object", ref.String()),
				slog.Duration("timeout", timeout),
				slog.Int("pending", len(offers)-len(received)))
		case <-grace:
			break collect
		}
	}

	fo.abort()
	if err := stream.Stream.Close(); err != nil {
		d.log.Debug("Failed to close source stream", "err", err, slog.String("object", ref.String()))
	}
	d.waitFanOut(fo)

	out := make([]taskResult, 0, len(offers))
	for _, id := range offers {
		res, ok := received[id]
		switch {
		case !ok:
			res = taskResult{
				offerID:  id,
				status:   http.StatusInternalServerError,
				objectID: ref.ObjectID,
				err:      fmt.Errorf("%w: offer %s did not report within %s", context.DeadlineExceeded, id, timeout+d.cfg.CancelGracePeriod),
			}
		case res.err == nil && !res.succeeded():
			res.status = http.StatusInternalServerError
			res.err = fmt.Errorf("%w: offer %s task returned no result", interfaces.ErrTechnical, id)
		}
		out = append(out, res)
	}
	return out
}

// waitFanOut waits for the pump to leave the source, bounded by the grace
// period for sources that ignore Close.
func (d *Distribution) waitFanOut(fo *fanOut) {
	timer := time.NewTimer(d.cfg.CancelGracePeriod)
	defer timer.Stop()
	select {
	case <-fo.done:
	case <-timer.C:
		d.log.Warn("Source read still blocked after cancellation")
	}
}

// rollback removes the verified copies of a failed store. Failures are
// logged; they never change the outcome.
func (d *Distribution) rollback(ctx context.Context, ref interfaces.ObjectRef, offers []string) {
	for _, offerID := range offers {
		d.removeCopy(ctx, offerID, ref)
		d.metrics.ObserveRollback(offerID)
	}
}

func (d *Distribution) removeCopy(ctx context.Context, offerID string, ref interfaces.ObjectRef) {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.MinimumTimeout)
	defer cancel()
	task := &deleteTask{connector: d.connector, offerID: offerID, ref: ref}
	if res := task.run(cleanupCtx); !res.outcome.Succeeded() {
		d.log.Warn("Failed to remove copy",
			"err", res.err,
			slog.String("offer", offerID),
			slog.String("object", ref.String()))
	}
}

// closeWith returns a ReadCloser that closes body and then conn.
func closeWith(body io.ReadCloser, conn io.Closer) io.ReadCloser {
	return &connBody{ReadCloser: body, conn: conn}
}

type connBody struct {
	io.ReadCloser
	conn io.Closer
}

func (b *connBody) Close() error {
	return errors.Join(b.ReadCloser.Close(), b.conn.Close())
}
