package distribution

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ruteri/storage-distribution/interfaces"
)

// DeleteInAllOffers removes the object from every enabled offer of the strategy.
func (d *Distribution) DeleteInAllOffers(ctx context.Context, strategyID string, dc interfaces.DataContext) (*interfaces.DeleteResult, error) {
	return d.DeleteInOffers(ctx, strategyID, dc, nil)
}

// DeleteInOffers removes the object from the given offers concurrently. An
// offer that no longer holds the object counts as a success. The result
// always carries every outcome; the error is set unless all succeeded.
func (d *Distribution) DeleteInOffers(ctx context.Context, strategyID string, dc interfaces.DataContext, offerIDs []string) (*interfaces.DeleteResult, error) {
	started := time.Now()
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

	ref := dc.Ref()
	deleteCtx, cancel := context.WithTimeout(ctx, d.cfg.MinimumTimeout)
	defer cancel()

	results := make(chan deleteResult, len(targets))
	for _, offerID := range targets {
		task := &deleteTask{connector: d.connector, offerID: offerID, ref: ref}
		d.transfers.submit(deleteCtx, func() {
			results <- task.run(deleteCtx)
		}, func(err error) {
			results <- deleteResult{offerID: task.offerID, outcome: interfaces.DeleteKO, err: err}
		})
	}

	outcomes := make(map[string]interfaces.DeleteOutcome, len(targets))
	for range targets {
		res := <-results
		outcomes[res.offerID] = res.outcome
		if res.err != nil {
			d.log.Warn("Offer delete failed",
				"err", res.err,
				slog.String("offer", res.offerID),
				slog.String("object", ref.String()))
		}
	}

	audit := newAuditRecord(EventDelete, dc)
	var failed []string
	for _, offerID := range targets {
		audit.deletion(offerID, outcomes[offerID])
		if !outcomes[offerID].Succeeded() {
			failed = append(failed, offerID)
		}
	}
	result := &interfaces.DeleteResult{ObjectID: dc.ObjectID, Outcomes: outcomes}

	if len(failed) > 0 {
		err := fmt.Errorf("%w: cannot delete %s from offers %v", interfaces.ErrTechnical, ref, failed)
		d.appendAudit(ctx, audit, interfaces.OutcomeKO, err.Error())
		d.metrics.ObserveOperation("delete", false, started)
		return result, err
	}
	d.appendAudit(ctx, audit, interfaces.OutcomeOK, "")
	d.metrics.ObserveOperation("delete", true, started)
	d.log.Info("Object deleted",
		slog.String("strategy", strategy.ID),
		slog.String("object", ref.String()),
		slog.Int("offers", len(targets)))
	return result, nil
}
