package distribution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ruteri/storage-distribution/interfaces"
)

// Retrieve opens the object on the first offer able to serve it, walking
// enabled offers by ascending rank. Asynchronous offers are only read when
// named explicitly. The caller must close the returned body.
func (d *Distribution) Retrieve(ctx context.Context, strategyID string, dc interfaces.DataContext, offerID string) (*interfaces.GetObjectResult, error) {
	started := time.Now()
	if err := dc.Validate(); err != nil {
		return nil, err
	}
	strategy, err := d.strategy(ctx, strategyID)
	if err != nil {
		return nil, err
	}

	var candidates []interfaces.OfferReference
	if offerID != "" {
		offer, ok := strategy.Offer(offerID)
		if !ok {
			return nil, fmt.Errorf("%w: %s is not an enabled offer of strategy %s", interfaces.ErrOfferNotFound, offerID, strategy.ID)
		}
		candidates = []interfaces.OfferReference{offer}
	} else {
		for _, offer := range strategy.OffersByPriority() {
			if !offer.AsyncRead {
				candidates = append(candidates, offer)
			}
		}
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: strategy %s has no synchronously readable offer", interfaces.ErrOfferNotFound, strategy.ID)
	}

	ref := dc.Ref()
	notFound := false
	var errs []error
	for _, offer := range candidates {
		res, err := d.readFrom(ctx, offer.ID, ref)
		if err == nil {
			d.metrics.ObserveOperation("retrieve", true, started)
			return res, nil
		}
		if errors.Is(err, interfaces.ErrObjectNotFound) {
			notFound = true
		} else {
			d.log.Warn("Offer read failed, trying next offer",
				"err", err,
				slog.String("offer", offer.ID),
				slog.String("object", ref.String()))
		}
		errs = append(errs, fmt.Errorf("offer %s: %w", offer.ID, err))
		if ctx.Err() != nil {
			break
		}
	}

	d.metrics.ObserveOperation("retrieve", false, started)
	if notFound {
		return nil, fmt.Errorf("%w: %s in strategy %s", interfaces.ErrObjectNotFound, ref, strategy.ID)
	}
	return nil, fmt.Errorf("%w: no offer could serve %s: %v", interfaces.ErrTechnical, ref, errors.Join(errs...))
}

func (d *Distribution) readFrom(ctx context.Context, offerID string, ref interfaces.ObjectRef) (*interfaces.GetObjectResult, error) {
	conn, err := d.connector.Connect(ctx, offerID)
	if err != nil {
		return nil, err
	}
	res, err := conn.GetObject(ctx, ref)
	if err != nil {
		conn.Close()
		return nil, err
	}
	res.Body = closeWith(res.Body, conn)
	if res.OfferID == "" {
		res.OfferID = offerID
	}
	return res, nil
}
