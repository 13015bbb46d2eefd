package distribution

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ruteri/storage-distribution/interfaces"
	"golang.org/x/sync/errgroup"
)

// withConnection runs fn on a connection to offerID and closes it afterwards.
func (d *Distribution) withConnection(ctx context.Context, offerID string, fn func(interfaces.OfferConnection) error) error {
	conn, err := d.connector.Connect(ctx, offerID)
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(conn)
}

// batchQuery runs fn on the batch pool for every offer of offerIDs that is
// an enabled offer of the strategy, under BatchTimeout. Failures are logged
// and left to fn's caller to degrade.
func (d *Distribution) batchQuery(ctx context.Context, strategy *interfaces.Strategy, offerIDs []string, fn func(ctx context.Context, offerID string, conn interfaces.OfferConnection) error) {
	batchCtx, cancel := context.WithTimeout(ctx, d.cfg.BatchTimeout)
	defer cancel()

	var g errgroup.Group
	for _, offerID := range offerIDs {
		if _, ok := strategy.Offer(offerID); !ok {
			continue
		}
		offerID := offerID
		g.Go(func() error {
			err := d.batch.do(batchCtx, func(ctx context.Context) error {
				return d.withConnection(ctx, offerID, func(conn interfaces.OfferConnection) error {
					return fn(ctx, offerID, conn)
				})
			})
			if err != nil {
				d.log.Debug("Batch query failed", "err", err, slog.String("offer", offerID))
			}
			return nil
		})
	}
	g.Wait()
}

// CheckExisting reports, per offer, whether it holds the object. Offers
// outside the strategy and offers that fail to answer report false.
func (d *Distribution) CheckExisting(ctx context.Context, strategyID string, dc interfaces.DataContext, offerIDs []string) (map[string]bool, error) {
	if err := dc.Validate(); err != nil {
		return nil, err
	}
	strategy, err := d.strategy(ctx, strategyID)
	if err != nil {
		return nil, err
	}
	if len(offerIDs) == 0 {
		offerIDs = strategy.OfferIDs()
	}

	ref := dc.Ref()
	var mu sync.Mutex
	out := make(map[string]bool, len(offerIDs))
	for _, offerID := range offerIDs {
		out[offerID] = false
	}
	d.batchQuery(ctx, strategy, offerIDs, func(ctx context.Context, offerID string, conn interfaces.OfferConnection) error {
		exists, err := conn.ObjectExists(ctx, ref)
		if err != nil {
			return err
		}
		mu.Lock()
		out[offerID] = exists
		mu.Unlock()
		return nil
	})
	return out, nil
}

// GetObjectInformation returns the metadata each offer reports for the
// object; offers that cannot report it map to nil.
func (d *Distribution) GetObjectInformation(ctx context.Context, strategyID string, dc interfaces.DataContext, offerIDs []string) (map[string]*interfaces.ObjectMetadata, error) {
	if err := dc.Validate(); err != nil {
		return nil, err
	}
	strategy, err := d.strategy(ctx, strategyID)
	if err != nil {
		return nil, err
	}
	if len(offerIDs) == 0 {
		offerIDs = strategy.OfferIDs()
	}

	ref := dc.Ref()
	var mu sync.Mutex
	out := make(map[string]*interfaces.ObjectMetadata, len(offerIDs))
	for _, offerID := range offerIDs {
		out[offerID] = nil
	}
	d.batchQuery(ctx, strategy, offerIDs, func(ctx context.Context, offerID string, conn interfaces.OfferConnection) error {
		md, err := conn.GetMetadata(ctx, ref, false)
		if err != nil {
			return err
		}
		mu.Lock()
		out[offerID] = md
		mu.Unlock()
		return nil
	})
	return out, nil
}

// GetBatchObjectInformation returns per-offer metadata for several objects,
// in the order of objectIDs.
func (d *Distribution) GetBatchObjectInformation(ctx context.Context, strategyID string, tenant int, category interfaces.DataCategory, objectIDs []string, offerIDs []string) ([]interfaces.BatchObjectInformation, error) {
	if err := category.Validate(); err != nil {
		return nil, err
	}
	strategy, err := d.strategy(ctx, strategyID)
	if err != nil {
		return nil, err
	}
	if len(offerIDs) == 0 {
		offerIDs = strategy.OfferIDs()
	}

	var mu sync.Mutex
	out := make([]interfaces.BatchObjectInformation, len(objectIDs))
	for i, objectID := range objectIDs {
		out[i] = interfaces.BatchObjectInformation{
			ObjectID: objectID,
			Offers:   make(map[string]*interfaces.ObjectMetadata, len(offerIDs)),
		}
		for _, offerID := range offerIDs {
			out[i].Offers[offerID] = nil
		}
	}
	d.batchQuery(ctx, strategy, offerIDs, func(ctx context.Context, offerID string, conn interfaces.OfferConnection) error {
		for i, objectID := range objectIDs {
			ref := interfaces.ObjectRef{Tenant: tenant, Category: category, ObjectID: objectID}
			md, err := conn.GetMetadata(ctx, ref, false)
			if err != nil {
				if ctx.Err() != nil {
					return err
				}
				continue
			}
			mu.Lock()
			out[i].Offers[offerID] = md
			mu.Unlock()
		}
		return nil
	})
	return out, nil
}

// resolveOffer returns offerID if it is an enabled offer of the strategy,
// or the referent offer when offerID is empty.
func resolveOffer(strategy *interfaces.Strategy, offerID string) (string, error) {
	if offerID == "" {
		referent, err := strategy.ReferentOffer()
		if err != nil {
			return "", err
		}
		return referent.ID, nil
	}
	if _, ok := strategy.Offer(offerID); !ok {
		return "", fmt.Errorf("%w: %s is not an enabled offer of strategy %s", interfaces.ErrOfferNotFound, offerID, strategy.ID)
	}
	return offerID, nil
}

// ListContainerObjects returns one page of the category container of
// offerID, or of the referent offer when offerID is empty.
func (d *Distribution) ListContainerObjects(ctx context.Context, strategyID, offerID string, tenant int, category interfaces.DataCategory, cursor string, limit int) (*interfaces.ObjectPage, error) {
	if err := category.Validate(); err != nil {
		return nil, err
	}
	strategy, err := d.strategy(ctx, strategyID)
	if err != nil {
		return nil, err
	}
	offerID, err = resolveOffer(strategy, offerID)
	if err != nil {
		return nil, err
	}

	var page *interfaces.ObjectPage
	err = d.withConnection(ctx, offerID, func(conn interfaces.OfferConnection) error {
		page, err = conn.ListObjects(ctx, tenant, category, cursor, limit)
		return err
	})
	if err != nil {
		return nil, err
	}
	return page, nil
}

// GetOfferLogs reads the offer log of the referent offer.
func (d *Distribution) GetOfferLogs(ctx context.Context, strategyID string, req interfaces.OfferLogRequest) ([]interfaces.OfferLog, error) {
	return d.GetOfferLogsByOfferID(ctx, strategyID, "", req)
}

// GetOfferLogsByOfferID reads the offer log of offerID, or of the referent
// offer when offerID is empty.
func (d *Distribution) GetOfferLogsByOfferID(ctx context.Context, strategyID, offerID string, req interfaces.OfferLogRequest) ([]interfaces.OfferLog, error) {
	if err := req.Category.Validate(); err != nil {
		return nil, err
	}
	strategy, err := d.strategy(ctx, strategyID)
	if err != nil {
		return nil, err
	}
	offerID, err = resolveOffer(strategy, offerID)
	if err != nil {
		return nil, err
	}

	var logs []interfaces.OfferLog
	err = d.withConnection(ctx, offerID, func(conn interfaces.OfferConnection) error {
		logs, err = conn.GetOfferLogs(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return logs, nil
}

// GetContainerInformation reports capacity for every enabled offer of the
// strategy, in strategy order. Offers that fail report UsableSpace -1.
func (d *Distribution) GetContainerInformation(ctx context.Context, strategyID string, tenant int) ([]interfaces.OfferCapacity, error) {
	strategy, err := d.strategy(ctx, strategyID)
	if err != nil {
		return nil, err
	}
	offerIDs := strategy.OfferIDs()

	out := make([]interfaces.OfferCapacity, len(offerIDs))
	index := make(map[string]int, len(offerIDs))
	for i, offerID := range offerIDs {
		index[offerID] = i
		out[i] = interfaces.OfferCapacity{OfferID: offerID, UsableSpace: -1, UsedSpace: -1, Error: "offer did not answer"}
	}

	var mu sync.Mutex
	d.batchQuery(ctx, strategy, offerIDs, func(ctx context.Context, offerID string, conn interfaces.OfferConnection) error {
		c, err := conn.GetCapacity(ctx, tenant)
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			out[index[offerID]].Error = err.Error()
			return err
		}
		out[index[offerID]] = interfaces.OfferCapacity{OfferID: offerID, UsableSpace: c.UsableSpace, UsedSpace: c.UsedSpace}
		return nil
	})
	return out, nil
}
