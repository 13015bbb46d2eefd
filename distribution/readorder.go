package distribution

import (
	"context"
	"fmt"
	"net/http"

	"github.com/ruteri/storage-distribution/interfaces"
)

// CreateReadOrder asks an asynchronous offer to stage objects for reading.
func (d *Distribution) CreateReadOrder(ctx context.Context, strategyID, offerID string, tenant int, category interfaces.DataCategory, objectIDs []string) (*interfaces.ReadOrder, error) {
	if err := category.Validate(); err != nil {
		return nil, err
	}
	if len(objectIDs) == 0 {
		return nil, fmt.Errorf("%w: read order without objects", interfaces.ErrIllegalArgument)
	}
	res, err := d.runReadOrder(ctx, strategyID, &readOrderTask{
		offerID:   offerID,
		mode:      readOrderCreate,
		tenant:    tenant,
		category:  category,
		objectIDs: objectIDs,
	})
	if err != nil {
		return nil, err
	}
	return &interfaces.ReadOrder{OrderID: res.orderID, OfferID: offerID, ObjectIDs: objectIDs}, nil
}

// CheckReadOrder reports whether a read order is complete.
func (d *Distribution) CheckReadOrder(ctx context.Context, strategyID, offerID string, tenant int, orderID string) (bool, error) {
	if orderID == "" {
		return false, fmt.Errorf("%w: empty read order id", interfaces.ErrIllegalArgument)
	}
	res, err := d.runReadOrder(ctx, strategyID, &readOrderTask{
		offerID: offerID,
		mode:    readOrderCheck,
		tenant:  tenant,
		orderID: orderID,
	})
	if err != nil {
		return false, err
	}
	return res.status == http.StatusOK, nil
}

func (d *Distribution) runReadOrder(ctx context.Context, strategyID string, task *readOrderTask) (readOrderResult, error) {
	strategy, err := d.strategy(ctx, strategyID)
	if err != nil {
		return readOrderResult{}, err
	}
	if _, ok := strategy.Offer(task.offerID); !ok {
		return readOrderResult{}, fmt.Errorf("%w: %s is not an enabled offer of strategy %s", interfaces.ErrOfferNotFound, task.offerID, strategy.ID)
	}
	task.connector = d.connector

	taskCtx, cancel := context.WithTimeout(ctx, d.cfg.MinimumTimeout)
	defer cancel()
	result := make(chan readOrderResult, 1)
	d.transfers.submit(taskCtx, func() {
		result <- task.run(taskCtx)
	}, func(err error) {
		result <- readOrderResult{offerID: task.offerID, err: err}
	})

	res := <-result
	if res.err != nil {
		return res, res.err
	}
	return res, nil
}
