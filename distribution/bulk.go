package distribution

import (
	"context"
	"fmt"

	"github.com/ruteri/storage-distribution/interfaces"
)

// BulkStoreFromSource stores the workspace objects of req one after the
// other in every offer of the strategy. It stops at the first failure and
// returns the objects stored so far together with the error.
func (d *Distribution) BulkStoreFromSource(ctx context.Context, strategyID string, req interfaces.BulkStoreRequest) (*interfaces.BulkStoreResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if d.source == nil {
		return nil, fmt.Errorf("%w: no object source configured", interfaces.ErrIllegalState)
	}

	resp := &interfaces.BulkStoreResponse{Objects: make([]interfaces.StoredInfoResult, 0, len(req.ObjectIDs))}
	for i, objectID := range req.ObjectIDs {
		dc := interfaces.DataContext{
			ObjectID:  objectID,
			Category:  req.Category,
			Requester: req.Requester,
			Tenant:    req.Tenant,
		}
		desc := interfaces.ObjectDescription{
			WorkspaceContainer: req.WorkspaceContainer,
			WorkspaceObjectURI: req.WorkspaceObjectURIs[i],
		}
		stored, err := d.StoreInAllOffers(ctx, strategyID, dc, desc)
		if err != nil {
			return resp, fmt.Errorf("bulk store stopped at object %s (%d of %d): %w", objectID, i+1, len(req.ObjectIDs), err)
		}
		resp.Objects = append(resp.Objects, *stored)
	}
	return resp, nil
}
