package distribution

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ruteri/storage-distribution/interfaces"
)

// ReadOnlyShield serves the read operations of a distribution and rejects
// every mutating operation with ErrReadOnly and a critical alert. It is used
// on secondary sites, where writes reaching the engine signal a routing or
// configuration error.
type ReadOnlyShield struct {
	interfaces.ReadOnlyDistribution
	alerts interfaces.AlertService
	log    *slog.Logger
}

var _ interfaces.StorageDistribution = (*ReadOnlyShield)(nil)

// NewReadOnlyShield wraps delegate. alerts may be nil.
func NewReadOnlyShield(delegate interfaces.ReadOnlyDistribution, alerts interfaces.AlertService, log *slog.Logger) *ReadOnlyShield {
	return &ReadOnlyShield{
		ReadOnlyDistribution: delegate,
		alerts:               alerts,
		log:                  log,
	}
}

func (s *ReadOnlyShield) reject(ctx context.Context, operation, strategyID, objectID string) error {
	msg := fmt.Sprintf("illegal %s of object %q on strategy %q: storage distribution is read-only", operation, objectID, strategyID)
	s.log.Error("Mutating operation on read-only distribution",
		slog.String("operation", operation),
		slog.String("strategy", strategyID),
		slog.String("object", objectID))
	if s.alerts != nil {
		s.alerts.CreateAlert(ctx, interfaces.AlertCritical, msg)
	}
	return fmt.Errorf("%w: %s", interfaces.ErrReadOnly, operation)
}

func (s *ReadOnlyShield) StoreInAllOffers(ctx context.Context, strategyID string, dc interfaces.DataContext, _ interfaces.ObjectDescription) (*interfaces.StoredInfoResult, error) {
	return nil, s.reject(ctx, "store", strategyID, dc.ObjectID)
}

func (s *ReadOnlyShield) StoreInOffers(ctx context.Context, strategyID string, dc interfaces.DataContext, _ []string, _ interfaces.StreamProvider) (*interfaces.StoredInfoResult, error) {
	return nil, s.reject(ctx, "store", strategyID, dc.ObjectID)
}

func (s *ReadOnlyShield) BulkStoreFromSource(ctx context.Context, strategyID string, req interfaces.BulkStoreRequest) (*interfaces.BulkStoreResponse, error) {
	objectID := ""
	if len(req.ObjectIDs) > 0 {
		objectID = req.ObjectIDs[0]
	}
	return nil, s.reject(ctx, "bulk store", strategyID, objectID)
}

func (s *ReadOnlyShield) DeleteInAllOffers(ctx context.Context, strategyID string, dc interfaces.DataContext) (*interfaces.DeleteResult, error) {
	return nil, s.reject(ctx, "delete", strategyID, dc.ObjectID)
}

func (s *ReadOnlyShield) DeleteInOffers(ctx context.Context, strategyID string, dc interfaces.DataContext, _ []string) (*interfaces.DeleteResult, error) {
	return nil, s.reject(ctx, "delete", strategyID, dc.ObjectID)
}

func (s *ReadOnlyShield) CopyObjectFromOfferToOffer(ctx context.Context, strategyID string, dc interfaces.DataContext, _, _ string) (*interfaces.StoredInfoResult, error) {
	return nil, s.reject(ctx, "copy", strategyID, dc.ObjectID)
}
