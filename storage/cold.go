package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/storage-distribution/interfaces"
)

// DefaultStagingDelay is the time a cold offer needs to stage a read order.
const DefaultStagingDelay = 5 * time.Second

type readOrder struct {
	tenant  int
	keys    map[string]bool
	readyAt time.Time
}

// ColdOffer wraps a synchronous offer with the two-phase read protocol of
// archival tiers: objects are readable only through a completed read order.
// Writes, deletes and metadata queries pass through unchanged.
type ColdOffer struct {
	*Offer
	stagingDelay time.Duration
	now          func() time.Time

	mu     sync.Mutex
	orders map[string]*readOrder
}

// NewColdOffer wraps offer; orders complete stagingDelay after creation.
func NewColdOffer(offer *Offer, stagingDelay time.Duration) *ColdOffer {
	return &ColdOffer{
		Offer:        offer,
		stagingDelay: stagingDelay,
		now:          time.Now,
		orders:       make(map[string]*readOrder),
	}
}

// CreateReadOrder submits a staging request and returns its handle.
func (c *ColdOffer) CreateReadOrder(ctx context.Context, tenant int, category interfaces.DataCategory, objectIDs []string) (string, error) {
	if len(objectIDs) == 0 {
		return "", fmt.Errorf("%w: empty read order", interfaces.ErrPreconditionFailed)
	}
	order := &readOrder{tenant: tenant, keys: make(map[string]bool, len(objectIDs)), readyAt: c.now().Add(c.stagingDelay)}
	for _, id := range objectIDs {
		ref := interfaces.ObjectRef{Tenant: tenant, Category: category, ObjectID: id}
		if err := validateRef(ref); err != nil {
			return "", err
		}
		order.keys[objectKey(ref)] = true
	}

	orderID := uuid.NewString()
	c.mu.Lock()
	c.orders[orderID] = order
	c.mu.Unlock()

	c.log.Info("Created read order",
		slog.String("order", orderID),
		slog.Int("objects", len(objectIDs)),
		slog.Time("ready_at", order.readyAt))
	return orderID, nil
}

// IsReadOrderComplete polls a read order.
func (c *ColdOffer) IsReadOrderComplete(ctx context.Context, tenant int, orderID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	order, ok := c.orders[orderID]
	if !ok || order.tenant != tenant {
		return false, fmt.Errorf("%w: read order %s", interfaces.ErrObjectNotFound, orderID)
	}
	return !c.now().Before(order.readyAt), nil
}

func (c *ColdOffer) staged(ref interfaces.ObjectRef) bool {
	key := objectKey(ref)
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, order := range c.orders {
		if order.tenant == ref.Tenant && order.keys[key] && !now.Before(order.readyAt) {
			return true
		}
	}
	return false
}

// GetObject serves objects staged by a completed read order.
func (c *ColdOffer) GetObject(ctx context.Context, ref interfaces.ObjectRef) (*interfaces.GetObjectResult, error) {
	if !c.staged(ref) {
		return nil, fmt.Errorf("%w: %s is not staged, create a read order first", interfaces.ErrPreconditionFailed, ref)
	}
	return c.Offer.GetObject(ctx, ref)
}
