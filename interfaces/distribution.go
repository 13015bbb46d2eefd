package interfaces

import "context"

// ReadOnlyDistribution groups the operations that never modify an offer.
type ReadOnlyDistribution interface {
	// Retrieve returns the object from the first offer, by priority, that serves it.
	// A non-empty offerID restricts the read to that offer.
	Retrieve(ctx context.Context, strategyID string, dc DataContext, offerID string) (*GetObjectResult, error)

	// CheckExisting reports, per requested offer, whether the object exists.
	// Offers outside the strategy report false without being contacted.
	CheckExisting(ctx context.Context, strategyID string, dc DataContext, offerIDs []string) (map[string]bool, error)

	// GetObjectInformation returns per-offer metadata of one object.
	GetObjectInformation(ctx context.Context, strategyID string, dc DataContext, offerIDs []string) (map[string]*ObjectMetadata, error)

	// GetBatchObjectInformation returns per-offer metadata of several objects.
	GetBatchObjectInformation(ctx context.Context, strategyID string, tenant int, category DataCategory, objectIDs, offerIDs []string) ([]BatchObjectInformation, error)

	// ListContainerObjects lists the category container of the referent
	// offer, or of offerID when given.
	ListContainerObjects(ctx context.Context, strategyID, offerID string, tenant int, category DataCategory, cursor string, limit int) (*ObjectPage, error)

	// GetOfferLogs reads the journal of the strategy's referent offer.
	GetOfferLogs(ctx context.Context, strategyID string, req OfferLogRequest) ([]OfferLog, error)

	// GetOfferLogsByOfferID reads the journal of one offer of the strategy.
	GetOfferLogsByOfferID(ctx context.Context, strategyID, offerID string, req OfferLogRequest) ([]OfferLog, error)

	// GetContainerInformation reports capacity per offer.
	GetContainerInformation(ctx context.Context, strategyID string, tenant int) ([]OfferCapacity, error)

	// CreateReadOrder submits a retrieval request to an asynchronous offer.
	CreateReadOrder(ctx context.Context, strategyID, offerID string, tenant int, category DataCategory, objectIDs []string) (*ReadOrder, error)

	// CheckReadOrder polls a read order created earlier.
	CheckReadOrder(ctx context.Context, strategyID, offerID string, tenant int, orderID string) (bool, error)
}

// MutatingDistribution groups the operations that write to or delete from offers.
type MutatingDistribution interface {
	// StoreInAllOffers stores a workspace object in every offer of the strategy.
	StoreInAllOffers(ctx context.Context, strategyID string, dc DataContext, desc ObjectDescription) (*StoredInfoResult, error)

	// StoreInOffers stores the object provided by source in the given offers.
	StoreInOffers(ctx context.Context, strategyID string, dc DataContext, offerIDs []string, source StreamProvider) (*StoredInfoResult, error)

	// BulkStoreFromSource stores several workspace objects in every offer of the strategy.
	BulkStoreFromSource(ctx context.Context, strategyID string, req BulkStoreRequest) (*BulkStoreResponse, error)

	// DeleteInAllOffers removes the object from every offer of the strategy.
	DeleteInAllOffers(ctx context.Context, strategyID string, dc DataContext) (*DeleteResult, error)

	// DeleteInOffers removes the object from the given offers.
	DeleteInOffers(ctx context.Context, strategyID string, dc DataContext, offerIDs []string) (*DeleteResult, error)

	// CopyObjectFromOfferToOffer replaces the destination copy with the source copy.
	CopyObjectFromOfferToOffer(ctx context.Context, strategyID string, dc DataContext, sourceOfferID, destinationOfferID string) (*StoredInfoResult, error)
}

// StorageDistribution is the full contract exposed to upstream services.
type StorageDistribution interface {
	ReadOnlyDistribution
	MutatingDistribution
}
