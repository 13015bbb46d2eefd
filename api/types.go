package api

import (
	"github.com/ruteri/storage-distribution/interfaces"
)

// Request headers of the storage API.
const (
	// TenantHeader carries the tenant id. Required on object routes.
	TenantHeader = "X-Tenant-Id"

	// RequesterHeader identifies the caller in audit records.
	RequesterHeader = "X-Requester"

	// OfferIDsHeader restricts an operation to a comma-separated list of offers.
	OfferIDsHeader = "X-Offer-Ids"

	// OfferIDHeader reports the offer that served a read.
	OfferIDHeader = "X-Offer-Id"
)

// BasePath prefixes every storage route.
const BasePath = "/api/storage/v1"

// StoreRequest stores a workspace object in every offer of a strategy.
type StoreRequest struct {
	WorkspaceContainer string `json:"workspace_container"`
	WorkspaceObjectURI string `json:"workspace_object_uri"`
}

// CopyRequest replaces the destination copy of an object with the source copy.
type CopyRequest struct {
	SourceOfferID      string `json:"source_offer_id"`
	DestinationOfferID string `json:"destination_offer_id"`
}

// BulkStoreRequest is interfaces.BulkStoreRequest without the tenant and
// requester, which travel in headers.
type BulkStoreRequest struct {
	Category            interfaces.DataCategory `json:"category"`
	WorkspaceContainer  string                  `json:"workspace_container"`
	ObjectIDs           []string                `json:"object_ids"`
	WorkspaceObjectURIs []string                `json:"workspace_object_uris"`
}

// BatchInfoRequest asks for the metadata of several objects of one category.
type BatchInfoRequest struct {
	ObjectIDs []string `json:"object_ids"`
}

// ReadOrderRequest asks an asynchronous offer to stage objects.
type ReadOrderRequest struct {
	Category  interfaces.DataCategory `json:"category"`
	ObjectIDs []string                `json:"object_ids"`
}

// ReadOrderStatus reports whether a read order completed.
type ReadOrderStatus struct {
	OrderID  string `json:"order_id"`
	OfferID  string `json:"offer_id"`
	Complete bool   `json:"complete"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}
