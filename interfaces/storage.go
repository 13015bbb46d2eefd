package interfaces

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/ruteri/storage-distribution/cryptoutils"
)

var (
	// ErrStrategyNotFound is returned when a strategy id is unknown to the referential.
	ErrStrategyNotFound = errors.New("strategy not found")

	// ErrOfferNotFound is returned when an offer is unknown or not part of the strategy.
	ErrOfferNotFound = errors.New("offer not found")

	// ErrObjectNotFound is returned when an object is absent from an offer or source.
	ErrObjectNotFound = errors.New("object not found")

	// ErrObjectAlreadyExists is returned when an object exists where overwrite is disallowed.
	// It is never retried.
	ErrObjectAlreadyExists = errors.New("object already exists")

	// ErrInconsistentState is returned when a backend reports a state the
	// distribution cannot safely reconcile. It is never retried.
	ErrInconsistentState = errors.New("inconsistent backend state")

	// ErrDoNotRetry marks a driver failure that must not be retried.
	ErrDoNotRetry = errors.New("driver requested no retry")

	// ErrPreconditionFailed is returned by a driver when the request is malformed.
	ErrPreconditionFailed = errors.New("precondition failed")

	// ErrBackendUnavailable is returned when a storage backend is not accessible.
	// This could be due to network issues, authentication failures, or service outages.
	ErrBackendUnavailable = errors.New("storage backend unavailable")

	// ErrDigestMismatch is returned when an offer's digest differs from the source digest.
	ErrDigestMismatch = errors.New("digest mismatch")

	// ErrCantStoreObject is returned when a store operation fails after all attempts.
	ErrCantStoreObject = errors.New("cannot store object")

	// ErrTechnical covers every other storage failure surfaced to callers.
	ErrTechnical = errors.New("technical storage error")

	// ErrIllegalArgument is returned for caller-side mistakes.
	ErrIllegalArgument = errors.New("illegal argument")

	// ErrIllegalState is returned when an operation is forbidden in the current mode.
	ErrIllegalState = errors.New("illegal state")

	// ErrReadOnly is returned by a read-only deployment for every mutating operation.
	ErrReadOnly = fmt.Errorf("%w: storage distribution is read-only", ErrIllegalState)

	// ErrOperationUnsupported is returned by offers lacking a capability.
	ErrOperationUnsupported = errors.New("operation not supported by offer")

	// ErrInvalidLocationURI is returned when an offer location URI is malformed or unsupported.
	// URIs must follow the format: [scheme]://[auth@]host[:port][/path][?params]
	ErrInvalidLocationURI = errors.New("invalid offer location URI")
)

// ObjectRef addresses one object inside an offer.
type ObjectRef struct {
	Tenant   int
	Category DataCategory
	ObjectID string
}

// String renders the reference for logs.
func (r ObjectRef) String() string {
	return fmt.Sprintf("%d/%s/%s", r.Tenant, r.Category.Folder(), r.ObjectID)
}

// PutObjectRequest is one write of one object to one offer.
type PutObjectRequest struct {
	Ref        ObjectRef
	DigestType cryptoutils.DigestType
	// Size is advisory; negative when unknown.
	Size int64
	Body io.Reader
}

// PutObjectResult is returned by an offer after a successful write.
type PutObjectResult struct {
	ObjectID string
	Digest   string
	Size     int64
}

// GetObjectResult is a readable object served by one offer. The caller closes Body.
type GetObjectResult struct {
	OfferID string
	Body    io.ReadCloser
	Size    int64
}

// ObjectMetadata describes an object held by an offer.
type ObjectMetadata struct {
	ObjectID     string                 `json:"object_id"`
	Digest       string                 `json:"digest"`
	DigestType   cryptoutils.DigestType `json:"digest_type"`
	Size         int64                  `json:"size"`
	LastModified time.Time              `json:"last_modified"`
}

// ObjectEntry is one listing entry.
type ObjectEntry struct {
	ObjectID     string    `json:"object_id"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// ObjectPage is one page of a container listing. An empty NextCursor marks the last page.
type ObjectPage struct {
	Entries    []ObjectEntry `json:"entries"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

// Order is a sort order for offer logs.
type Order string

const (
	OrderAscending  Order = "asc"
	OrderDescending Order = "desc"
)

// OfferLogAction is the operation recorded in an offer log entry.
type OfferLogAction string

const (
	OfferLogWrite  OfferLogAction = "write"
	OfferLogDelete OfferLogAction = "delete"
)

// OfferLog is one entry of an offer's write/delete journal.
type OfferLog struct {
	Sequence  int64          `json:"sequence"`
	Container string         `json:"container"`
	FileName  string         `json:"file_name"`
	Action    OfferLogAction `json:"action"`
	Time      time.Time      `json:"time"`
}

// OfferLogRequest selects a window of offer log entries. With ascending order
// entries with Sequence >= Offset are returned, with descending order entries
// with Sequence <= Offset. A nil Offset starts from the beginning (or the end).
type OfferLogRequest struct {
	Tenant   int
	Category DataCategory
	Offset   *int64
	Limit    int
	Order    Order
}

// Capacity reports space on one offer. Negative values mean unknown.
type Capacity struct {
	UsableSpace int64 `json:"usable_space"`
	UsedSpace   int64 `json:"used_space"`
}

// OfferConnection is one logical connection to one offer. Connections are
// acquired per task and must be closed on every exit path.
type OfferConnection interface {
	// PutObject streams an object to the offer.
	PutObject(ctx context.Context, req PutObjectRequest) (*PutObjectResult, error)

	// GetObject opens an object for reading. Returns ErrObjectNotFound when absent.
	GetObject(ctx context.Context, ref ObjectRef) (*GetObjectResult, error)

	// RemoveObject deletes an object. Returns ErrObjectNotFound when already absent.
	RemoveObject(ctx context.Context, ref ObjectRef) (bool, error)

	// CheckObjectDigest compares the offer-side digest with expected.
	CheckObjectDigest(ctx context.Context, ref ObjectRef, digestType cryptoutils.DigestType, expected string) (bool, error)

	// ObjectExists reports whether the object is present.
	ObjectExists(ctx context.Context, ref ObjectRef) (bool, error)

	// GetMetadata returns digest and size. noCache forces recomputation where supported.
	GetMetadata(ctx context.Context, ref ObjectRef, noCache bool) (*ObjectMetadata, error)

	// ListObjects returns one page of the category container.
	ListObjects(ctx context.Context, tenant int, category DataCategory, cursor string, limit int) (*ObjectPage, error)

	// GetOfferLogs returns a window of the offer journal.
	GetOfferLogs(ctx context.Context, req OfferLogRequest) ([]OfferLog, error)

	// GetCapacity reports usable and used space.
	GetCapacity(ctx context.Context, tenant int) (*Capacity, error)

	// CreateReadOrder asks an asynchronous offer to stage objects for reading.
	CreateReadOrder(ctx context.Context, tenant int, category DataCategory, objectIDs []string) (string, error)

	// IsReadOrderComplete polls a previously created read order.
	IsReadOrderComplete(ctx context.Context, tenant int, orderID string) (bool, error)

	// Close releases the connection.
	Close() error
}

// OfferConnector opens connections to offers by id.
type OfferConnector interface {
	Connect(ctx context.Context, offerID string) (OfferConnection, error)
}

// OfferLocation represents the URI of an offer backend.
type OfferLocation struct {
	Raw    string     // Original URI
	Scheme string     // Protocol
	Host   string     // Hostname
	Path   string     // Resource path
	Query  url.Values // Query parameters
	Auth   *url.Userinfo
}

// NewOfferLocation parses and validates an offer URI.
func NewOfferLocation(uri string) (OfferLocation, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return OfferLocation{}, fmt.Errorf("%w: %v", ErrInvalidLocationURI, err)
	}

	switch parsed.Scheme {
	case "mem", "file", "s3", "ipfs", "vault", "badger":
	default:
		return OfferLocation{}, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidLocationURI, parsed.Scheme)
	}

	return OfferLocation{
		Raw:    uri,
		Scheme: parsed.Scheme,
		Host:   parsed.Host,
		Path:   parsed.Path,
		Query:  parsed.Query(),
		Auth:   parsed.User,
	}, nil
}

// String returns the original URI string.
func (loc OfferLocation) String() string {
	return loc.Raw
}

// GetParam returns a query parameter value.
func (loc OfferLocation) GetParam(name string) string {
	return loc.Query.Get(name)
}

// GetParamBool returns a boolean query parameter value.
func (loc OfferLocation) GetParamBool(name string) bool {
	value := loc.Query.Get(name)
	return value == "true" || value == "1" || value == "yes"
}
