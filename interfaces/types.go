package interfaces

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/ruteri/storage-distribution/cryptoutils"
)

// DefaultObjectSize is substituted when a source cannot report its length.
// It only feeds timeout computation.
const DefaultObjectSize int64 = 1 << 20

// OfferReference is one offer within a strategy.
type OfferReference struct {
	ID        string `yaml:"id" json:"id"`
	Referent  bool   `yaml:"referent" json:"referent"`
	Rank      int    `yaml:"rank" json:"rank"`
	Disabled  bool   `yaml:"disabled" json:"disabled"`
	AsyncRead bool   `yaml:"async_read" json:"async_read"`
}

// Strategy is an ordered set of offers backing one storage tier.
type Strategy struct {
	ID string `yaml:"id" json:"id"`
	// CopyCount is the number of copies the strategy promises. It is only
	// checked against the enabled offers: a store succeeds once every
	// targeted offer holds a copy, whatever CopyCount says.
	CopyCount int              `yaml:"copy_count" json:"copy_count"`
	Offers    []OfferReference `yaml:"offers" json:"offers"`
}

// EnabledOffers returns the offers taking part in operations, in declaration order.
func (s *Strategy) EnabledOffers() []OfferReference {
	out := make([]OfferReference, 0, len(s.Offers))
	for _, o := range s.Offers {
		if !o.Disabled {
			out = append(out, o)
		}
	}
	return out
}

// OffersByPriority returns enabled offers sorted by ascending rank; ties keep
// declaration order.
func (s *Strategy) OffersByPriority() []OfferReference {
	out := s.EnabledOffers()
	sort.SliceStable(out, func(i, j int) bool { return out[i].Rank < out[j].Rank })
	return out
}

// OfferIDs returns the ids of enabled offers.
func (s *Strategy) OfferIDs() []string {
	offers := s.EnabledOffers()
	ids := make([]string, len(offers))
	for i, o := range offers {
		ids[i] = o.ID
	}
	return ids
}

// Offer looks up an enabled offer by id.
func (s *Strategy) Offer(id string) (OfferReference, bool) {
	for _, o := range s.Offers {
		if o.ID == id && !o.Disabled {
			return o, true
		}
	}
	return OfferReference{}, false
}

// ReferentOffer returns the default source for metadata and log queries.
func (s *Strategy) ReferentOffer() (OfferReference, error) {
	for _, o := range s.Offers {
		if o.Referent && !o.Disabled {
			return o, nil
		}
	}
	return OfferReference{}, fmt.Errorf("%w: no referent offer in strategy %s", ErrOfferNotFound, s.ID)
}

// Validate checks offer uniqueness, the single-referent rule and the copy count.
func (s *Strategy) Validate() error {
	if s.ID == "" {
		return errors.New("strategy id is empty")
	}
	seen := map[string]bool{}
	referents := 0
	for _, o := range s.Offers {
		if o.ID == "" {
			return fmt.Errorf("strategy %s: offer with empty id", s.ID)
		}
		if seen[o.ID] {
			return fmt.Errorf("strategy %s: duplicate offer %s", s.ID, o.ID)
		}
		seen[o.ID] = true
		if o.Referent {
			referents++
		}
	}
	if referents > 1 {
		return fmt.Errorf("strategy %s: %d referent offers, at most one allowed", s.ID, referents)
	}
	enabled := len(s.EnabledOffers())
	if enabled == 0 {
		return fmt.Errorf("strategy %s: no enabled offer", s.ID)
	}
	if s.CopyCount > enabled {
		return fmt.Errorf("strategy %s: copy count %d exceeds %d enabled offers", s.ID, s.CopyCount, enabled)
	}
	return nil
}

// StrategyProvider is the read-only strategy/offer referential.
type StrategyProvider interface {
	// GetStrategy returns ErrStrategyNotFound for unknown ids.
	GetStrategy(ctx context.Context, strategyID string) (*Strategy, error)
}

// DataContext identifies one logical object operation, independent of offers.
type DataContext struct {
	ObjectID  string       `json:"object_id"`
	Category  DataCategory `json:"category"`
	Requester string       `json:"requester"`
	Tenant    int          `json:"tenant"`
}

// Ref returns the offer-side address of the object.
func (dc DataContext) Ref() ObjectRef {
	return ObjectRef{Tenant: dc.Tenant, Category: dc.Category, ObjectID: dc.ObjectID}
}

// Validate checks the object id and category.
func (dc DataContext) Validate() error {
	if dc.ObjectID == "" {
		return fmt.Errorf("%w: object id is empty", ErrIllegalArgument)
	}
	return dc.Category.Validate()
}

// StreamAndInfo is a readable stream with its declared length.
type StreamAndInfo struct {
	Stream io.ReadCloser
	Size   int64
}

// SizeOrDefault returns Size, or DefaultObjectSize when the length is unknown.
func (s *StreamAndInfo) SizeOrDefault() int64 {
	if s.Size < 0 {
		return DefaultObjectSize
	}
	return s.Size
}

// StreamProvider opens the object to store. It is called once per attempt and
// must return a fresh stream each time.
type StreamProvider func(ctx context.Context) (*StreamAndInfo, error)

// ObjectDescription locates an object in the upstream workspace.
type ObjectDescription struct {
	WorkspaceContainer string `json:"workspace_container"`
	WorkspaceObjectURI string `json:"workspace_object_uri"`
}

// ObjectSource provides the bytes of objects to store.
type ObjectSource interface {
	// Open returns ErrObjectNotFound when the object is absent.
	Open(ctx context.Context, tenant int, desc ObjectDescription) (*StreamAndInfo, error)
}

// StoredInfoResult is the result of a successful store operation.
type StoredInfoResult struct {
	ObjectID         string                 `json:"object_id"`
	Description      string                 `json:"description"`
	Digest           string                 `json:"digest"`
	DigestType       cryptoutils.DigestType `json:"digest_type"`
	Strategy         string                 `json:"strategy"`
	OfferIDs         []string               `json:"offer_ids"`
	OfferStatus      map[string]int         `json:"offer_status"`
	Size             int64                  `json:"size"`
	CreationTime     time.Time              `json:"creation_time"`
	LastModifiedTime time.Time              `json:"last_modified_time"`
}

// DeleteOutcome is the result of deleting one object from one offer.
type DeleteOutcome string

const (
	DeleteOK          DeleteOutcome = "OK"
	DeleteAlreadyGone DeleteOutcome = "ALREADY_GONE"
	DeleteKO          DeleteOutcome = "KO"
)

// Succeeded reports whether the offer no longer holds the object.
func (o DeleteOutcome) Succeeded() bool {
	return o == DeleteOK || o == DeleteAlreadyGone
}

// DeleteResult aggregates per-offer delete outcomes.
type DeleteResult struct {
	ObjectID string                   `json:"object_id"`
	Outcomes map[string]DeleteOutcome `json:"outcomes"`
}

// BatchObjectInformation holds per-offer metadata for one object. A nil entry
// means the offer could not report the object.
type BatchObjectInformation struct {
	ObjectID string                     `json:"object_id"`
	Offers   map[string]*ObjectMetadata `json:"offers"`
}

// Digest returns the digest reported by offerID, or an empty string.
func (b BatchObjectInformation) Digest(offerID string) string {
	if md := b.Offers[offerID]; md != nil {
		return md.Digest
	}
	return ""
}

// OfferCapacity is the capacity report of one offer. UsableSpace is -1 when
// the offer could not be queried.
type OfferCapacity struct {
	OfferID     string `json:"offer_id"`
	UsableSpace int64  `json:"usable_space"`
	UsedSpace   int64  `json:"used_space"`
	Error       string `json:"error,omitempty"`
}

// BulkStoreRequest stores several workspace objects of one category.
type BulkStoreRequest struct {
	Tenant              int          `json:"tenant"`
	Requester           string       `json:"requester"`
	Category            DataCategory `json:"category"`
	WorkspaceContainer  string       `json:"workspace_container"`
	ObjectIDs           []string     `json:"object_ids"`
	WorkspaceObjectURIs []string     `json:"workspace_object_uris"`
}

// Validate checks the request shape.
func (r BulkStoreRequest) Validate() error {
	if err := r.Category.Validate(); err != nil {
		return err
	}
	if len(r.ObjectIDs) == 0 {
		return fmt.Errorf("%w: empty bulk request", ErrIllegalArgument)
	}
	if len(r.ObjectIDs) != len(r.WorkspaceObjectURIs) {
		return fmt.Errorf("%w: %d object ids for %d workspace uris", ErrIllegalArgument, len(r.ObjectIDs), len(r.WorkspaceObjectURIs))
	}
	return nil
}

// BulkStoreResponse lists the objects stored by a bulk request, in request order.
type BulkStoreResponse struct {
	Objects []StoredInfoResult `json:"objects"`
}

// ReadOrder is a retrieval request submitted to an asynchronous offer.
type ReadOrder struct {
	OrderID   string   `json:"order_id"`
	OfferID   string   `json:"offer_id"`
	ObjectIDs []string `json:"object_ids"`
}

// LogbookOutcome is the coarse outcome of an audited operation.
type LogbookOutcome string

const (
	OutcomeOK LogbookOutcome = "OK"
	OutcomeKO LogbookOutcome = "KO"
)

// StorageLogbookParameters is the audit record of one store or delete
// operation. It is appended exactly once and never mutated afterwards.
type StorageLogbookParameters struct {
	EventType       string                 `json:"event_type"`
	EventDateTime   time.Time              `json:"event_date_time"`
	Tenant          int                    `json:"tenant"`
	ObjectID        string                 `json:"object_id"`
	Category        DataCategory           `json:"category"`
	Digest          string                 `json:"digest,omitempty"`
	DigestAlgorithm cryptoutils.DigestType `json:"digest_algorithm,omitempty"`
	Size            int64                  `json:"size"`
	Agents          []string               `json:"agents"`
	Requester       string                 `json:"requester"`
	Outcome         LogbookOutcome         `json:"outcome"`
	OutcomeDetail   string                 `json:"outcome_detail,omitempty"`
}

// AuditSink receives audit records. Records are append-only.
type AuditSink interface {
	Append(ctx context.Context, record *StorageLogbookParameters) error
}

// AlertLevel is the severity of an operational alert.
type AlertLevel string

const (
	AlertWarning  AlertLevel = "WARNING"
	AlertError    AlertLevel = "ERROR"
	AlertCritical AlertLevel = "CRITICAL"
)

// AlertService delivers operational alerts.
type AlertService interface {
	CreateAlert(ctx context.Context, level AlertLevel, message string)
}
