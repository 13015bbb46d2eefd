// Package interfaces defines the contracts and data model of the storage
// distribution system, separating interface definitions from implementations.
//
// # Distribution Interfaces
//
// ReadOnlyDistribution: Read, existence-check, metadata, listing, offer log,
// capacity and read-order operations. None of them modifies an offer.
//
// MutatingDistribution: Store, bulk store, delete and copy operations.
//
// StorageDistribution: The full contract, composed of the two above. The
// coordinator in package distribution and its read-only shield both implement it.
//
// # Collaborator Interfaces
//
//   - OfferConnection / OfferConnector: one logical connection to one offer
//   - StrategyProvider: read-only strategy and offer referential
//   - ObjectSource: upstream workspace providing object bytes
//   - AuditSink: append-only target for audit records
//   - AlertService: operational alert delivery
//
// # Data Categories
//
// DataCategory is a closed enumeration. Each category maps to a storage folder
// and an overwrite policy in a single declarative table:
//
//	UNIT, OBJECTGROUP, UNIT_GRAPH, OBJECTGROUP_GRAPH, BACKUP,
//	BACKUP_OPERATION, RULES                          -> AlwaysRewritable
//	OBJECT, LOGBOOK, MANIFEST, REPORT, PROFILE,
//	STORAGELOG                                       -> RejectIfExists
//
// Categories outside the table are rejected with ErrIllegalArgument before
// any offer is contacted.
//
// # Error Types
//
// Errors are sentinel values wrapped with fmt.Errorf("%w") and matched with
// errors.Is:
//
//   - ErrStrategyNotFound, ErrOfferNotFound, ErrObjectNotFound: absent entities
//   - ErrObjectAlreadyExists: overwrite disallowed, never retried
//   - ErrInconsistentState, ErrDoNotRetry: stop the retry loop
//   - ErrPreconditionFailed: surfaced to callers as ErrIllegalArgument
//   - ErrDigestMismatch, ErrBackendUnavailable, ErrTechnical: retryable technical failures
//   - ErrCantStoreObject: store failed after every attempt
//   - ErrReadOnly: mutating call on a read-only deployment
package interfaces
