/*
Package clients provides an HTTP client for the storage distribution API.

DistributionClient implements interfaces.StorageDistribution against a remote
server, so tools and upstream services can use a remote engine exactly like
an in-process one. Error statuses are mapped back to the sentinel errors of
package interfaces:

	404 ErrObjectNotFound
	409 ErrObjectAlreadyExists
	400 ErrIllegalArgument
	403 ErrReadOnly
	501 ErrOperationUnsupported
	5xx ErrTechnical

StoreInOffers opens the stream provider once and uploads the stream; retries
happen server-side from the spooled copy.
*/
package clients
