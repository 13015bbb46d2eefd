/*
Package api holds the wire contract of the storage distribution HTTP API.

It defines the request headers, the base path, the JSON request and response
bodies shared by the server and its clients, and the HTTP server
configuration. The subpackage clients implements interfaces.StorageDistribution
on top of this API; package httpserver serves it.

# Addressing

Every route lives under BasePath and is scoped to a strategy:

	/api/storage/v1/strategies/{strategy}/...

The tenant travels in TenantHeader, the audited caller in RequesterHeader and
an optional offer subset in OfferIDsHeader. Categories appear lowercased in
paths and are matched case-insensitively.

# Errors

Every non-2xx response carries an ErrorResponse, except partially failed
deletes and bulk stores, which return their per-offer or per-object result
with the error status.
*/
package api
