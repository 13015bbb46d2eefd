/*
Package httpserver exposes the storage distribution engine over HTTP.

All storage routes live under /api/storage/v1/strategies/{strategy}. Object
routes take the tenant from the X-Tenant-Id header and the audited requester
from X-Requester; operations that can target a subset of offers read a
comma-separated list from X-Offer-Ids.

# Object routes

	POST   /objects/{category}/{object_id}         store a workspace object (api.StoreRequest)
	PUT    /objects/{category}/{object_id}         store the request body
	GET    /objects/{category}/{object_id}         read the object (?offer= to pin an offer)
	DELETE /objects/{category}/{object_id}         delete the object
	GET    /objects/{category}/{object_id}/exists  per-offer existence
	GET    /objects/{category}/{object_id}/info    per-offer metadata
	POST   /objects/{category}/{object_id}/copy    replace one offer's copy (api.CopyRequest)

# Strategy routes

	POST /bulk                                bulk store from the workspace
	POST /info/{category}                     batch metadata (api.BatchInfoRequest)
	GET  /containers/{category}               container listing (?offer=&cursor=&limit=)
	GET  /logs/{category}                     offer journal (?offer=&offset=&limit=&order=)
	GET  /capacity                            per-offer capacity
	POST /offers/{offer}/read-orders          create a read order (api.ReadOrderRequest)
	GET  /offers/{offer}/read-orders/{order}  poll a read order

# Errors

Errors are returned as api.ErrorResponse. Missing objects, strategies and
offers answer 404, conflicts 409, invalid requests 400, writes to a read-only
deployment 403, operations an offer does not support 501 and everything else
500. A partially failed delete or bulk store answers with the error status and
the per-offer (or per-object) result as body.

# Operations

The server also serves /livez, /readyz, /drain and /undrain for load
balancers, and pprof under /debug when enabled. Metrics are served by a
separate metrics.MetricsServer.
*/
package httpserver
