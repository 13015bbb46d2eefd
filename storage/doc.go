// Package storage provides offer drivers: the backends a storage strategy
// replicates objects to.
//
// Every driver implements interfaces.OfferConnection on top of a small
// backend-specific blob store:
//
//   - Memory offers for tests and single-process deployments
//   - File system offers with atomic renames and a JSON-lines offer log
//   - S3-compatible offers using streaming multipart uploads
//   - IPFS offers on the node's mutable file system (MFS)
//   - Vault KV v2 offers for small sensitive objects
//   - Embedded Badger offers with a durable offer log
//
// # Offer URI Format
//
// Offers are specified using URI format:
//
//	[scheme]://[auth@]host[:port][/path][?params]
//
// Supported URI schemes:
//
//   - mem://offer-1?max_bytes=1073741824
//   - file:///var/lib/offers/offer-1
//   - s3://bucket-name/prefix/?region=us-west-2&endpoint=minio:9000&path_style=true
//   - ipfs://ipfs.example.com:5001/offers/offer-1
//   - vault://vault.example.com:8200/secret/offers?insecure=false
//   - badger:///var/lib/offers/badger-1
//
// Any URI may add async=true (and staging_delay=30s) to model a cold tier
// that serves reads only through completed read orders. ipfs and vault URIs
// may add srv=true to resolve the host part through DNS SRV records.
//
// # Objects and Digests
//
// Objects are addressed by tenant, data category and object id, and live in
// the container "<tenant>_<folder>". The digest is computed while the object
// streams in and persisted next to it (sidecar file, object tag, KV field),
// so digest checks do not re-read the object unless another algorithm is
// requested or the digest is missing.
//
// # Connections
//
// Connector resolves offer ids to URIs through an OfferLocator, creates each
// driver once and hands out task-scoped connections. Closing a connection
// never closes the shared driver; Connector.Close does.
package storage
