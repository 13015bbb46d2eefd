// Package main (cmd/httpserver) runs the storage distribution server.
//
// The server loads a referential of offers and strategies from a YAML file,
// connects to the offers lazily and exposes the distribution engine over HTTP
// (see package httpserver for the routes). Workspace objects are read from a
// local directory; uploads are spooled to disk so failed write waves can be
// retried.
//
// Every write, delete and copy is recorded in the storage logbook, which goes
// to the structured log and optionally to a JSON lines file. Sending SIGHUP
// reloads the referential; an invalid file keeps the current one.
//
// Example usage:
//
//	distribution-server --referential=./referential.yaml \
//	    --workspace-root=/var/lib/storage/workspace \
//	    --listen-addr=0.0.0.0:8080 \
//	    --logbook-file=/var/log/storage/logbook.jsonl
//
// With --read-only every mutating request is rejected with 403 and raises a
// critical alert.
package main
