// Package datastore persists ingested batches and prediction results in
// PostgreSQL.
//
// Writes are fire-and-forget from the caller's point of view: ingest and
// prediction hand their rows to a Writer, whose workers push them through a
// Sink. A failed write is logged and counted but never fails the request
// that produced the rows.
package datastore
