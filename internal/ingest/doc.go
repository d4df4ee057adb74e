// Package ingest validates raw batch files dropped into the upload directory,
// archives the ones that fail validation and merges the rest into the
// validated CSV the pipeline reads.
package ingest
