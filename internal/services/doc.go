// Package services holds the orchestration shared by the CLI and the HTTP
// API: ingest, single-writer training, prediction against a cached artifact
// snapshot, and health reporting.
package services
