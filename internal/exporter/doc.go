// Package exporter merges prediction output back onto the input batch and
// writes it as the result CSV and as JSON-ready records.
package exporter
