// Package artifacts persists the fitted objects and feature metadata that a
// training run produces and every prediction run replays.
//
// Artifacts are a tagged union: each concrete type reports its Kind and
// registers a factory for it, the codec wraps a gob state blob in an
// Envelope, and decoding dispatches on the recorded kind.
//
// A Store hands out write Batches and read Readers. A batch stages every save
// in a fresh generation and only becomes visible when Commit swaps the
// current-generation pointer, so a Reader, which is pinned to the generation
// current when it was opened, never observes a mix of two training runs.
package artifacts
