// Package shared holds helpers used across the ccsml packages.
//
// The testutil subpackage provides:
//
//	- a buffered slog handler for asserting on emitted log records
//	- table fixtures shaped like cement strength batches
//
// Example usage:
//
//	func TestSomething(t *testing.T) {
//	    logger, logs := testutil.NewTestLogger(t)
//	    data := testutil.TwoRegimeTable(t)
//	    ...
//	}
//
// Nothing here is imported by production code.
package shared
