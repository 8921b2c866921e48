// Package notebook owns the cell collection and the kernel connection state
// shown to the presentation layer.
//
// Ownership boundary:
// - cell code, activity flag and output log
//
// - connection status and the last human-readable failure
//
// Output is appended exactly as delivered; ordering belongs to the reconciler.
// A cell holds at most one in-flight execution.
package notebook
