// Package reconcile turns the raw iopub stream of one kernel submission into
// ordered, run-tagged output records.
//
// A submission starts with an unknown run index. Classified outputs get the next
// output index in arrival order and wait in a pending queue until the kernel
// announces the execution count; the queue is then flushed in order and later
// outputs are emitted immediately. A record never leaves this package without a
// resolved run index.
//
// Messages that cannot be classified are logged and skipped. They never consume
// an output index.
//
// Outputs still pending when the submission completes are dropped and counted.
package reconcile
