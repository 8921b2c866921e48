// Package kernel owns the connection to a Jupyter kernel.
//
// Ownership boundary:
// - kernel session setup over the Jupyter server REST API
//
// - execute_request submission on the shell channel
//
// - routing of iopub/shell replies to the submission that caused them
//
// - connect retry/backoff
//
// Completion of a submission follows the Jupyter future contract: a stream is done
// once both the shell execute_reply and the iopub status=idle for the request have
// been observed. Nothing is delivered on a stream after completion.
//
// Cancellation of an in-flight submission is not supported.
package kernel
