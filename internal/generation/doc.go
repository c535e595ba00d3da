// Package generation defines the boundary between the batch pipeline and the
// external generation backends. A Backend accepts a whole batch, returns an
// opaque Handle, and reports per-item results when polled. Router layers a
// fallback path over several backends so that a transient failure on one is
// retried on the next, never on the backend that just failed.
package generation
