// Package batch implements the aggregation and submission core.
//
// An Aggregator collects individual requests and signals when a batch is
// ready: after a fixed window from the first pending request, or as soon as
// the pending count reaches the maximum batch size, whichever comes first.
// The Coordinator drains the aggregator one batch at a time, gates the batch
// on the budget, records it, submits it to the generation backend and hands
// it to the Poller, which polls on a phased schedule until the batch is
// terminal or the polling ceiling is reached. Every member request ends with
// exactly one terminal status update broadcast to its session.
package batch
