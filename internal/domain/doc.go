// Package domain contains the entities of the batch aggregation pipeline:
// queued work requests and their typed payloads, batches and their status
// machine, per-item results, and the ephemeral status updates pushed to
// session subscribers. It is independent of storage and transport.
package domain
