// Package api is the HTTP surface of the batch core: enqueueing and
// withdrawing generation requests, reading batch records and queue status,
// and upgrading session subscriptions to websockets. Handlers depend on
// small interfaces so they can be tested without the coordinator.
package api
