// Package events carries batch lifecycle notifications (submitted, completed,
// failed) from the batch pipeline to downstream consumers such as the Redis
// stream publisher, without the pipeline knowing who listens.
package events
