// Package queue provides the durable, at-least-once event queue that
// decouples webhook receipt from downstream data fetches. Messages are
// leased to consumers via visibility timeouts; an unacknowledged message
// becomes visible again and is redelivered, so consumers must dedupe on
// the event's trace_id.
package queue

import (
	"context"
	"time"

	"wearable-connector/internal/vendors"
)

// DefaultVisibilityTimeout is how long a dequeued message stays invisible
// to other consumers before redelivery.
const DefaultVisibilityTimeout = 30 * time.Second

// Queue is the contract every queue backend implements
type Queue interface {
	// Enqueue durably stores an event and returns its message ID. The
	// webhook handler must not return 2xx unless this succeeds.
	Enqueue(ctx context.Context, event *vendors.WebhookEvent) (string, error)

	// Dequeue leases up to maxMessages messages for visibilityTimeout.
	// Returns an empty slice when nothing is available.
	Dequeue(ctx context.Context, maxMessages int, visibilityTimeout time.Duration) ([]*vendors.QueueMessage, error)

	// Acknowledge permanently removes a delivered message
	Acknowledge(ctx context.Context, msg *vendors.QueueMessage) error

	// Close releases backend resources
	Close() error
}
