package connector

import (
	"context"
	"strings"
	"sync"
	"time"

	"wearable-connector/internal/common/errors"
	"wearable-connector/internal/common/logging"
	"wearable-connector/internal/queue"
	"wearable-connector/internal/vendors"
)

// ConsumerConfig tunes the queue consumer loop
type ConsumerConfig struct {
	BatchSize         int
	VisibilityTimeout time.Duration
	PollInterval      time.Duration
	// DedupeTTL is how long processed trace IDs are remembered. It must
	// exceed the vendor's webhook retry horizon.
	DedupeTTL time.Duration
	// MaxReceiveCount drops a message after this many failed deliveries
	MaxReceiveCount int
}

// DefaultConsumerConfig returns the consumer tuning defaults
func DefaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		BatchSize:         10,
		VisibilityTimeout: queue.DefaultVisibilityTimeout,
		PollInterval:      time.Second,
		DedupeTTL:         24 * time.Hour,
		MaxReceiveCount:   5,
	}
}

// Consumer drains the event queue and turns webhook events into vendor
// data fetches. Delivery is at-least-once, so processed trace IDs are
// remembered and duplicates acknowledged without refetching.
type Consumer struct {
	bases  map[vendors.VendorType]*Base
	queue  queue.Queue
	config ConsumerConfig
	logger logging.Logger

	mu   sync.Mutex
	seen map[string]time.Time

	now func() time.Time
}

// NewConsumer creates a consumer over the given orchestrators. All bases
// share one queue; events are routed back to their vendor's base.
func NewConsumer(bases map[vendors.VendorType]*Base, q queue.Queue, config ConsumerConfig, logger logging.Logger) *Consumer {
	if config.BatchSize <= 0 {
		config = DefaultConsumerConfig()
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Consumer{
		bases:  bases,
		queue:  q,
		config: config,
		logger: logger,
		seen:   make(map[string]time.Time),
		now:    time.Now,
	}
}

// Run polls the queue until the context is cancelled
func (c *Consumer) Run(ctx context.Context) {
	ticker := time.NewTicker(c.config.PollInterval)
	defer ticker.Stop()

	c.logger.Info("Queue consumer started",
		logging.Field{Key: "batch_size", Value: c.config.BatchSize},
	)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Queue consumer stopped")
			return
		case <-ticker.C:
			c.drainOnce(ctx)
		}
	}
}

// drainOnce processes one dequeue batch
func (c *Consumer) drainOnce(ctx context.Context) {
	messages, err := c.queue.Dequeue(ctx, c.config.BatchSize, c.config.VisibilityTimeout)
	if err != nil {
		c.logger.Error("Failed to dequeue events", err)
		return
	}

	for _, msg := range messages {
		c.handleMessage(ctx, msg)
	}
}

// handleMessage processes a single delivery. Acknowledge-on-failure is
// deliberate for permanent errors; transient errors leave the message to
// redeliver after the visibility timeout.
func (c *Consumer) handleMessage(ctx context.Context, msg *vendors.QueueMessage) {
	event := msg.Event
	logger := c.logger.WithFields(
		logging.Field{Key: "trace_id", Value: event.TraceID},
		logging.Field{Key: "vendor", Value: event.Vendor.String()},
		logging.Field{Key: "user_id", Value: event.UserID},
	)

	if c.isDuplicate(event.TraceID) {
		logger.Debug("Dropping duplicate event delivery")
		c.acknowledge(ctx, msg, logger)
		return
	}

	if msg.ReceiveCount > c.config.MaxReceiveCount {
		logger.Warn("Dropping event after repeated delivery failures",
			logging.Field{Key: "receive_count", Value: msg.ReceiveCount},
		)
		c.acknowledge(ctx, msg, logger)
		return
	}

	base, ok := c.bases[event.Vendor]
	if !ok {
		logger.Warn("No connector registered for vendor, dropping event")
		c.acknowledge(ctx, msg, logger)
		return
	}

	resourceType := resourceTypeForEvent(event.Type)
	_, err := base.FetchData(ctx, event.UserID, resourceType, event.ID, FetchParams{})
	if err != nil {
		c.handleFetchError(ctx, msg, err, logger)
		return
	}

	c.markProcessed(event.TraceID)
	c.acknowledge(ctx, msg, logger)
	logger.Info("Webhook event processed",
		logging.Field{Key: "resource_type", Value: resourceType},
	)
}

// handleFetchError decides between redelivery and dropping the message
func (c *Consumer) handleFetchError(ctx context.Context, msg *vendors.QueueMessage, err error, logger logging.Logger) {
	switch errors.GetType(err) {
	case errors.ErrTypeRateLimit:
		// leave the message leased; it redelivers after the visibility
		// timeout, by which point the bucket has refilled
		logger.Info("Fetch rate limited, leaving event for redelivery",
			logging.Field{Key: "retry_after", Value: errors.RetryAfter(err).String()},
		)
	case errors.ErrTypeVendorAPI:
		status := errors.StatusCode(err)
		if status != 0 && status < 500 {
			logger.Warn("Vendor rejected fetch, dropping event",
				logging.Field{Key: "status", Value: status},
			)
			c.acknowledge(ctx, msg, logger)
			return
		}
		logger.Warn("Vendor unavailable, leaving event for redelivery",
			logging.Field{Key: "error", Value: err.Error()},
		)
	case errors.ErrTypeOAuth:
		// the user must reconnect; retrying cannot help
		logger.Warn("Fetch failed with auth error, dropping event",
			logging.Field{Key: "error", Value: err.Error()},
		)
		c.acknowledge(ctx, msg, logger)
	default:
		logger.Error("Fetch failed, leaving event for redelivery", err)
	}
}

func (c *Consumer) acknowledge(ctx context.Context, msg *vendors.QueueMessage, logger logging.Logger) {
	if err := c.queue.Acknowledge(ctx, msg); err != nil {
		logger.Error("Failed to acknowledge message", err,
			logging.Field{Key: "message_id", Value: msg.MessageID},
		)
	}
}

// isDuplicate reports whether the trace ID was already processed within
// the dedupe TTL
func (c *Consumer) isDuplicate(traceID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	processedAt, ok := c.seen[traceID]
	if !ok {
		return false
	}
	if c.now().Sub(processedAt) > c.config.DedupeTTL {
		delete(c.seen, traceID)
		return false
	}
	return true
}

// markProcessed records a trace ID and prunes expired entries
func (c *Consumer) markProcessed(traceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.seen[traceID] = now

	if len(c.seen) > 100000 {
		for id, processedAt := range c.seen {
			if now.Sub(processedAt) > c.config.DedupeTTL {
				delete(c.seen, id)
			}
		}
	}
}

// resourceTypeForEvent maps an event type like "recovery.updated" to the
// vendor resource to fetch
func resourceTypeForEvent(eventType string) string {
	if idx := strings.Index(eventType, "."); idx > 0 {
		return eventType[:idx]
	}
	return eventType
}
