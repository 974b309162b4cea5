package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"wearable-connector/internal/common/errors"
	"wearable-connector/internal/common/utils"
	"wearable-connector/internal/vendors"
)

// memoryMessage tracks one stored event plus its lease state
type memoryMessage struct {
	event        vendors.WebhookEvent
	enqueuedAt   time.Time
	visibleAt    time.Time
	receiveCount int
}

// MemoryQueue is a process-local queue with visibility-timeout semantics.
// Suitable for tests and single-instance development; messages are lost
// on restart.
type MemoryQueue struct {
	mu       sync.Mutex
	messages map[string]*memoryMessage
	now      func() time.Time
}

// NewMemoryQueue creates an in-memory queue
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		messages: make(map[string]*memoryMessage),
		now:      time.Now,
	}
}

// NewMemoryQueueWithClock creates a queue with a fixed clock for tests
func NewMemoryQueueWithClock(now func() time.Time) *MemoryQueue {
	return &MemoryQueue{
		messages: make(map[string]*memoryMessage),
		now:      now,
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, event *vendors.WebhookEvent) (string, error) {
	messageID, err := utils.GenerateMessageID()
	if err != nil {
		return "", errors.InternalError("failed to generate message id", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	q.messages[messageID] = &memoryMessage{
		event:      *event,
		enqueuedAt: now,
		visibleAt:  now,
	}
	return messageID, nil
}

func (q *MemoryQueue) Dequeue(ctx context.Context, maxMessages int, visibilityTimeout time.Duration) ([]*vendors.QueueMessage, error) {
	if maxMessages <= 0 {
		return nil, errors.ValidationError("maxMessages must be positive")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()

	// oldest visible first, for predictable redelivery order
	var visible []string
	for id, msg := range q.messages {
		if !msg.visibleAt.After(now) {
			visible = append(visible, id)
		}
	}
	sort.Slice(visible, func(i, j int) bool {
		return q.messages[visible[i]].enqueuedAt.Before(q.messages[visible[j]].enqueuedAt)
	})

	if len(visible) > maxMessages {
		visible = visible[:maxMessages]
	}

	result := make([]*vendors.QueueMessage, 0, len(visible))
	for _, id := range visible {
		msg := q.messages[id]
		msg.visibleAt = now.Add(visibilityTimeout)
		msg.receiveCount++

		result = append(result, &vendors.QueueMessage{
			MessageID:    id,
			Event:        msg.event,
			ReceiveCount: msg.receiveCount,
			EnqueuedAt:   msg.enqueuedAt,
		})
	}
	return result, nil
}

func (q *MemoryQueue) Acknowledge(ctx context.Context, msg *vendors.QueueMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.messages, msg.MessageID)
	return nil
}

func (q *MemoryQueue) Close() error {
	return nil
}

// Size reports the number of stored messages, visible or leased
func (q *MemoryQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.messages)
}
