package review

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultQueueName is the Redis list escalated records are pushed to
const DefaultQueueName = "pguard:review_queue"

// RedisQueue is a Redis list: LPUSH to enqueue, RPOP to claim in FIFO order
type RedisQueue struct {
	client     *redis.Client
	logger     *zap.Logger
	queueName  string
	deadLetter string
}

// DeadLetterEntry is a claimed payload that could not be decoded
type DeadLetterEntry struct {
	Payload  string    `json:"payload"`
	Error    string    `json:"error"`
	FailedAt time.Time `json:"failed_at"`
}

// NewRedisQueue creates a queue over client
func NewRedisQueue(client *redis.Client, queueName string, logger *zap.Logger) *RedisQueue {
	if queueName == "" {
		queueName = DefaultQueueName
	}
	return &RedisQueue{
		client:     client,
		logger:     logger.Named("review_queue"),
		queueName:  queueName,
		deadLetter: queueName + ":dead_letter",
	}
}

func (q *RedisQueue) Enqueue(ctx context.Context, item *Item) (string, error) {
	prepare(item)

	data, err := json.Marshal(item)
	if err != nil {
		return "", fmt.Errorf("failed to marshal review item: %w", err)
	}

	if err := q.client.LPush(ctx, q.queueName, data).Err(); err != nil {
		q.logger.Error("Failed to enqueue review item",
			zap.Error(err),
			zap.String("item_id", item.ID))
		return "", fmt.Errorf("failed to enqueue review item: %w", err)
	}

	q.logger.Info("Record escalated for review",
		zap.String("item_id", item.ID),
		zap.String("guardrail", item.GuardrailName),
		zap.String("result_id", item.ResultID))
	return item.ID, nil
}

// Pending returns up to limit of the oldest items without removing them
func (q *RedisQueue) Pending(ctx context.Context, limit int) ([]*Item, error) {
	start := int64(0)
	if limit > 0 {
		start = -int64(limit)
	}
	raw, err := q.client.LRange(ctx, q.queueName, start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read review queue: %w", err)
	}

	items := make([]*Item, 0, len(raw))
	// The tail of the list is the oldest entry
	for i := len(raw) - 1; i >= 0; i-- {
		item, err := q.decode(raw[i])
		if err != nil {
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

// Dequeue claims up to n of the oldest items. Payloads that cannot be
// decoded are moved to the dead-letter list rather than returned.
func (q *RedisQueue) Dequeue(ctx context.Context, n int) ([]*Item, error) {
	if n <= 0 {
		n = 1
	}

	pipe := q.client.Pipeline()
	cmds := make([]*redis.StringCmd, 0, n)
	for i := 0; i < n; i++ {
		cmds = append(cmds, pipe.RPop(ctx, q.queueName))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to dequeue review items: %w", err)
	}

	var items []*Item
	for _, cmd := range cmds {
		raw, err := cmd.Result()
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			q.logger.Error("Error reading queued review item", zap.Error(err))
			continue
		}
		item, err := q.decode(raw)
		if err != nil {
			if dlqErr := q.moveToDeadLetter(ctx, raw, err); dlqErr != nil {
				// the payload has already been popped; the log is its last copy
				q.logger.Error("Failed to dead-letter review item",
					zap.Error(dlqErr),
					zap.String("payload", raw))
			}
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

func (q *RedisQueue) moveToDeadLetter(ctx context.Context, raw string, cause error) error {
	data, err := json.Marshal(DeadLetterEntry{Payload: raw, Error: cause.Error(), FailedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter entry: %w", err)
	}
	if err := q.client.LPush(ctx, q.deadLetter, data).Err(); err != nil {
		return fmt.Errorf("failed to push dead letter entry: %w", err)
	}

	q.logger.Error("Review item moved to dead letter queue",
		zap.String("queue", q.deadLetter),
		zap.Error(cause))
	return nil
}

// DeadLetters returns up to limit of the most recent undecodable payloads
func (q *RedisQueue) DeadLetters(ctx context.Context, limit int) ([]DeadLetterEntry, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	raw, err := q.client.LRange(ctx, q.deadLetter, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read dead letter queue: %w", err)
	}

	entries := make([]DeadLetterEntry, 0, len(raw))
	for _, r := range raw {
		var entry DeadLetterEntry
		if err := json.Unmarshal([]byte(r), &entry); err != nil {
			return nil, fmt.Errorf("failed to decode dead letter entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.queueName).Result()
}

func (q *RedisQueue) decode(raw string) (*Item, error) {
	var item Item
	if err := json.Unmarshal([]byte(raw), &item); err != nil {
		q.logger.Error("Failed to unmarshal review item", zap.Error(err))
		return nil, err
	}
	return &item, nil
}
