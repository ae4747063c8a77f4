// Package review holds records escalated for human review until someone
// claims them.
package review

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/amerfu/pguard/internal/services/guardrails/types"
)

// Item is one escalated record
type Item struct {
	ID               string       `json:"id"`
	ResultID         string       `json:"result_id"`
	GuardrailName    string       `json:"guardrail_name"`
	GuardrailVersion string       `json:"guardrail_version"`
	Record           types.Record `json:"record"`
	Reasons          []string     `json:"reasons"`
	CreatedAt        time.Time    `json:"created_at"`
}

// Queue is a FIFO of escalated records. Pending peeks without claiming;
// Dequeue claims items so no other reviewer receives them.
type Queue interface {
	Enqueue(ctx context.Context, item *Item) (string, error)
	Pending(ctx context.Context, limit int) ([]*Item, error)
	Dequeue(ctx context.Context, n int) ([]*Item, error)
	Len(ctx context.Context) (int64, error)
}

// NewItem builds a review item from a validation result
func NewItem(record types.Record, result *types.ValidationResult) *Item {
	item := &Item{
		Record:    record.Clone(),
		CreatedAt: time.Now().UTC(),
	}
	if result != nil {
		item.ResultID = result.ID
		item.GuardrailName = result.GuardrailName
		item.GuardrailVersion = result.GuardrailVersion
		for _, entry := range result.Failed() {
			item.Reasons = append(item.Reasons, entry.ConstraintName+": "+entry.Message)
		}
	}
	return item
}

func prepare(item *Item) {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
}

// MemoryQueue keeps items in process memory
type MemoryQueue struct {
	mu    sync.Mutex
	items []*Item
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

func (q *MemoryQueue) Enqueue(_ context.Context, item *Item) (string, error) {
	prepare(item)

	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, item)
	return item.ID, nil
}

func (q *MemoryQueue) Pending(_ context.Context, limit int) ([]*Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.items)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]*Item, n)
	copy(out, q.items[:n])
	return out, nil
}

func (q *MemoryQueue) Dequeue(_ context.Context, n int) ([]*Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if n <= 0 || n > len(q.items) {
		n = len(q.items)
	}
	out := make([]*Item, n)
	copy(out, q.items[:n])
	q.items = q.items[n:]
	return out, nil
}

func (q *MemoryQueue) Len(context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.items)), nil
}
