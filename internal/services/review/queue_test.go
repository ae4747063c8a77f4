package review

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/amerfu/pguard/internal/services/guardrails/types"
)

func newItem(output string) *Item {
	result := &types.ValidationResult{
		ID:               "res-" + output,
		GuardrailName:    "reply",
		GuardrailVersion: "1.0.0",
		Entries: []types.ValidationEntry{
			{ConstraintName: "tone", Passed: false, Severity: types.SeverityError, Message: "tone is hostile", Timestamp: time.Now()},
			{ConstraintName: "length", Passed: true, Severity: types.SeverityError, Message: "ok", Timestamp: time.Now()},
		},
	}
	return NewItem(types.Record{"output": output}, result)
}

func queueContract(t *testing.T, q Queue) {
	ctx := context.Background()

	first, err := q.Enqueue(ctx, newItem("one"))
	require.NoError(t, err)
	assert.NotEmpty(t, first)
	_, err = q.Enqueue(ctx, newItem("two"))
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, newItem("three"))
	require.NoError(t, err)

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	pending, err := q.Pending(ctx, 2)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, first, pending[0].ID)
	assert.Equal(t, "one", pending[0].Record["output"])
	assert.Equal(t, []string{"tone: tone is hostile"}, pending[0].Reasons)
	assert.Equal(t, "reply", pending[0].GuardrailName)

	n, err = q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n, "pending does not claim")

	claimed, err := q.Dequeue(ctx, 2)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	assert.Equal(t, "one", claimed[0].Record["output"])
	assert.Equal(t, "two", claimed[1].Record["output"])

	rest, err := q.Dequeue(ctx, 5)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "three", rest[0].Record["output"])

	n, err = q.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMemoryQueue(t *testing.T) {
	queueContract(t, NewMemoryQueue())
}

func TestRedisQueue(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	queueContract(t, NewRedisQueue(client, "", zap.NewNop()))
}

func TestNewItem_CopiesRecord(t *testing.T) {
	record := types.Record{"output": "original"}
	item := NewItem(record, nil)
	record["output"] = "changed"
	assert.Equal(t, "original", item.Record["output"])
}

func TestRedisQueue_UndecodableItemsAreDeadLettered(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	ctx := context.Background()

	q := NewRedisQueue(client, "reviews", zap.NewNop())
	_, err := q.Enqueue(ctx, newItem("valid"))
	require.NoError(t, err)
	require.NoError(t, client.LPush(ctx, "reviews", "{not json").Err())

	claimed, err := q.Dequeue(ctx, 5)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, "valid", claimed[0].Record["output"])

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	dead, err := q.DeadLetters(ctx, 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, "{not json", dead[0].Payload)
	assert.NotEmpty(t, dead[0].Error)
	assert.False(t, dead[0].FailedAt.IsZero())

	assert.True(t, mr.Exists("reviews:dead_letter"))
}
