package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultStream is the Redis stream trace records are appended to
const DefaultStream = "pguard:validation_trace"

// RedisStreamSink appends each record to a Redis stream with XADD
type RedisStreamSink struct {
	client *redis.Client
	logger *zap.Logger
	stream string
	maxLen int64
}

// NewRedisStreamSink creates a stream sink. maxLen <= 0 disables trimming.
func NewRedisStreamSink(client *redis.Client, stream string, maxLen int64, logger *zap.Logger) *RedisStreamSink {
	if stream == "" {
		stream = DefaultStream
	}
	return &RedisStreamSink{
		client: client,
		logger: logger.Named("audit_redis"),
		stream: stream,
		maxLen: maxLen,
	}
}

func (s *RedisStreamSink) Name() string {
	return "redis:" + s.stream
}

// Write pipelines every XADD and fails if any of them fails
func (s *RedisStreamSink) Write(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	pipe := s.client.Pipeline()
	for _, r := range records {
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("failed to marshal trace record: %w", err)
		}

		args := &redis.XAddArgs{
			Stream: s.stream,
			Values: map[string]interface{}{
				"result_id":       r.ResultID,
				"guardrail":       r.GuardrailName + "@" + r.GuardrailVersion,
				"constraint_name": r.ConstraintName,
				"entry_hash":      r.EntryHash,
				"data":            string(data),
			},
		}
		if s.maxLen > 0 {
			args.MaxLen = s.maxLen
			args.Approx = true
		}
		pipe.XAdd(ctx, args)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Error("Failed to append trace records to stream",
			zap.String("stream", s.stream),
			zap.Int("records", len(records)),
			zap.Error(err))
		return err
	}

	s.logger.Debug("Trace records appended",
		zap.String("stream", s.stream),
		zap.Int("records", len(records)))
	return nil
}
