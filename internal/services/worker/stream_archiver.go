package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/amerfu/pguard/internal/services/audit"
)

const (
	DefaultArchiverGroup = "pguard-archiver"
	defaultArchiverBatch = 100
	defaultArchiverBlock = 5 * time.Second
	archiverRetryDelay   = time.Second
)

// StreamArchiver moves trace records from the Redis audit stream into a
// durable sink. Messages are acknowledged only after the sink accepted
// them, so a crash replays the unacknowledged ones on restart.
type StreamArchiver struct {
	client    *redis.Client
	sink      audit.Sink
	logger    *zap.Logger
	stream    string
	group     string
	consumer  string
	batchSize int64
	block     time.Duration

	groupReady bool
}

type StreamArchiverConfig struct {
	Client    *redis.Client
	Sink      audit.Sink
	Logger    *zap.Logger
	Stream    string
	Group     string
	Consumer  string
	BatchSize int64
	// Block is how long a read waits for new messages. Negative reads
	// without waiting.
	Block time.Duration
}

func NewStreamArchiver(config *StreamArchiverConfig) *StreamArchiver {
	if config.Stream == "" {
		config.Stream = audit.DefaultStream
	}
	if config.Group == "" {
		config.Group = DefaultArchiverGroup
	}
	if config.Consumer == "" {
		config.Consumer = "archiver-1"
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaultArchiverBatch
	}
	if config.Block == 0 {
		config.Block = defaultArchiverBlock
	}

	return &StreamArchiver{
		client:    config.Client,
		sink:      config.Sink,
		logger:    config.Logger.Named("stream_archiver"),
		stream:    config.Stream,
		group:     config.Group,
		consumer:  config.Consumer,
		batchSize: config.BatchSize,
		block:     config.Block,
	}
}

// Run archives until ctx is cancelled
func (a *StreamArchiver) Run(ctx context.Context) error {
	a.logger.Info("Starting stream archiver",
		zap.String("stream", a.stream),
		zap.String("group", a.group),
		zap.String("sink", a.sink.Name()))

	for {
		n, err := a.ProcessOnce(ctx)
		if ctx.Err() != nil {
			a.logger.Info("Stream archiver stopped")
			return nil
		}
		if err != nil {
			a.logger.Error("Error archiving trace records", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(archiverRetryDelay):
			}
			continue
		}
		if n > 0 {
			a.logger.Debug("Archived trace records", zap.Int("count", n))
		}
	}
}

// ProcessOnce archives one batch. Messages this consumer claimed earlier but
// never acknowledged are retried before new ones are read.
func (a *StreamArchiver) ProcessOnce(ctx context.Context) (int, error) {
	if err := a.ensureGroup(ctx); err != nil {
		return 0, err
	}

	messages, err := a.read(ctx, "0", -1)
	if err != nil {
		return 0, err
	}
	if len(messages) == 0 {
		messages, err = a.read(ctx, ">", a.block)
		if err != nil {
			return 0, err
		}
	}
	if len(messages) == 0 {
		return 0, nil
	}

	records := make([]audit.Record, 0, len(messages))
	ids := make([]string, 0, len(messages))
	for _, msg := range messages {
		ids = append(ids, msg.ID)
		record, err := decodeMessage(msg)
		if err != nil {
			// Undecodable messages would be retried forever
			a.logger.Warn("Dropping malformed stream message",
				zap.String("id", msg.ID),
				zap.Error(err))
			continue
		}
		records = append(records, record)
	}

	if err := a.sink.Write(ctx, records); err != nil {
		return 0, &audit.ExportError{Sink: a.sink.Name(), Records: len(records), Err: err}
	}
	if err := a.client.XAck(ctx, a.stream, a.group, ids...).Err(); err != nil {
		return 0, fmt.Errorf("failed to acknowledge stream messages: %w", err)
	}
	return len(records), nil
}

func (a *StreamArchiver) ensureGroup(ctx context.Context) error {
	if a.groupReady {
		return nil
	}
	err := a.client.XGroupCreateMkStream(ctx, a.stream, a.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	a.groupReady = true
	return nil
}

func (a *StreamArchiver) read(ctx context.Context, id string, block time.Duration) ([]redis.XMessage, error) {
	streams, err := a.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    a.group,
		Consumer: a.consumer,
		Streams:  []string{a.stream, id},
		Count:    a.batchSize,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read stream: %w", err)
	}

	var out []redis.XMessage
	for _, s := range streams {
		out = append(out, s.Messages...)
	}
	return out, nil
}

func decodeMessage(msg redis.XMessage) (audit.Record, error) {
	var record audit.Record
	raw, ok := msg.Values["data"].(string)
	if !ok {
		return record, fmt.Errorf("message has no data field")
	}
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return record, fmt.Errorf("invalid record: %w", err)
	}
	return record, nil
}
