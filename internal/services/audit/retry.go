package audit

import (
	"context"

	"go.uber.org/zap"

	"github.com/amerfu/pguard/internal/services/retry"
)

// RetrySink retries failed writes to the wrapped sink with backoff. Sinks
// must tolerate a batch being written more than once; the Postgres sink
// skips duplicates by entry hash.
type RetrySink struct {
	sink   Sink
	config *retry.Config
	logger *zap.Logger
}

// WithRetry wraps sink. A nil config uses retry.DefaultConfig.
func WithRetry(sink Sink, config *retry.Config, logger *zap.Logger) *RetrySink {
	if config == nil {
		config = retry.DefaultConfig()
	}
	return &RetrySink{sink: sink, config: config, logger: logger.Named("audit_retry")}
}

func (s *RetrySink) Name() string {
	return s.sink.Name()
}

// Unwrap returns the wrapped sink
func (s *RetrySink) Unwrap() Sink {
	return s.sink
}

func (s *RetrySink) Write(ctx context.Context, records []Record) error {
	attempt := 0
	return retry.Do(ctx, s.config, func(ctx context.Context) error {
		attempt++
		err := s.sink.Write(ctx, records)
		if err != nil && attempt < s.config.MaxAttempts {
			s.logger.Warn("Audit sink write failed, retrying",
				zap.String("sink", s.sink.Name()),
				zap.Int("attempt", attempt),
				zap.Int("records", len(records)),
				zap.Error(err))
		}
		return err
	}, nil)
}
