package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/amerfu/pguard/internal/services/audit"
)

// Flusher exports and drops buffered trace entries
type Flusher interface {
	Flush(ctx context.Context, sink audit.Sink) (int, error)
}

// TraceExporter periodically flushes a validator's trace buffer to an audit
// sink. Failed flushes keep the entries buffered and are retried on the next
// tick.
type TraceExporter struct {
	flusher  Flusher
	sink     audit.Sink
	logger   *zap.Logger
	interval time.Duration
	timeout  time.Duration

	stopCh   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

type TraceExporterConfig struct {
	Flusher  Flusher
	Sink     audit.Sink
	Logger   *zap.Logger
	Interval time.Duration
	// Timeout bounds each flush. Defaults to the interval.
	Timeout time.Duration
}

func NewTraceExporter(config *TraceExporterConfig) *TraceExporter {
	if config.Interval == 0 {
		config.Interval = 30 * time.Second
	}
	if config.Timeout == 0 {
		config.Timeout = config.Interval
	}

	return &TraceExporter{
		flusher:  config.Flusher,
		sink:     config.Sink,
		logger:   config.Logger.Named("trace_exporter"),
		interval: config.Interval,
		timeout:  config.Timeout,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start begins the background export loop
func (te *TraceExporter) Start(ctx context.Context) {
	te.logger.Info("Starting trace exporter",
		zap.String("sink", te.sink.Name()),
		zap.Duration("interval", te.interval))

	go te.exportLoop(ctx)
}

// Stop ends the loop after one final flush and waits for it to finish
func (te *TraceExporter) Stop() {
	te.stopOnce.Do(func() {
		te.logger.Info("Stopping trace exporter")
		close(te.stopCh)
	})
	<-te.done
}

func (te *TraceExporter) exportLoop(ctx context.Context) {
	defer close(te.done)

	ticker := time.NewTicker(te.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			te.logger.Info("Trace exporter context cancelled")
			return
		case <-te.stopCh:
			// Final flush must outlive the cancelled request contexts
			te.flush(context.Background())
			te.logger.Info("Trace exporter stopped")
			return
		case <-ticker.C:
			te.flush(ctx)
		}
	}
}

func (te *TraceExporter) flush(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, te.timeout)
	defer cancel()

	n, err := te.flusher.Flush(ctx, te.sink)
	if err != nil {
		te.logger.Error("Error flushing trace", zap.Error(err))
		return
	}
	if n > 0 {
		te.logger.Debug("Flushed trace entries", zap.Int("count", n))
	}
}
