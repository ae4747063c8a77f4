package audit

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/amerfu/pguard/internal/services/guardrails/types"
)

func sampleTrace() []types.TraceRecord {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return []types.TraceRecord{
		{
			ValidationEntry: types.ValidationEntry{
				ConstraintName: "no_pii",
				Passed:         false,
				Severity:       types.SeverityError,
				Message:        "PII detected: email",
				InputExcerpt:   "Contact me at [EMAIL REDACTED]",
				Timestamp:      ts,
			},
			ResultID:         "res-1",
			GuardrailName:    "customer_reply",
			GuardrailVersion: "1.2.0",
		},
		{
			ValidationEntry: types.ValidationEntry{
				ConstraintName: "length_check",
				Passed:         true,
				Severity:       types.SeverityWarning,
				Message:        "length 30 within [1, 100]",
				Timestamp:      ts.Add(time.Millisecond),
			},
			ResultID:         "res-1",
			GuardrailName:    "customer_reply",
			GuardrailVersion: "1.2.0",
		},
	}
}

type failingSink struct{ err error }

func (s *failingSink) Name() string { return "failing" }

func (s *failingSink) Write(context.Context, []Record) error { return s.err }

func TestNewRecord(t *testing.T) {
	trace := sampleTrace()

	r, err := NewRecord(trace[0])
	require.NoError(t, err)
	assert.Equal(t, "res-1", r.ResultID)
	assert.Equal(t, "customer_reply", r.GuardrailName)
	assert.Equal(t, "1.2.0", r.GuardrailVersion)
	assert.Equal(t, "ERROR", r.Severity)
	assert.Len(t, r.EntryHash, 64)
	assert.True(t, Verify(r))

	again, err := NewRecord(trace[0])
	require.NoError(t, err)
	assert.Equal(t, r.EntryHash, again.EntryHash, "hash is deterministic")

	tampered := r
	tampered.Passed = true
	assert.False(t, Verify(tampered))

	other, err := NewRecord(trace[1])
	require.NoError(t, err)
	assert.NotEqual(t, r.EntryHash, other.EntryHash)
}

func TestExport_WriterSink(t *testing.T) {
	var buf bytes.Buffer
	n, err := Export(context.Background(), NewWriterSink(&buf), sampleTrace())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	assert.Len(t, lines, 2)
	for _, field := range []string{"constraint_name", "severity", "passed", "message", "timestamp", "guardrail_name", "guardrail_version", "entry_hash"} {
		assert.Contains(t, string(lines[0]), `"`+field+`"`)
	}

	records, err := ReadNDJSON(&buf)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "no_pii", records[0].ConstraintName)
	assert.Equal(t, "length_check", records[1].ConstraintName)
	assert.True(t, Verify(records[0]))
	assert.True(t, Verify(records[1]))
}

func TestExport_SinkFailure(t *testing.T) {
	boom := errors.New("disk full")
	_, err := Export(context.Background(), &failingSink{err: boom}, sampleTrace())
	require.Error(t, err)

	var exportErr *ExportError
	require.True(t, errors.As(err, &exportErr))
	assert.Equal(t, "failing", exportErr.Sink)
	assert.Equal(t, 2, exportErr.Records)
	assert.ErrorIs(t, err, boom)
}

func TestExport_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var buf bytes.Buffer
	_, err := Export(ctx, NewWriterSink(&buf), sampleTrace())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, buf.Len())
}

func TestFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace", "validation.ndjson")
	sink := NewFileSink(path)

	_, err := Export(context.Background(), sink, sampleTrace())
	require.NoError(t, err)
	_, err = Export(context.Background(), sink, sampleTrace()[:1])
	require.NoError(t, err)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	records, err := ReadNDJSON(f)
	require.NoError(t, err)
	assert.Len(t, records, 3, "file sink appends")
}

func TestFileSink_Unwritable(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	_, err := Export(context.Background(), NewFileSink(filepath.Join(blocker, "trace.ndjson")), sampleTrace())
	var exportErr *ExportError
	assert.True(t, errors.As(err, &exportErr))
}

func TestRedisStreamSink(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	sink := NewRedisStreamSink(client, "", 1000, zap.NewNop())
	assert.Equal(t, "redis:"+DefaultStream, sink.Name())

	ctx := context.Background()
	n, err := Export(ctx, sink, sampleTrace())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	messages, err := client.XRange(ctx, DefaultStream, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "no_pii", messages[0].Values["constraint_name"])
	assert.Equal(t, "customer_reply@1.2.0", messages[0].Values["guardrail"])
	assert.Contains(t, messages[1].Values["data"], `"length_check"`)
}

func TestRedisStreamSink_Unavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	_, err := Export(context.Background(), NewRedisStreamSink(client, "trace", 0, zap.NewNop()), sampleTrace())
	var exportErr *ExportError
	require.True(t, errors.As(err, &exportErr))
	assert.Equal(t, "redis:trace", exportErr.Sink)
}
