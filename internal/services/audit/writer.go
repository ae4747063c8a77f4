package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// WriterSink writes newline-delimited JSON to any io.Writer
type WriterSink struct {
	mu   sync.Mutex
	w    io.Writer
	name string
}

// NewWriterSink wraps w. The writer is not closed by the sink.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w, name: "writer"}
}

func (s *WriterSink) Name() string {
	return s.name
}

func (s *WriterSink) Write(ctx context.Context, records []Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeNDJSON(ctx, s.w, records)
}

// FileSink appends newline-delimited JSON to a file, creating it if needed
type FileSink struct {
	mu   sync.Mutex
	path string
	perm os.FileMode
}

// NewFileSink returns a sink appending to path
func NewFileSink(path string) *FileSink {
	return &FileSink{path: path, perm: 0o640}
}

func (s *FileSink) Name() string {
	return "file:" + s.path
}

func (s *FileSink) Write(ctx context.Context, records []Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("failed to create trace directory: %w", err)
		}
	}

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, s.perm)
	if err != nil {
		return fmt.Errorf("failed to open trace file: %w", err)
	}

	if err := writeNDJSON(ctx, f, records); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to sync trace file: %w", err)
	}
	return f.Close()
}

// writeNDJSON buffers the whole batch so a failing record leaves nothing
// half-written from this call.
func writeNDJSON(ctx context.Context, w io.Writer, records []Record) error {
	var buf []byte
	for _, r := range records {
		line, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("failed to marshal trace record: %w", err)
		}
		buf = append(buf, line...)
		buf = append(buf, '\n')
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	bw := bufio.NewWriter(w)
	if _, err := bw.Write(buf); err != nil {
		return fmt.Errorf("failed to write trace records: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to flush trace records: %w", err)
	}
	return nil
}

// ReadNDJSON decodes records written by WriterSink or FileSink
func ReadNDJSON(r io.Reader) ([]Record, error) {
	var records []Record
	dec := json.NewDecoder(r)
	for dec.More() {
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			return records, fmt.Errorf("failed to decode trace record %d: %w", len(records)+1, err)
		}
		records = append(records, rec)
	}
	return records, nil
}
