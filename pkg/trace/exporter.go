//go:build tracing

package trace

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileExporter appends trace records to a JSON Lines file, rolling the file
// over when it grows past a size threshold.
type FileExporter struct {
	path        string
	maxBytes    int64
	keepRotated int
	file        *os.File
	enc         *json.Encoder
	mu          sync.Mutex
	closed      bool
}

// WithMaxSize sets the maximum file size before rollover (default: 10MB).
func WithMaxSize(bytes int64) FileExporterOption {
	return func(iface interface{}) {
		if fe, ok := iface.(*FileExporter); ok {
			fe.maxBytes = bytes
		}
	}
}

// WithMaxRotatedFiles sets how many rolled files to keep (default: 5).
func WithMaxRotatedFiles(count int) FileExporterOption {
	return func(iface interface{}) {
		if fe, ok := iface.(*FileExporter); ok {
			fe.keepRotated = count
		}
	}
}

// NewFileExporter creates a file-based trace exporter. The file is opened
// immediately; rollover is checked after each Export.
func NewFileExporter(filePath string, opts ...FileExporterOption) (Exporter, error) {
	fe := &FileExporter{
		path:        filePath,
		maxBytes:    10 * 1024 * 1024,
		keepRotated: 5,
	}
	for _, opt := range opts {
		opt(fe)
	}

	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return nil, fmt.Errorf("create trace directory: %w", err)
	}
	if err := fe.open(); err != nil {
		return nil, err
	}

	return fe, nil
}

// Export writes a trace record as a JSON Lines entry.
func (fe *FileExporter) Export(ctx context.Context, record *TraceRecord) error {
	fe.mu.Lock()
	defer fe.mu.Unlock()

	if fe.closed {
		return fmt.Errorf("exporter closed")
	}

	if err := fe.enc.Encode(record); err != nil {
		return fmt.Errorf("encode trace record: %w", err)
	}

	return fe.rollIfNeeded()
}

// Close flushes and closes the trace file.
func (fe *FileExporter) Close() error {
	fe.mu.Lock()
	defer fe.mu.Unlock()

	if fe.closed {
		return nil
	}
	fe.closed = true

	if fe.file == nil {
		return nil
	}
	if err := fe.file.Sync(); err != nil {
		fe.file.Close()
		return fmt.Errorf("sync trace file: %w", err)
	}
	return fe.file.Close()
}

// open opens the trace file for append. Must be called with lock held
// (or before the exporter is shared).
func (fe *FileExporter) open() error {
	file, err := os.OpenFile(fe.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open trace file: %w", err)
	}
	fe.file = file
	fe.enc = json.NewEncoder(file)
	return nil
}

// rollIfNeeded checks the file size and rolls the file over when the
// threshold is exceeded. Must be called with lock held.
func (fe *FileExporter) rollIfNeeded() error {
	info, err := fe.file.Stat()
	if err != nil {
		return fmt.Errorf("stat trace file: %w", err)
	}
	if info.Size() < fe.maxBytes {
		return nil
	}

	if err := fe.file.Close(); err != nil {
		return fmt.Errorf("close trace file for rollover: %w", err)
	}

	// Shift trace.jsonl.N-1 -> trace.jsonl.N, dropping the oldest.
	oldest := fmt.Sprintf("%s.%d", fe.path, fe.keepRotated)
	if _, err := os.Stat(oldest); err == nil {
		if err := os.Remove(oldest); err != nil {
			return fmt.Errorf("remove oldest rolled file: %w", err)
		}
	}
	for i := fe.keepRotated - 1; i >= 1; i-- {
		from := fmt.Sprintf("%s.%d", fe.path, i)
		to := fmt.Sprintf("%s.%d", fe.path, i+1)
		if _, err := os.Stat(from); err == nil {
			if err := os.Rename(from, to); err != nil {
				return fmt.Errorf("shift rolled file %s -> %s: %w", from, to, err)
			}
		}
	}
	if err := os.Rename(fe.path, fe.path+".1"); err != nil {
		return fmt.Errorf("roll current trace file: %w", err)
	}

	return fe.open()
}
