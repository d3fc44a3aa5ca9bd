package logger

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/faunavision/faunavision-go/internal/errors"
)

const (
	// DefaultBufferSize batches small JSON records into larger writes
	DefaultBufferSize = 32 * 1024
	// DefaultFlushInterval bounds how long a record may sit in the buffer
	DefaultFlushInterval = 5 * time.Second

	logFilePermissions = 0o600
)

// BufferedFileWriter is a goroutine-safe buffered appender for a log file.
// A background loop flushes it every flush interval until Close.
type BufferedFileWriter struct {
	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
	closed bool

	interval time.Duration
	stop     chan struct{}
	done     chan struct{}
}

// NewBufferedFileWriter opens path for appending. A zero interval disables
// the background flush loop.
func NewBufferedFileWriter(path string, interval time.Duration) (*BufferedFileWriter, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePermissions) //nolint:gosec // path comes from operator config
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}

	w := &BufferedFileWriter{
		file:     file,
		writer:   bufio.NewWriterSize(file, DefaultBufferSize),
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	if interval > 0 {
		go w.flushLoop()
	} else {
		close(w.done)
	}

	return w, nil
}

func (w *BufferedFileWriter) flushLoop() {
	defer close(w.done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			// errors surface on the next Write
			_ = w.Flush()
		}
	}
}

// Write buffers p.
func (w *BufferedFileWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, fmt.Errorf("log writer is closed")
	}
	return w.writer.Write(p)
}

// Flush pushes buffered bytes to the OS without fsync.
func (w *BufferedFileWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	return w.writer.Flush()
}

// Close stops the flush loop, syncs and closes the file. It is idempotent.
func (w *BufferedFileWriter) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	close(w.stop)
	<-w.done

	w.mu.Lock()
	defer w.mu.Unlock()

	var errs []error
	if err := w.writer.Flush(); err != nil {
		errs = append(errs, fmt.Errorf("failed to flush log buffer: %w", err))
	}
	if err := w.file.Sync(); err != nil {
		errs = append(errs, fmt.Errorf("failed to sync log file: %w", err))
	}
	if err := w.file.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close log file: %w", err))
	}
	return errors.Join(errs...)
}

var _ io.WriteCloser = (*BufferedFileWriter)(nil)
