package sink

import (
	"github.com/sells-group/bias-runner/internal/model"
)

// DefaultBatchSize is how many results accumulate before a flush.
const DefaultBatchSize = 100

// Batcher buffers results and hands them to a Writer in batches. It is
// owned by a single goroutine.
type Batcher struct {
	w       *Writer
	size    int
	buf     []model.Result
	written int
}

// NewBatcher creates a Batcher flushing every size results.
func NewBatcher(w *Writer, size int) *Batcher {
	if size <= 0 {
		size = DefaultBatchSize
	}
	return &Batcher{w: w, size: size, buf: make([]model.Result, 0, size)}
}

// Add buffers r and flushes when the batch is full.
func (b *Batcher) Add(r model.Result) error {
	b.buf = append(b.buf, r)
	if len(b.buf) >= b.size {
		return b.Flush()
	}
	return nil
}

// Flush writes any buffered results. On error the buffer is kept.
func (b *Batcher) Flush() error {
	if len(b.buf) == 0 {
		return nil
	}
	if err := b.w.Flush(b.buf); err != nil {
		return err
	}
	b.written += len(b.buf)
	b.buf = b.buf[:0]
	return nil
}

// Close flushes the remainder.
func (b *Batcher) Close() error {
	return b.Flush()
}

// Pending returns the number of buffered, unwritten results.
func (b *Batcher) Pending() int {
	return len(b.buf)
}

// Written returns the number of results durably written.
func (b *Batcher) Written() int {
	return b.written
}
