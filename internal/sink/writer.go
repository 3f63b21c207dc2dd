package sink

import (
	"bufio"
	"encoding/csv"
	"errors"
	"io"
	"os"
	"slices"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/bias-runner/internal/model"
)

// Writer appends result rows to one CSV file. Flush is safe for concurrent
// use; each call is one buffered write followed by fsync.
type Writer struct {
	mu     sync.Mutex
	path   string
	schema Schema
}

// NewWriter prepares path for appending. A torn tail left by an earlier
// crash is cut off so that every row in the file is complete.
func NewWriter(path string, schema Schema) (*Writer, error) {
	dropped, err := Repair(path)
	if err != nil {
		return nil, err
	}
	if dropped > 0 {
		zap.L().Warn("sink: removed torn tail from results file",
			zap.String("path", path),
			zap.Int64("bytes", dropped),
		)
	}
	return &Writer{path: path, schema: schema}, nil
}

// Path returns the results file path.
func (w *Writer) Path() string {
	return w.path
}

// Flush appends batch to the file. The header is written only when the
// file is new or empty. On return without error the rows are on disk.
func (w *Writer) Flush(batch []model.Result) error {
	if len(batch) == 0 {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return eris.Wrapf(err, "sink: open %s", w.path)
	}
	defer f.Close() //nolint:errcheck

	info, err := f.Stat()
	if err != nil {
		return eris.Wrap(err, "sink: stat results")
	}

	bw := bufio.NewWriter(f)
	cw := csv.NewWriter(bw)
	if info.Size() == 0 {
		if err := cw.Write(w.schema.Header()); err != nil {
			return eris.Wrap(err, "sink: write header")
		}
	}
	for _, r := range batch {
		if err := cw.Write(w.schema.Row(r)); err != nil {
			return eris.Wrap(err, "sink: write row")
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return eris.Wrap(err, "sink: flush rows")
	}
	if err := bw.Flush(); err != nil {
		return eris.Wrap(err, "sink: flush buffer")
	}
	if err := f.Sync(); err != nil {
		return eris.Wrap(err, "sink: sync results")
	}
	return f.Close()
}

// Repair truncates an incomplete final record from a results file and
// returns the number of bytes removed. A record is incomplete when the
// file does not end in a newline or ends inside a quoted field. A malformed
// record followed by more input is left in place. A missing file needs no
// repair.
func Repair(path string) (int64, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, eris.Wrapf(err, "sink: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	info, err := f.Stat()
	if err != nil {
		return 0, eris.Wrap(err, "sink: stat results")
	}
	size := info.Size()
	if size == 0 {
		return 0, nil
	}

	// csv.NewReader reuses br, so Peek sees what the parser left unread.
	br := bufio.NewReader(f)
	r := csv.NewReader(br)
	r.FieldsPerRecord = -1
	var prev, cur int64
	torn := false
	for {
		_, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			if _, perr := br.Peek(1); perr == nil {
				zap.L().Warn("sink: malformed record before end of results, leaving file as is",
					zap.String("path", path),
					zap.Int64("offset", cur),
					zap.Error(err),
				)
				return 0, nil
			}
			torn = true
			break
		}
		prev, cur = cur, r.InputOffset()
	}

	keep := cur
	if !torn {
		last := make([]byte, 1)
		if _, err := f.ReadAt(last, size-1); err != nil {
			return 0, eris.Wrap(err, "sink: read last byte")
		}
		if last[0] == '\n' {
			return 0, nil
		}
		keep = prev
	}

	if err := f.Truncate(keep); err != nil {
		return 0, eris.Wrap(err, "sink: truncate torn tail")
	}
	if err := f.Sync(); err != nil {
		return 0, eris.Wrap(err, "sink: sync results")
	}
	return size - keep, nil
}

// HeaderMatches reports whether an existing results file starts with the
// schema's header. A missing or empty file matches.
func (w *Writer) HeaderMatches() (bool, error) {
	f, err := os.Open(w.path)
	if errors.Is(err, os.ErrNotExist) {
		return true, nil
	}
	if err != nil {
		return false, eris.Wrapf(err, "sink: open %s", w.path)
	}
	defer f.Close() //nolint:errcheck

	header, err := csv.NewReader(f).Read()
	if err == io.EOF {
		return true, nil
	}
	if err != nil {
		return false, eris.Wrap(err, "sink: read header")
	}
	return slices.Equal(header, w.schema.Header()), nil
}
