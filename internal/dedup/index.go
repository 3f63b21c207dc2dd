// Package dedup builds the read-only set of task identities that already
// have a persisted result.
package dedup

import (
	"context"
	"errors"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/bias-runner/internal/model"
	"github.com/sells-group/bias-runner/internal/source"
)

// Columns that identify a task in a results file.
const (
	RowIndexColumn = "row_index"
	ModelColumn    = "model"
)

// Index is a snapshot of completed identities. It is never mutated after
// Load, so concurrent lookups need no locking.
type Index struct {
	done map[string]struct{}
}

// Contains reports whether id already has a persisted result.
func (ix *Index) Contains(id model.Identity) bool {
	if ix == nil {
		return false
	}
	_, ok := ix.done[id.Key()]
	return ok
}

// Len returns the number of distinct completed identities.
func (ix *Index) Len() int {
	if ix == nil {
		return 0
	}
	return len(ix.done)
}

// Load scans a results file and returns the identities it holds.
// It never fails: a missing or unreadable file yields an empty index, a
// header without the identity columns yields an empty index, and malformed
// rows are skipped. A parse error ends the scan but keeps every row read
// before it. A final row without its terminating newline is torn and never
// counted, even when it has every column.
func Load(ctx context.Context, path string) *Index {
	ix := &Index{done: make(map[string]struct{})}
	log := zap.L().With(zap.String("path", path))

	f, err := os.Open(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Warn("dedup: cannot open results, starting empty", zap.Error(err))
		}
		return ix
	}
	defer f.Close() //nolint:errcheck

	torn := endsTorn(f)
	headerCh := make(chan []string, 1)
	rowCh, errCh := source.StreamCSV(ctx, f, source.CSVOptions{HasHeader: true, HeaderCh: headerCh})

	idxCol, modelCol, width := -1, -1, 0
	skipped := 0
	add := func(row []string) {
		if len(row) != width {
			skipped++
			return
		}
		rowIndex, err := strconv.Atoi(strings.TrimSpace(row[idxCol]))
		if err != nil || row[modelCol] == "" {
			skipped++
			return
		}
		ix.done[model.Identity{RowIndex: rowIndex, Model: row[modelCol]}.Key()] = struct{}{}
	}

	// Rows are committed one behind so the last can be judged once the
	// scan ends.
	var last []string
	for row := range rowCh {
		if width == 0 {
			header := <-headerCh
			width = len(header)
			for i, col := range header {
				switch strings.TrimSpace(col) {
				case RowIndexColumn:
					idxCol = i
				case ModelColumn:
					modelCol = i
				}
			}
			if idxCol < 0 || modelCol < 0 {
				log.Warn("dedup: results header lacks identity columns, starting empty",
					zap.Strings("header", header))
				drain(rowCh)
				break
			}
		}

		if last != nil {
			add(last)
		}
		last = row
	}

	// A parse error means the torn bytes never became a row.
	err = <-errCh
	switch {
	case err != nil:
		if last != nil {
			add(last)
		}
		log.Warn("dedup: results scan stopped early", zap.Error(err), zap.Int("kept", len(ix.done)))
	case last != nil && torn:
		log.Warn("dedup: ignoring torn final row", zap.Strings("row", last))
	case last != nil:
		add(last)
	}
	if skipped > 0 {
		log.Warn("dedup: skipped malformed result rows", zap.Int("skipped", skipped))
	}
	return ix
}

// endsTorn reports whether a non-empty file lacks its final newline.
func endsTorn(f *os.File) bool {
	info, err := f.Stat()
	if err != nil || info.Size() == 0 {
		return false
	}
	b := make([]byte, 1)
	if _, err := f.ReadAt(b, info.Size()-1); err != nil {
		return false
	}
	return b[0] != '\n'
}

func drain(ch <-chan []string) {
	for range ch {
	}
}
