package source

import (
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/bias-runner/internal/model"
)

// PromptColumn holds the rendered prompt text in a prompt table.
const PromptColumn = "prompt"

// PromptTable is the on-disk table of rendered prompts for one stage.
// A row's index is its position in the table, so the file is generated once
// and re-read on every later run.
type PromptTable struct {
	Path string
	// Columns are the metadata columns written after the prompt.
	Columns []string
}

// LoadOrBuild returns the persisted prompt rows, calling build and saving
// its output when the table does not exist yet. The bool reports whether
// the table was built by this call.
func (t PromptTable) LoadOrBuild(ctx context.Context, build func(context.Context) ([]model.PromptRow, error)) ([]model.PromptRow, bool, error) {
	if _, err := os.Stat(t.Path); err == nil {
		rows, err := t.Load(ctx)
		if err != nil {
			return nil, false, err
		}
		zap.L().Info("prompt table exists, skipping generation",
			zap.String("path", t.Path),
			zap.Int("rows", len(rows)),
		)
		return rows, false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, false, eris.Wrapf(err, "source: stat %s", t.Path)
	}

	rows, err := build(ctx)
	if err != nil {
		return nil, false, err
	}
	for i := range rows {
		rows[i].RowIndex = i
	}
	if err := t.Save(rows); err != nil {
		return nil, false, err
	}
	zap.L().Info("generated prompt table",
		zap.String("path", t.Path),
		zap.Int("rows", len(rows)),
	)
	return rows, true, nil
}

// Load reads the table. Metadata is keyed by every column except the prompt.
func (t PromptTable) Load(ctx context.Context) ([]model.PromptRow, error) {
	f, err := os.Open(t.Path)
	if err != nil {
		return nil, eris.Wrapf(err, "source: open %s", t.Path)
	}
	defer f.Close() //nolint:errcheck

	header, records, err := ReadCSV(ctx, f)
	if err != nil {
		return nil, eris.Wrapf(err, "source: parse %s", t.Path)
	}

	promptIdx := -1
	for i, col := range header {
		if col == PromptColumn {
			promptIdx = i
		}
	}
	if promptIdx < 0 {
		return nil, eris.Errorf("source: %s has no %q column", t.Path, PromptColumn)
	}

	rows := make([]model.PromptRow, 0, len(records))
	for i, rec := range records {
		row := model.PromptRow{RowIndex: i, Metadata: model.Metadata{}}
		for j, col := range header {
			var v string
			if j < len(rec) {
				v = rec[j]
			}
			if j == promptIdx {
				row.Prompt = v
				continue
			}
			row.Metadata[col] = v
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Save writes the table atomically through a temp file and rename.
func (t PromptTable) Save(rows []model.PromptRow) error {
	if dir := filepath.Dir(t.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return eris.Wrapf(err, "source: create dir %s", dir)
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(t.Path), filepath.Base(t.Path)+".tmp-*")
	if err != nil {
		return eris.Wrap(err, "source: create temp prompt table")
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	w := csv.NewWriter(tmp)
	if err := w.Write(append([]string{PromptColumn}, t.Columns...)); err != nil {
		tmp.Close() //nolint:errcheck
		return eris.Wrap(err, "source: write prompt header")
	}
	for _, row := range rows {
		rec := make([]string, 0, len(t.Columns)+1)
		rec = append(rec, row.Prompt)
		for _, col := range t.Columns {
			rec = append(rec, row.Metadata[col])
		}
		if err := w.Write(rec); err != nil {
			tmp.Close() //nolint:errcheck
			return eris.Wrap(err, "source: write prompt row")
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close() //nolint:errcheck
		return eris.Wrap(err, "source: flush prompt table")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close() //nolint:errcheck
		return eris.Wrap(err, "source: sync prompt table")
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrap(err, "source: close prompt table")
	}
	if err := os.Rename(tmp.Name(), t.Path); err != nil {
		return eris.Wrap(err, "source: rename prompt table")
	}
	return nil
}
