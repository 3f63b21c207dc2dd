package source

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/bias-runner/internal/model"
)

// ErrNoInput is returned when the data directory holds no input files.
var ErrNoInput = eris.New("source: no input files")

// Option configures LoadDir.
type Option func(*loadOptions)

type loadOptions struct {
	charset string
}

// WithCharset decodes CSV input from the named charset instead of UTF-8.
func WithCharset(name string) Option {
	return func(o *loadOptions) {
		o.charset = name
	}
}

// LoadDir reads every *.csv and *.xlsx file in dir, in name order, and
// returns the records with a running index. Each record is tagged with the
// base name of its file under model.SourceFileColumn.
func LoadDir(ctx context.Context, dir string, opts ...Option) ([]model.Record, error) {
	var o loadOptions
	for _, opt := range opts {
		opt(&o)
	}

	var files []string
	for _, pattern := range []string{"*.csv", "*.xlsx"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, eris.Wrapf(err, "source: glob %s", pattern)
		}
		files = append(files, matches...)
	}
	if len(files) == 0 {
		return nil, eris.Wrapf(ErrNoInput, "source: %s", dir)
	}
	sort.Strings(files)

	var records []model.Record
	for _, path := range files {
		header, rows, err := readFile(ctx, path, o.charset)
		if err != nil {
			return nil, err
		}
		name := filepath.Base(path)
		for _, row := range rows {
			records = append(records, toRecord(len(records), header, row, name))
		}
		zap.L().Info("loaded input file",
			zap.String("file", name),
			zap.Int("rows", len(rows)),
		)
	}
	return records, nil
}

func readFile(ctx context.Context, path, charset string) ([]string, [][]string, error) {
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		return ReadXLSX(path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "source: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	r, err := Decoder(f, charset)
	if err != nil {
		return nil, nil, err
	}
	header, rows, err := ReadCSV(ctx, r)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "source: parse %s", path)
	}
	return header, rows, nil
}

func toRecord(index int, header, row []string, file string) model.Record {
	fields := make(map[string]string, len(header)+1)
	for i, col := range header {
		col = strings.TrimSpace(col)
		if col == "" {
			continue
		}
		if i < len(row) {
			fields[col] = row[i]
		} else {
			fields[col] = ""
		}
	}
	fields[model.SourceFileColumn] = file
	return model.Record{Index: index, Fields: fields}
}

// Filter returns the records whose field equals value.
func Filter(records []model.Record, field, value string) []model.Record {
	var out []model.Record
	for _, r := range records {
		if strings.TrimSpace(r.Fields[field]) == value {
			out = append(out, r)
		}
	}
	return out
}
