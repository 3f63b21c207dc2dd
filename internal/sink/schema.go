// Package sink appends terminal results to the stage's results CSV in
// durable batches.
package sink

import (
	"strconv"

	"github.com/sells-group/bias-runner/internal/model"
)

// Fixed result columns. Stage fields follow ResponseColumn and metadata
// columns follow BackoffColumn.
const (
	RowIndexColumn = "row_index"
	ModelColumn    = "model"
	ResponseColumn = "response"
	StatusColumn   = "status"
	AttemptsColumn = "attempts"
	BackoffColumn  = "backoff_ms"
)

// Schema fixes the column order of a results file.
type Schema struct {
	Fields   []string
	Metadata []string
}

// Header returns the column names in write order.
func (s Schema) Header() []string {
	h := make([]string, 0, 6+len(s.Fields)+len(s.Metadata))
	h = append(h, RowIndexColumn, ModelColumn, ResponseColumn)
	h = append(h, s.Fields...)
	h = append(h, StatusColumn, AttemptsColumn, BackoffColumn)
	h = append(h, s.Metadata...)
	return h
}

// Row renders a result in header order. Missing fields render empty.
func (s Schema) Row(r model.Result) []string {
	row := make([]string, 0, 6+len(s.Fields)+len(s.Metadata))
	row = append(row,
		strconv.Itoa(r.Identity.RowIndex),
		r.Identity.Model,
		r.Response,
	)
	for _, f := range s.Fields {
		row = append(row, r.Fields[f])
	}
	row = append(row,
		r.Status,
		strconv.Itoa(r.Attempts),
		strconv.FormatInt(r.Backoff.Milliseconds(), 10),
	)
	for _, m := range s.Metadata {
		row = append(row, r.Metadata[m])
	}
	return row
}
