package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/bias-runner/internal/engine"
	"github.com/sells-group/bias-runner/internal/model"
	"github.com/sells-group/bias-runner/internal/sink"
	"github.com/sells-group/bias-runner/internal/source"
)

var (
	statusStage   string
	statusResults string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report result counts by status for a stage",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := statusResults
		if path == "" {
			if statusStage == "" {
				return eris.New("one of --stage or --results is required")
			}
			path = engine.ResultsPath(cfg.Run.OutputDir, statusStage)
		}

		t, err := tallyResults(cmd.Context(), path)
		if err != nil {
			return err
		}
		t.print(cmd.OutOrStdout(), path)
		return nil
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusStage, "stage", "", "stage whose results file to read")
	statusCmd.Flags().StringVar(&statusResults, "results", "", "results file path (overrides --stage)")
	rootCmd.AddCommand(statusCmd)
}

// resultTally counts the rows of a results file.
type resultTally struct {
	Rows     int
	ByStatus map[string]int
	ByClass  map[model.StatusClass]int
	ByModel  map[string]int
}

// tallyResults reads a results file and counts rows by status, status
// class, and model.
func tallyResults(ctx context.Context, path string) (*resultTally, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "open results %s", path)
	}
	defer f.Close() //nolint:errcheck

	header, rows, err := source.ReadCSV(ctx, f)
	if err != nil {
		return nil, eris.Wrapf(err, "read results %s", path)
	}
	statusCol, modelCol := -1, -1
	for i, h := range header {
		switch h {
		case sink.StatusColumn:
			statusCol = i
		case sink.ModelColumn:
			modelCol = i
		}
	}
	if statusCol < 0 || modelCol < 0 {
		return nil, eris.Errorf("results %s has no %s or %s column", path, sink.StatusColumn, sink.ModelColumn)
	}

	t := &resultTally{
		ByStatus: make(map[string]int),
		ByClass:  make(map[model.StatusClass]int),
		ByModel:  make(map[string]int),
	}
	for _, row := range rows {
		if len(row) <= statusCol || len(row) <= modelCol {
			continue
		}
		t.Rows++
		t.ByStatus[row[statusCol]]++
		t.ByClass[model.ClassifyStatus(row[statusCol])]++
		t.ByModel[row[modelCol]]++
	}
	return t, nil
}

func (t *resultTally) print(w io.Writer, path string) {
	fmt.Fprintf(w, "%s: %d rows\n", path, t.Rows)
	for _, c := range []model.StatusClass{model.ClassSuccess, model.ClassRejected, model.ClassErrored, model.ClassExhausted, model.ClassUnknown} {
		if n := t.ByClass[c]; n > 0 {
			fmt.Fprintf(w, "  %-10s %d\n", c, n)
		}
	}
	fmt.Fprintln(w, "by status:")
	for _, s := range sortedKeys(t.ByStatus) {
		fmt.Fprintf(w, "  %-24s %d\n", s, t.ByStatus[s])
	}
	fmt.Fprintln(w, "by model:")
	for _, m := range sortedKeys(t.ByModel) {
		fmt.Fprintf(w, "  %-40s %d\n", m, t.ByModel[m])
	}
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
