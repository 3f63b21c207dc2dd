package engine

import (
	"time"

	"go.uber.org/zap"
)

// Summary reports the outcome of one run.
type Summary struct {
	RunID string `json:"run_id"`
	Stage string `json:"stage"`

	// Total is the number of tasks in the stage; Skipped of them already
	// had a persisted result.
	Total   int `json:"total"`
	Skipped int `json:"skipped"`

	Success  int `json:"success"`
	Unparsed int `json:"unparsed"` // successes whose response held no parseable fields
	Rejected int `json:"rejected"`
	Errored  int `json:"errored"`
	// Exhausted tasks used every attempt.
	Exhausted int `json:"exhausted"`
	TimedOut  int `json:"timed_out"`

	// Written is the number of result rows appended this run.
	Written     int           `json:"written"`
	Interrupted bool          `json:"interrupted"`
	Elapsed     time.Duration `json:"elapsed_ns"`
}

// Failed is the number of tasks that finished without a successful response.
func (s *Summary) Failed() int {
	return s.Rejected + s.Errored + s.Exhausted + s.TimedOut
}

// Completed is the number of tasks that reached a terminal outcome this run.
func (s *Summary) Completed() int {
	return s.Success + s.Failed()
}

func (s *Summary) fields() []zap.Field {
	return []zap.Field{
		zap.Int("total", s.Total),
		zap.Int("skipped", s.Skipped),
		zap.Int("success", s.Success),
		zap.Int("unparsed", s.Unparsed),
		zap.Int("rejected", s.Rejected),
		zap.Int("errored", s.Errored),
		zap.Int("exhausted", s.Exhausted),
		zap.Int("timed_out", s.TimedOut),
		zap.Int("written", s.Written),
	}
}
