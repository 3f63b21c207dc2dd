// Package bias builds the prompt tables for each bias-probing stage and
// parses the structured fields out of model responses.
package bias

import (
	"context"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/sells-group/bias-runner/internal/checkpoint"
	"github.com/sells-group/bias-runner/internal/model"
)

// Stage turns input records into prompt rows and defines the shape of its
// results.
type Stage interface {
	Name() string
	// PromptColumns are the metadata columns persisted with each prompt.
	PromptColumns() []string
	// ResultColumns are the metadata columns echoed into each result row.
	ResultColumns() []string
	// Fields are the parsed response columns.
	Fields() []string
	Extract(response string) model.Fields
	// Build renders prompt rows. derived holds precomputed values for
	// stages that implement Precomputer and is nil otherwise.
	Build(records []model.Record, derived map[string]string) ([]model.PromptRow, error)
}

// Precomputer is implemented by stages that derive a value per record
// before building prompts. The derivation is memoized by a checkpoint cache.
type Precomputer interface {
	PrecomputeKeys(records []model.Record) []string
	Derive(records []model.Record) checkpoint.DeriveFunc
}

// rateFields provides the response parsing shared by every stage.
type rateFields struct{}

func (rateFields) Fields() []string { return ResultFields }

func (rateFields) Extract(response string) model.Fields { return ExtractRate(response) }

// ErrUnknownStage is returned by Registry.Get for unregistered names.
var ErrUnknownStage = eris.New("bias: unknown stage")

// Registry holds the configured stages by name.
type Registry struct {
	stages map[string]Stage
}

// NewRegistry registers stages by their names.
func NewRegistry(stages ...Stage) *Registry {
	r := &Registry{stages: make(map[string]Stage, len(stages))}
	for _, s := range stages {
		r.stages[s.Name()] = s
	}
	return r
}

// Get returns the named stage.
func (r *Registry) Get(name string) (Stage, error) {
	s, ok := r.stages[name]
	if !ok {
		return nil, eris.Wrapf(ErrUnknownStage, "bias: %q", name)
	}
	return s, nil
}

// Names returns registered stage names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.stages))
	for n := range r.stages {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// CleanFunc sends a cleaning prompt for one record and returns the
// model's rewrite.
type CleanFunc func(ctx context.Context, rowIndex int, prompt string) (string, error)
