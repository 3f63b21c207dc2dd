// Package model defines the task, result, and record types shared across the runner.
package model

import (
	"strconv"
)

// Identity distinguishes one task from every other task of a stage.
// A prompt row asked of one model is one task.
type Identity struct {
	RowIndex int    `json:"row_index"`
	Model    string `json:"model"`
}

// Key returns a stable string form of the identity, suitable as a map key.
func (id Identity) Key() string {
	return strconv.Itoa(id.RowIndex) + "|" + id.Model
}

func (id Identity) String() string {
	return id.Key()
}

// Metadata carries context echoed from a task into its result.
type Metadata map[string]string

// Clone returns an independent copy.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Task is an immutable unit of work: one rendered prompt for one model.
type Task struct {
	Identity Identity
	Payload  string
	Metadata Metadata
}

// PromptRow is one rendered prompt for an input record under one variant
// combination. Row indices are assigned by position in the persisted prompt table.
type PromptRow struct {
	RowIndex int
	Prompt   string
	Metadata Metadata
}

// TasksFor expands a prompt row into one task per model.
func (r PromptRow) TasksFor(models []string) []Task {
	tasks := make([]Task, 0, len(models))
	for _, m := range models {
		tasks = append(tasks, Task{
			Identity: Identity{RowIndex: r.RowIndex, Model: m},
			Payload:  r.Prompt,
			Metadata: r.Metadata.Clone(),
		})
	}
	return tasks
}
