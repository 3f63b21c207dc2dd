package model

import (
	"strconv"
	"strings"
	"time"
)

// Status values persisted with every result.
const (
	StatusSuccess            = "success"
	StatusMaxRetriesExceeded = "max_retries_exceeded"

	statusErrorPrefix = "error_"
)

// StatusClass groups persisted statuses for run summaries.
type StatusClass string

const (
	ClassSuccess   StatusClass = "success"
	ClassRejected  StatusClass = "rejected"  // deterministic non-2xx, error_<code>
	ClassErrored   StatusClass = "errored"   // unexpected failure, error_<reason>
	ClassExhausted StatusClass = "exhausted" // retries used up
	ClassUnknown   StatusClass = "unknown"
)

// ErrorStatus formats a failure status from a status code or reason.
func ErrorStatus(reason string) string {
	return statusErrorPrefix + reason
}

// ClassifyStatus maps a persisted status string to its class.
func ClassifyStatus(status string) StatusClass {
	switch {
	case status == StatusSuccess:
		return ClassSuccess
	case status == StatusMaxRetriesExceeded:
		return ClassExhausted
	case strings.HasPrefix(status, statusErrorPrefix):
		rest := strings.TrimPrefix(status, statusErrorPrefix)
		if _, err := strconv.Atoi(rest); err == nil {
			return ClassRejected
		}
		return ClassErrored
	default:
		return ClassUnknown
	}
}

// Fields holds structured values parsed from a successful response.
// A nil Fields means the response could not be parsed.
type Fields map[string]string

// Result is the terminal outcome of attempting a task.
type Result struct {
	Identity Identity
	Status   string
	// Response is set only when Status is StatusSuccess.
	Response string
	Fields   Fields
	Metadata Metadata

	Attempts int
	// Backoff is the total time slept between attempts.
	Backoff time.Duration
}

// OK reports whether the task succeeded at the transport level.
func (r Result) OK() bool {
	return r.Status == StatusSuccess
}
