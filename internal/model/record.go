package model

import "strings"

// Sentinels written wherever an input field is missing. They flow into
// rendered prompts and persisted output, so the text must not change.
const (
	NotAvailable = "Not available"
	NotSpecified = "Not specified"
	Unknown      = "Unknown"
)

// SourceFileColumn is added to every loaded record.
const SourceFileColumn = "source_file"

var missingTokens = map[string]bool{
	"":     true,
	"nan":  true,
	"none": true,
	"null": true,
	"<na>": true,
}

// IsMissing reports whether a raw field value should be treated as absent.
func IsMissing(v string) bool {
	return missingTokens[strings.ToLower(strings.TrimSpace(v))]
}

// Record is one input row keyed by column name.
type Record struct {
	Index  int
	Fields map[string]string
}

// Get returns the field value, or fallback when the column is absent or missing.
func (r Record) Get(key, fallback string) string {
	v, ok := r.Fields[key]
	if !ok || IsMissing(v) {
		return fallback
	}
	return strings.TrimSpace(v)
}

// Text returns the field value or NotAvailable.
func (r Record) Text(key string) string {
	return r.Get(key, NotAvailable)
}

// FirstText returns the first present field among keys, or NotAvailable.
func (r Record) FirstText(keys ...string) string {
	for _, k := range keys {
		if v := r.Get(k, ""); v != "" {
			return v
		}
	}
	return NotAvailable
}

// Place returns the field value or NotSpecified.
func (r Record) Place(key string) string {
	return r.Get(key, NotSpecified)
}

// SourceFile returns the originating file name or Unknown.
func (r Record) SourceFile() string {
	return r.Get(SourceFileColumn, Unknown)
}
