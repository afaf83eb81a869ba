// Package domain holds the core data model for the prompt pipeline:
// prompt records, their tagged prompt shapes, and terminal states.
package domain

import (
	"encoding/json"
	"fmt"
)

// Record is one line of a job file: a prompt plus routing metadata, and,
// after dispatch, either a response or a terminal error. It is the atomic
// unit of work.
//
// A record is mutated only by the dispatcher as attempts complete and is
// immutable once flushed in a terminal state.
type Record struct {
	// ID is an optional caller-supplied identifier; any JSON scalar is
	// accepted. Reporting falls back to the positional index when absent.
	ID any `json:"id,omitempty"`

	// Index is the record's zero-based position in the job file.
	Index int `json:"-"`

	// API selects the backend adapter.
	API string `json:"api,omitempty"`

	// ModelName selects the model within the backend.
	ModelName string `json:"model_name,omitempty"`

	// Prompt is the payload, opaque to the dispatcher.
	Prompt Prompt `json:"prompt"`

	// Parameters are generation options passed through to the adapter.
	Parameters map[string]any `json:"parameters,omitempty"`

	// Group overrides the rate bucket this record is throttled in.
	Group string `json:"group,omitempty"`

	// Response is set by a successful adapter call.
	Response any `json:"response,omitempty"`

	// Error is set when the record fails terminally.
	Error string `json:"error,omitempty"`

	// Attempts counts adapter calls made for this record.
	Attempts int `json:"attempts,omitempty"`
}

// ParseRecord decodes one job-file line into a Record. Shape resolution
// happens here; a failure is a structural error attributed to the line by
// the caller.
func ParseRecord(line []byte, index int) (*Record, error) {
	var rec Record
	if err := json.Unmarshal(line, &rec); err != nil {
		return nil, err
	}
	if rec.Prompt.Kind == "" {
		return nil, ErrEmptyPrompt
	}
	rec.Index = index
	return &rec, nil
}

// BucketKey returns the rate-bucket key: the explicit group when present,
// otherwise the backend name.
func (r *Record) BucketKey() string {
	if r.Group != "" {
		return r.Group
	}
	return r.API
}

// Label identifies the record's destination as "api/model" for log lines.
func (r *Record) Label() string {
	return fmt.Sprintf("%s/%s", r.API, r.ModelName)
}

// DisplayID returns the caller-supplied id when present, else the
// positional index.
func (r *Record) DisplayID() string {
	if r.ID != nil {
		return fmt.Sprintf("%v", r.ID)
	}
	return fmt.Sprintf("%d", r.Index)
}

// Terminal reports whether the record reached a final state.
func (r *Record) Terminal() bool {
	return r.Response != nil || r.Error != ""
}
