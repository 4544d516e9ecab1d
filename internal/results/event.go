// Package results carries completed link records from the engine to output
// sinks. A Hub batches records on a background goroutine and fans them out
// to pluggable sinks such as logs, Prometheus, or a database.
package results

import (
	"errors"
	"time"

	"github.com/JakeFAU/linkcheck/internal/checker"
)

// Event is one terminal record of a run.
type Event struct {
	// RunID identifies the run that produced the record.
	RunID string
	// TS is the UTC time the record was emitted.
	TS     time.Time
	Record checker.Record
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == "" {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	if !e.Record.State.Terminal() {
		return errors.New("record is not terminal")
	}
	return nil
}

// Broken reports whether the record is a broken link.
func (e Event) Broken() bool { return !e.Record.Valid }

// Label is the result label used by metrics and logs.
func (e Event) Label() string {
	switch {
	case !e.Record.Valid:
		return "broken"
	case len(e.Record.Warnings) > 0:
		return "warning"
	default:
		return "ok"
	}
}
