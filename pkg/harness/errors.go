package harness

import (
	"errors"
	"fmt"
)

// ErrWatchToolMissing is reported when the file-watch tool cannot be found.
// It is a precondition finding: the run aborts immediately and is not
// retried, since installing the tool is on the operator.
var ErrWatchToolMissing = errors.New("harness: the file-watch tool is not installed")

// Discrepancy records one commit whose incremental diagnostics diverged from
// the full check. Records are immutable once captured.
type Discrepancy struct {
	Commit      string
	Incremental string // report from the running server
	Full        string // report from the from-scratch check
}

// ConsistencyError is the typed business failure of a consistency replay:
// one or more commits produced diverging reports.
type ConsistencyError struct {
	Discrepancies []Discrepancy
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("harness: %d commit(s) with diverging incremental and full reports", len(e.Discrepancies))
}

// SavedStateError is the typed business failure of the saved-state
// round-trip: the consumer's incremental report diverged from the producer's
// full check.
type SavedStateError struct {
	Actual   string // consumer incremental report
	Expected string // producer full-check report
}

func (e *SavedStateError) Error() string {
	return "harness: saved-state consumer diagnostics diverge from producer diagnostics"
}

// IsFinding reports whether err is a genuine harness finding — a consistency
// or saved-state discrepancy, or a missing prerequisite — as opposed to
// infrastructure flakiness. Findings terminate the run and are never
// retried.
func IsFinding(err error) bool {
	var ce *ConsistencyError
	var se *SavedStateError
	return errors.As(err, &ce) || errors.As(err, &se) || errors.Is(err, ErrWatchToolMissing)
}
