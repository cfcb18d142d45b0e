package harness

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// RunSavedState verifies that a state blob persisted by one server instance
// loads into a second instance rooted at a different path with identical
// results. Saved states are a distributed-system problem — the two
// filesystems are effectively unrelated — so this specifically catches
// persisted absolute paths and process-local caches.
//
// Phase 1 (producer): fresh repository in temp dir A; incremental check that
// persists the initial state; advance one commit; the full check becomes the
// expected report; stop.
//
// Phase 2 (consumer): second, independent repository in temp dir B; advance
// once to the same commit; start the server loading the persisted state; the
// incremental report becomes the actual report; stop.
//
// The two reports must be byte-identical; otherwise both are printed
// verbatim and a SavedStateError is returned.
func (r *Runner) RunSavedState() error {
	stateDir, err := os.MkdirTemp("", "replaycheck-state-")
	if err != nil {
		return fmt.Errorf("harness: %w", err)
	}
	defer os.RemoveAll(stateDir)
	stateFile := filepath.Join(stateDir, "initial.state")

	expected, err := r.produceSavedState(stateFile)
	if err != nil {
		return err
	}

	actual, err := r.consumeSavedState(stateFile)
	if err != nil {
		return err
	}

	if actual != expected {
		slog.Error("saved-state consumer diagnostics are not equal to producer diagnostics")
		fmt.Fprintf(r.stdout(), "Incremental check errors (saved-state load): %s\n", actual)
		fmt.Fprintf(r.stdout(), "Full check errors: %s\n", expected)
		return &SavedStateError{Actual: actual, Expected: expected}
	}
	return nil
}

// produceSavedState runs the producer phase and returns the expected report.
func (r *Runner) produceSavedState(stateFile string) (string, error) {
	baseDir, err := os.MkdirTemp("", "replaycheck-state-create-")
	if err != nil {
		return "", fmt.Errorf("harness: %w", err)
	}
	defer os.RemoveAll(baseDir)

	repo, err := r.newRepository(baseDir)
	if err != nil {
		return "", err
	}
	client := r.newClient(repo.WorkDir())

	if _, err := client.IncrementalSavingStateTo(stateFile); err != nil {
		return "", err
	}
	if _, err := repo.Advance(); err != nil {
		return "", err
	}
	expected, err := client.Check()
	if err != nil {
		return "", err
	}
	if _, err := client.Stop(); err != nil {
		return "", err
	}
	return expected, nil
}

// consumeSavedState runs the consumer phase, rooted at a different temporary
// path than the producer, and returns the actual report.
func (r *Runner) consumeSavedState(stateFile string) (string, error) {
	baseDir, err := os.MkdirTemp("", "replaycheck-state-load-")
	if err != nil {
		return "", fmt.Errorf("harness: %w", err)
	}
	defer os.RemoveAll(baseDir)

	repo, err := r.newRepository(baseDir)
	if err != nil {
		return "", err
	}
	client := r.newClient(repo.WorkDir())

	if _, err := repo.Advance(); err != nil {
		return "", err
	}
	if _, err := client.StartLoadingStateFrom(stateFile); err != nil {
		return "", err
	}
	actual, err := client.Incremental()
	if err != nil {
		return "", err
	}
	if _, err := client.Stop(); err != nil {
		return "", err
	}
	return actual, nil
}
