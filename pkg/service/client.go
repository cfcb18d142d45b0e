// Package service wraps the external analysis service's command-line
// surface. The service itself is a collaborator; this package only builds
// argv, threads the working directory, and interprets exit codes.
package service

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
)

// BinEnvVar overrides the analyzer executable location when set.
const BinEnvVar = "REPLAYCHECK_ANALYZER"

// DefaultBin is the executable name used when neither configuration nor the
// environment names one.
const DefaultBin = "analyzer"

// globalFlags precede the subcommand on every invocation.
var globalFlags = []string{"--noninteractive", "--show-parse-errors", "--output=json"}

// Client invokes the analysis service as a subprocess. Dir is threaded
// explicitly through every invocation so that several clients rooted at
// different trees can coexist in one process.
type Client struct {
	Bin string // analyzer executable; resolved via ResolveBin
	Dir string // working directory for every invocation
}

// ResolveBin picks the analyzer executable: the explicit value when
// non-empty, then the environment override, then the default.
func ResolveBin(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if env := os.Getenv(BinEnvVar); env != "" {
		return env
	}
	return DefaultBin
}

// Run invokes the service with the global flags plus args, rooted at c.Dir,
// and returns captured stdout. Exit codes 0 and 1 both count as success: the
// service signals "diagnostics found" via exit code 1. Any other exit code
// is a fatal failure. Stderr passes through to the harness's stderr.
func (c *Client) Run(args ...string) (string, error) {
	argv := append(append([]string{}, globalFlags...), args...)
	cmd := exec.Command(c.Bin, argv...)
	cmd.Dir = c.Dir
	cmd.Stderr = os.Stderr

	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return string(out), nil
		}
		return "", fmt.Errorf("service: %s %v: %w", c.Bin, args, err)
	}
	return string(out), nil
}

// Start launches the long-running server against the working tree.
func (c *Client) Start(transitive bool) (string, error) {
	if transitive {
		return c.Run("start", "--transitive")
	}
	return c.Run("start")
}

// StartLoadingStateFrom launches the server seeded from a persisted state
// blob.
func (c *Client) StartLoadingStateFrom(path string) (string, error) {
	return c.Run("--load-initial-state-from", path, "start")
}

// Stop shuts the server down.
func (c *Client) Stop() (string, error) {
	return c.Run("stop")
}

// Check runs a from-scratch analysis of the whole tree.
func (c *Client) Check() (string, error) {
	return c.Run("check")
}

// Incremental asks the running server for its incrementally-updated
// diagnostics.
func (c *Client) Incremental() (string, error) {
	return c.Run("incremental")
}

// IncrementalSavingStateTo runs an incremental check while persisting the
// server's initial state to path.
func (c *Client) IncrementalSavingStateTo(path string) (string, error) {
	return c.Run("--save-initial-state-to", path, "incremental")
}

// Rage dumps the server's internal diagnostic report, used for postmortems.
func (c *Client) Rage() (string, error) {
	return c.Run("rage")
}
