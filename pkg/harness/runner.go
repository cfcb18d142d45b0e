// Package harness replays commit fixtures against the external analysis
// service and checks that incrementally-maintained diagnostics stay
// consistent with from-scratch checks, across live replays and saved-state
// round trips.
package harness

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/odvcencio/replaycheck/pkg/service"
	"github.com/odvcencio/replaycheck/pkg/snapshot"
)

// Runner drives the consistency and saved-state protocols over one commit
// fixture directory. Runs are strictly sequential; a Runner owns every
// temporary directory it creates and removes them on all exit paths.
type Runner struct {
	Config     Config
	CommitsDir string

	// Debug stops the consistency replay at the first discrepancy.
	Debug bool

	// Stdout receives discrepancy reports; Stderr receives the service's
	// rage dumps. Both default to the process streams.
	Stdout io.Writer
	Stderr io.Writer
}

func (r *Runner) stdout() io.Writer {
	if r.Stdout != nil {
		return r.Stdout
	}
	return os.Stdout
}

func (r *Runner) stderr() io.Writer {
	if r.Stderr != nil {
		return r.Stderr
	}
	return os.Stderr
}

// newRepository builds a snapshot repository rooted at baseDir using the
// runner's configuration.
func (r *Runner) newRepository(baseDir string) (*snapshot.Repository, error) {
	return snapshot.New(snapshot.Options{
		BaseDir:       baseDir,
		CommitsDir:    r.CommitsDir,
		StubBundle:    r.Config.Stubs.Bundle,
		EssentialDirs: r.Config.Stubs.Essential,
		Placeholder:   r.Config.Stubs.Placeholder,
		ConfigFile:    r.Config.Service.ConfigFile,
		CacheDirName:  r.Config.Service.CacheDir,
	})
}

// newClient returns a service client rooted at dir.
func (r *Runner) newClient(dir string) *service.Client {
	return &service.Client{Bin: service.ResolveBin(r.Config.Service.Bin), Dir: dir}
}

// dumpRage captures the service's internal diagnostic report to stderr so a
// failed run leaves a postmortem trail. Failure to rage is only logged: the
// original error matters more.
func (r *Runner) dumpRage(client *service.Client) {
	out, err := client.Rage()
	if err != nil {
		slog.Warn("could not capture service rage report", "err", err)
		return
	}
	fmt.Fprintln(r.stderr(), out)
}

// Run executes the consistency replay followed by the saved-state round trip
// under the bounded retry policy: findings (discrepancies, missing
// prerequisites) terminate immediately, while any other failure is treated
// as infrastructure flakiness and the whole sequence restarts from clean
// temporary state, up to the configured retry budget.
func (r *Runner) Run() error {
	retries := r.Config.Retries
	if retries < 1 {
		retries = 1
	}

	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		err := r.runOnce()
		if err == nil {
			return nil
		}
		if IsFinding(err) {
			return err
		}
		slog.Error("infrastructure failure, retrying from clean state", "attempt", attempt, "err", err)
		lastErr = err
	}
	return fmt.Errorf("harness: retry budget exhausted: %w", lastErr)
}

func (r *Runner) runOnce() error {
	if err := r.RunConsistency(); err != nil {
		return err
	}
	slog.Info("running saved-state test")
	return r.RunSavedState()
}
