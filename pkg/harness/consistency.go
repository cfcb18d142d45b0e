package harness

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/odvcencio/replaycheck/pkg/service"
	"github.com/odvcencio/replaycheck/pkg/snapshot"
	"github.com/odvcencio/replaycheck/pkg/watch"
)

// RunConsistency replays every commit against a watched working directory
// and compares, per commit, the server's incremental diagnostics with a
// from-scratch check of the same tree.
//
// Protocol:
//  1. Fail fast if the watch tool is missing — the service cannot observe
//     changes without it, so nothing else is attempted.
//  2. Build a repository in a fresh temporary base directory (removed on
//     every exit path) and register the working directory with the watch
//     tool (deregistered on every exit path).
//  3. Start the server in transitive-check mode.
//  4. For each remaining commit: run the full check first — giving watch
//     notifications time to propagate — then request the incremental report,
//     and record a discrepancy when the two differ. Debug mode stops at the
//     first discrepancy.
//  5. Stop the server.
//
// Discrepancies yield a ConsistencyError after the rage report and every
// report pair have been printed. Any other failure gets the rage report
// attached to stderr before it propagates.
func (r *Runner) RunConsistency() (err error) {
	watcher := &watch.Watcher{Bin: r.Config.Watch.Bin}
	if !watcher.Available() {
		slog.Error("the consistency test cannot work without the file-watch tool", "tool", watcher.Bin)
		return ErrWatchToolMissing
	}

	baseDir, err := os.MkdirTemp("", "replaycheck-")
	if err != nil {
		return fmt.Errorf("harness: %w", err)
	}
	defer os.RemoveAll(baseDir)

	repo, err := r.newRepository(baseDir)
	if err != nil {
		return err
	}
	client := r.newClient(repo.WorkDir())

	if err := watcher.Watch(repo.WorkDir()); err != nil {
		return err
	}
	defer func() {
		if uerr := watcher.Unwatch(repo.WorkDir()); uerr != nil && err == nil {
			err = uerr
		}
	}()

	var discrepancies []Discrepancy
	if err := r.replay(repo, client, &discrepancies); err != nil {
		slog.Error("uncaught failure during consistency replay", "err", err)
		r.dumpRage(client)
		return err
	}

	if len(discrepancies) > 0 {
		r.dumpRage(client)
		slog.Error("found discrepancies between incremental and complete checks")
		for _, d := range discrepancies {
			fmt.Fprintf(r.stdout(), "Difference found for commit: %s\n", d.Commit)
			fmt.Fprintf(r.stdout(), "Incremental check errors: %s\n", d.Incremental)
			fmt.Fprintf(r.stdout(), "Full check errors: %s\n", d.Full)
		}
		return &ConsistencyError{Discrepancies: discrepancies}
	}
	return nil
}

// replay drives the server through every remaining commit, accumulating
// discrepancies into out.
func (r *Runner) replay(repo *snapshot.Repository, client *service.Client, out *[]Discrepancy) error {
	if _, err := client.Start(true); err != nil {
		return err
	}

	for {
		commit, err := repo.Advance()
		if errors.Is(err, snapshot.ErrExhausted) {
			break
		}
		if err != nil {
			return err
		}

		// Full check first so change notifications have time to propagate
		// before the incremental request. The ordering is load-bearing.
		full, err := client.Check()
		if err != nil {
			return err
		}
		incremental, err := client.Incremental()
		if err != nil {
			return err
		}

		// Reports are equal iff byte-identical, including the
		// zero-diagnostics payload.
		if incremental != full {
			*out = append(*out, Discrepancy{Commit: commit, Incremental: incremental, Full: full})
			if r.Debug {
				break
			}
		}
	}

	_, err := client.Stop()
	return err
}
