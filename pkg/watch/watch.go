// Package watch shells out to the file-watch tool the analysis service
// relies on. Only the watch/watch-del contract is consumed; the watch
// subsystem itself is a collaborator.
package watch

import (
	"fmt"
	"io"
	"os/exec"
)

// DefaultBin is the conventional watch tool name.
const DefaultBin = "watchman"

// Watcher registers and deregisters directories with the watch tool.
type Watcher struct {
	Bin string
}

func (w *Watcher) bin() string {
	if w.Bin != "" {
		return w.Bin
	}
	return DefaultBin
}

// Available reports whether the watch tool can be found on PATH.
func (w *Watcher) Available() bool {
	_, err := exec.LookPath(w.bin())
	return err == nil
}

// Watch registers dir with the watch tool. Tool output is discarded; only
// the exit status matters.
func (w *Watcher) Watch(dir string) error {
	return w.run("watch", dir)
}

// Unwatch deregisters dir.
func (w *Watcher) Unwatch(dir string) error {
	return w.run("watch-del", dir)
}

func (w *Watcher) run(subcommand, dir string) error {
	cmd := exec.Command(w.bin(), subcommand, dir)
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("watch: %s %s %q: %w", w.bin(), subcommand, dir, err)
	}
	return nil
}
