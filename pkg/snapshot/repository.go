// Package snapshot replays an ordered list of commit fixtures into a working
// directory, one commit at a time, feeding the file-watching layer only
// genuine changes.
package snapshot

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/odvcencio/replaycheck/pkg/dirsync"
)

// ErrExhausted is returned by Advance once every commit has been applied.
// The sequence is consumed exactly once; it never wraps around.
var ErrExhausted = errors.New("snapshot: commit sequence exhausted")

// Options configures a Repository.
type Options struct {
	// BaseDir is a fresh directory owned by the repository; the working
	// directory and the extracted stub library both live under it.
	BaseDir string

	// CommitsDir holds one subdirectory per commit. Subdirectory names are
	// the commit identifiers; lexicographic order is replay order.
	CommitsDir string

	// StubBundle is the path to the stub-library archive (.zip or .tar.zst).
	// Empty means no stub library and no placeholder substitution.
	StubBundle string

	// EssentialDirs lists the stub subtrees kept after extraction;
	// everything else in the bundle is pruned.
	EssentialDirs []string

	// Placeholder is the literal token in commit configuration files that
	// stands for the stub-library location.
	Placeholder string

	// ConfigFile is the working-directory-relative configuration file in
	// which Placeholder is rewritten after each sync. Commits that lack the
	// file are fine.
	ConfigFile string

	// CacheDirName is the service's private cache directory inside the
	// working tree. It is never deleted or replaced by a sync.
	CacheDirName string

	// IgnoreNames lists top-level file names excluded from syncing.
	IgnoreNames []string
}

// Repository is a restartable-at-construction, single-use cursor over the
// commit sequence. The working directory always holds exactly the most
// recently applied commit's content, after placeholder substitution.
type Repository struct {
	opts    Options
	workDir string
	stubDir string
	commits []string
	next    int
}

// New builds a repository: it extracts and prunes the stub bundle, validates
// the commit list, creates the working directory under BaseDir, and applies
// the lexicographically-first commit.
func New(opts Options) (*Repository, error) {
	var stubDir string
	if opts.StubBundle != "" {
		var err error
		stubDir, err = extractBundle(opts.StubBundle, filepath.Join(opts.BaseDir, "stubs"), opts.EssentialDirs)
		if err != nil {
			return nil, fmt.Errorf("snapshot: %w", err)
		}
	}

	commits, err := listCommits(opts.CommitsDir)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}

	workDir := filepath.Join(opts.BaseDir, "repository")
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("snapshot: create working directory: %w", err)
	}

	r := &Repository{
		opts:    opts,
		workDir: workDir,
		stubDir: stubDir,
		commits: commits,
	}

	// Seed the working directory with the base commit.
	if _, err := r.Advance(); err != nil {
		return nil, err
	}
	return r, nil
}

// listCommits validates CommitsDir and returns the commit names in replay
// order. Every commit must be a readable directory.
func listCommits(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read commit list %q: %w", dir, err)
	}

	var commits []string
	for _, e := range entries {
		if !e.IsDir() {
			return nil, fmt.Errorf("commit list entry %q is not a directory", e.Name())
		}
		if _, err := os.ReadDir(filepath.Join(dir, e.Name())); err != nil {
			return nil, fmt.Errorf("commit %q is not readable: %w", e.Name(), err)
		}
		commits = append(commits, e.Name())
	}
	if len(commits) == 0 {
		return nil, fmt.Errorf("commit list %q is empty", dir)
	}
	sort.Strings(commits)
	return commits, nil
}

// WorkDir returns the working directory the commits are replayed into.
// External tools (the analysis service, the watch tool) are pointed here.
func (r *Repository) WorkDir() string { return r.workDir }

// StubDir returns the pruned stub-library root, or "" when no bundle was
// configured.
func (r *Repository) StubDir() string { return r.stubDir }

// Remaining reports how many commits have not been applied yet.
func (r *Repository) Remaining() int { return len(r.commits) - r.next }

// Advance applies the next commit to the working directory and returns its
// name. It synchronizes the tree with the minimal-diff rules of dirsync and
// then rewrites the stub-location placeholder in the configuration file.
// Once the sequence is exhausted it returns ErrExhausted.
func (r *Repository) Advance() (string, error) {
	if r.next >= len(r.commits) {
		return "", ErrExhausted
	}
	name := r.commits[r.next]
	r.next++

	slog.Info("moving to commit", "name", name)

	opts := dirsync.Options{IgnoreNames: r.opts.IgnoreNames}
	if r.opts.CacheDirName != "" {
		opts.PreserveDirs = []string{r.opts.CacheDirName}
	}
	if err := dirsync.Sync(filepath.Join(r.opts.CommitsDir, name), r.workDir, opts); err != nil {
		return "", fmt.Errorf("snapshot: apply commit %q: %w", name, err)
	}

	if err := r.resolveStubLocation(); err != nil {
		return "", fmt.Errorf("snapshot: apply commit %q: %w", name, err)
	}
	return name, nil
}

// resolveStubLocation replaces every placeholder occurrence in the
// configuration file with the extracted stub path, leaving all other bytes
// untouched. Missing configuration files are skipped.
func (r *Repository) resolveStubLocation() error {
	if r.opts.ConfigFile == "" || r.opts.Placeholder == "" || r.stubDir == "" {
		return nil
	}

	path := filepath.Join(r.workDir, r.opts.ConfigFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("resolve stub location: %w", err)
	}

	resolved := bytes.ReplaceAll(data, []byte(r.opts.Placeholder), []byte(r.stubDir))
	if bytes.Equal(resolved, data) {
		return nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("resolve stub location: %w", err)
	}
	if err := os.WriteFile(path, resolved, info.Mode().Perm()); err != nil {
		return fmt.Errorf("resolve stub location: %w", err)
	}
	return nil
}
