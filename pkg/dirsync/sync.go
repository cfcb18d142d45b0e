// Package dirsync turns one directory into a copy of another while touching
// as few files as possible, so that a file watcher pointed at the destination
// sees only genuine changes.
package dirsync

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// Options controls which entries Sync considers.
type Options struct {
	// IgnoreNames lists top-level file names excluded from syncing entirely.
	IgnoreNames []string

	// PreserveDirs lists top-level directory names that are never deleted or
	// replaced in the destination, e.g. the analysis service's private cache
	// directory living inside the working tree.
	PreserveDirs []string
}

func (o Options) ignored(name string) bool {
	for _, n := range o.IgnoreNames {
		if n == name {
			return true
		}
	}
	return false
}

func (o Options) preserved(name string) bool {
	for _, n := range o.PreserveDirs {
		if n == name {
			return true
		}
	}
	return false
}

// Sync mutates dstDir in place until its contents match srcDir.
//
// Algorithm:
//  1. Partition both top levels into files and subdirectories.
//  2. Source subdirectories replace destination ones wholesale; destination
//     subdirectories absent from source (and not preserved) are deleted.
//  3. Top-level files present in both are compared by full byte content;
//     identical files are left untouched so their mtimes survive, differing
//     or missing files are copied with source mode and timestamps.
//  4. Destination files absent from source are deleted.
//
// Subdirectories are deliberately not diffed recursively: commit fixtures
// change subdirectory content as a unit, and the wholesale replacement keeps
// the top-level file handling (the watched hot path) simple.
//
// A failed Sync may leave dstDir in an intermediate state; callers treat
// that as fatal for the current replay.
func Sync(srcDir, dstDir string, opts Options) error {
	srcFiles, srcDirs, err := partition(srcDir, opts)
	if err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	dstFiles, dstDirs, err := partition(dstDir, opts)
	if err != nil {
		return fmt.Errorf("sync: %w", err)
	}

	// Replace every source subdirectory wholesale.
	for name := range srcDirs {
		dst := filepath.Join(dstDir, name)
		if dstDirs[name] {
			if err := os.RemoveAll(dst); err != nil {
				return fmt.Errorf("sync: remove dir %q: %w", name, err)
			}
		}
		if err := copyTree(filepath.Join(srcDir, name), dst); err != nil {
			return fmt.Errorf("sync: copy dir %q: %w", name, err)
		}
	}

	// Delete destination-only subdirectories.
	for name := range dstDirs {
		if srcDirs[name] {
			continue
		}
		if err := os.RemoveAll(filepath.Join(dstDir, name)); err != nil {
			return fmt.Errorf("sync: remove dir %q: %w", name, err)
		}
	}

	// Delete destination-only files.
	for name := range dstFiles {
		if srcFiles[name] {
			continue
		}
		slog.Debug("removing file from destination", "name", name)
		if err := os.Remove(filepath.Join(dstDir, name)); err != nil {
			return fmt.Errorf("sync: remove file %q: %w", name, err)
		}
	}

	// Copy files that are missing or differ; skip byte-identical ones.
	for name := range srcFiles {
		src := filepath.Join(srcDir, name)
		dst := filepath.Join(dstDir, name)

		if dstFiles[name] {
			same, err := filesEqual(src, dst)
			if err != nil {
				return fmt.Errorf("sync: compare %q: %w", name, err)
			}
			if same {
				slog.Debug("skipping file, contents match", "name", name)
				continue
			}
			slog.Debug("copying file due to mismatch", "name", name)
		} else {
			slog.Debug("copying file, missing from destination", "name", name)
		}

		if err := copyFile(src, dst); err != nil {
			return fmt.Errorf("sync: copy %q: %w", name, err)
		}
	}

	return nil
}

// partition lists dir's top-level entries as a file set and a directory set,
// applying the ignore and preserve rules from opts.
func partition(dir string, opts Options) (files, dirs map[string]bool, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, err
	}

	files = make(map[string]bool)
	dirs = make(map[string]bool)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			if opts.preserved(name) {
				continue
			}
			dirs[name] = true
		} else {
			if opts.ignored(name) {
				continue
			}
			files[name] = true
		}
	}
	return files, dirs, nil
}

// filesEqual reports whether two files have byte-identical content. It always
// reads both files in full rather than shortcutting on size or mtime, because
// commit fixtures may be seeded with adversarially similar files.
func filesEqual(a, b string) (bool, error) {
	fa, err := os.Open(a)
	if err != nil {
		return false, err
	}
	defer fa.Close()

	fb, err := os.Open(b)
	if err != nil {
		return false, err
	}
	defer fb.Close()

	bufA := make([]byte, 64*1024)
	bufB := make([]byte, 64*1024)
	for {
		nA, errA := io.ReadFull(fa, bufA)
		nB, errB := io.ReadFull(fb, bufB)
		if nA != nB || !bytes.Equal(bufA[:nA], bufB[:nB]) {
			return false, nil
		}

		atEndA := errA == io.EOF || errA == io.ErrUnexpectedEOF
		atEndB := errB == io.EOF || errB == io.ErrUnexpectedEOF
		if atEndA || atEndB {
			return atEndA && atEndB, nil
		}
		if errA != nil {
			return false, errA
		}
		if errB != nil {
			return false, errB
		}
	}
}

// copyFile copies src to dst, carrying over the source's mode and
// modification time.
func copyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}

	// Best effort: mtime preservation is a fidelity nicety, not a contract.
	_ = os.Chtimes(dst, info.ModTime(), info.ModTime())
	return nil
}

// copyTree recursively copies the directory at src to dst. dst must not
// already exist.
func copyTree(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dst, info.Mode().Perm()); err != nil {
		return err
	}

	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, e := range entries {
		s := filepath.Join(src, e.Name())
		d := filepath.Join(dst, e.Name())
		if e.IsDir() {
			if err := copyTree(s, d); err != nil {
				return err
			}
			continue
		}
		if err := copyFile(s, d); err != nil {
			return err
		}
	}
	return nil
}
