package snapshot

import (
	"archive/tar"
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// extractBundle unpacks the stub-library bundle at bundlePath into destDir
// and prunes everything except the essential subtrees. It returns the stub
// root: the bundle's single top-level directory when it has one, destDir
// otherwise.
//
// Bundles are shipped either as .zip or as zstd-compressed tarballs
// (.tar.zst / .tzst).
func extractBundle(bundlePath, destDir string, essential []string) (string, error) {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", fmt.Errorf("extract bundle: %w", err)
	}

	var err error
	switch {
	case strings.HasSuffix(bundlePath, ".zip"):
		err = extractZip(bundlePath, destDir)
	case strings.HasSuffix(bundlePath, ".tar.zst"), strings.HasSuffix(bundlePath, ".tzst"):
		err = extractTarZstd(bundlePath, destDir)
	default:
		err = fmt.Errorf("unsupported bundle format %q", filepath.Base(bundlePath))
	}
	if err != nil {
		return "", fmt.Errorf("extract bundle: %w", err)
	}

	root, err := bundleRoot(destDir)
	if err != nil {
		return "", fmt.Errorf("extract bundle: %w", err)
	}
	if err := pruneStubRoot(root, essential); err != nil {
		return "", fmt.Errorf("extract bundle: %w", err)
	}
	return root, nil
}

// bundleRoot resolves the directory holding the stub content: the single
// top-level directory when the bundle was packaged with one, destDir itself
// otherwise.
func bundleRoot(destDir string) (string, error) {
	entries, err := os.ReadDir(destDir)
	if err != nil {
		return "", err
	}
	if len(entries) == 1 && entries[0].IsDir() {
		return filepath.Join(destDir, entries[0].Name()), nil
	}
	return destDir, nil
}

// pruneStubRoot removes every top-level entry of root that is not one of the
// essential subtrees, keeping the working set small.
func pruneStubRoot(root string, essential []string) error {
	keep := make(map[string]bool, len(essential))
	for _, name := range essential {
		keep[name] = true
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() && keep[e.Name()] {
			continue
		}
		if err := os.RemoveAll(filepath.Join(root, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

func extractZip(bundlePath, destDir string) error {
	zr, err := zip.OpenReader(bundlePath)
	if err != nil {
		return err
	}
	defer zr.Close()

	for _, f := range zr.File {
		target, err := securePath(destDir, f.Name)
		if err != nil {
			return err
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		rc, err := f.Open()
		if err != nil {
			return err
		}
		if err := writeEntry(target, rc, f.Mode().Perm()); err != nil {
			rc.Close()
			return err
		}
		rc.Close()
	}
	return nil
}

func extractTarZstd(bundlePath, destDir string) error {
	f, err := os.Open(bundlePath)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	tr := tar.NewReader(dec)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		target, err := securePath(destDir, hdr.Name)
		if err != nil {
			return err
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			if err := writeEntry(target, tr, os.FileMode(hdr.Mode).Perm()); err != nil {
				return err
			}
		default:
			// Symlinks and specials never appear in stub bundles; skip them.
		}
	}
}

// securePath joins name under destDir, rejecting entries that would escape it.
func securePath(destDir, name string) (string, error) {
	target := filepath.Join(destDir, filepath.FromSlash(name))
	clean := filepath.Clean(destDir)
	if target != clean && !strings.HasPrefix(target, clean+string(os.PathSeparator)) {
		return "", fmt.Errorf("bundle entry %q escapes extraction dir", name)
	}
	return target, nil
}

func writeEntry(target string, r io.Reader, mode os.FileMode) error {
	if mode == 0 {
		mode = 0o644
	}
	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
