package snapshot

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
)

func writeFile(t *testing.T, path string, content []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("WriteFile %s: %v", path, err)
	}
}

// makeZipBundle writes a zip at path whose entries are the given
// slash-separated names.
func makeZipBundle(t *testing.T, path string, files map[string]string) {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip Create %s: %v", name, err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatalf("zip Write %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip Close: %v", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("WriteFile %s: %v", path, err)
	}
}

// makeTarZstBundle writes a zstd-compressed tarball at path.
func makeTarZstBundle(t *testing.T, path string, files map[string]string) {
	t.Helper()
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf)
	if err != nil {
		t.Fatalf("zstd NewWriter: %v", err)
	}
	tw := tar.NewWriter(enc)
	for name, content := range files {
		hdr := &tar.Header{Name: name, Mode: 0o644, Size: int64(len(content)), Typeflag: tar.TypeReg}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("tar WriteHeader %s: %v", name, err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatalf("tar Write %s: %v", name, err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("tar Close: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("zstd Close: %v", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("WriteFile %s: %v", path, err)
	}
}

// commitFixture creates commitsDir/<commit>/<file> trees.
func commitFixture(t *testing.T, commitsDir string, commits map[string]map[string]string) {
	t.Helper()
	for commit, files := range commits {
		for name, content := range files {
			writeFile(t, filepath.Join(commitsDir, commit, name), []byte(content))
		}
	}
}

// Test 1: construction applies the lexicographically-first commit and
// Advance walks the rest in order, ending with ErrExhausted.
func TestRepository_CommitOrdering(t *testing.T) {
	commitsDir := t.TempDir()
	commitFixture(t, commitsDir, map[string]map[string]string{
		"commit_002": {"a.py": "v2\n"},
		"commit_001": {"a.py": "v1\n"},
		"commit_003": {"a.py": "v3\n"},
	})

	r, err := New(Options{BaseDir: t.TempDir(), CommitsDir: commitsDir})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// commit_001 was applied during construction.
	data, err := os.ReadFile(filepath.Join(r.WorkDir(), "a.py"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "v1\n" {
		t.Errorf("after construction a.py = %q, want %q", data, "v1\n")
	}

	want := []string{"commit_002", "commit_003"}
	for _, expected := range want {
		name, err := r.Advance()
		if err != nil {
			t.Fatalf("Advance: %v", err)
		}
		if name != expected {
			t.Errorf("Advance = %q, want %q", name, expected)
		}
	}

	if _, err := r.Advance(); !errors.Is(err, ErrExhausted) {
		t.Errorf("Advance past end = %v, want ErrExhausted", err)
	}
	// Exhaustion is sticky: it never wraps around or repeats.
	if _, err := r.Advance(); !errors.Is(err, ErrExhausted) {
		t.Errorf("second Advance past end = %v, want ErrExhausted", err)
	}
}

// Test 2: a commit that only adds one file creates exactly that file and
// leaves every existing file's mtime alone.
func TestRepository_AdvanceOnlyTouchesChanges(t *testing.T) {
	commitsDir := t.TempDir()
	commitFixture(t, commitsDir, map[string]map[string]string{
		"commit_001": {"a.py": "a\n", "b.py": "b\n"},
		"commit_002": {"a.py": "a\n", "b.py": "b\n", "c.py": "c\n"},
	})

	r, err := New(Options{BaseDir: t.TempDir(), CommitsDir: commitsDir})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	old := time.Now().Add(-24 * time.Hour).Truncate(time.Second)
	for _, name := range []string{"a.py", "b.py"} {
		if err := os.Chtimes(filepath.Join(r.WorkDir(), name), old, old); err != nil {
			t.Fatalf("Chtimes: %v", err)
		}
	}

	if _, err := r.Advance(); err != nil {
		t.Fatalf("Advance: %v", err)
	}

	if _, err := os.Stat(filepath.Join(r.WorkDir(), "c.py")); err != nil {
		t.Errorf("c.py missing after advance: %v", err)
	}
	for _, name := range []string{"a.py", "b.py"} {
		info, err := os.Stat(filepath.Join(r.WorkDir(), name))
		if err != nil {
			t.Fatalf("Stat %s: %v", name, err)
		}
		if !info.ModTime().Equal(old) {
			t.Errorf("%s mtime = %v, want untouched %v", name, info.ModTime(), old)
		}
	}
}

// Test 3: every placeholder occurrence in the configuration file is rewritten
// to the stub path; all other lines are byte-identical to the commit's file.
func TestRepository_PlaceholderSubstitution(t *testing.T) {
	const config = "{\n" +
		"  \"search_path\": \"STUB_LOCATION/stdlib\",\n" +
		"  \"extra_path\": \"STUB_LOCATION/third_party\",\n" +
		"  \"strict\": true\n" +
		"}\n"

	commitsDir := t.TempDir()
	commitFixture(t, commitsDir, map[string]map[string]string{
		"commit_001": {".analyzer_configuration": config, "a.py": "a\n"},
	})

	bundle := filepath.Join(t.TempDir(), "stubs.zip")
	makeZipBundle(t, bundle, map[string]string{
		"stubs-master/stdlib/builtins.pyi": "class int: ...\n",
	})

	r, err := New(Options{
		BaseDir:       t.TempDir(),
		CommitsDir:    commitsDir,
		StubBundle:    bundle,
		EssentialDirs: []string{"stdlib", "third_party"},
		Placeholder:   "STUB_LOCATION",
		ConfigFile:    ".analyzer_configuration",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(r.WorkDir(), ".analyzer_configuration"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	got := string(data)

	if strings.Contains(got, "STUB_LOCATION") {
		t.Errorf("placeholder still present:\n%s", got)
	}
	if n := strings.Count(got, r.StubDir()); n != 2 {
		t.Errorf("stub path occurs %d times, want 2:\n%s", n, got)
	}
	want := strings.ReplaceAll(config, "STUB_LOCATION", r.StubDir())
	if got != want {
		t.Errorf("config after substitution:\n  got:  %q\n  want: %q", got, want)
	}
}

// Test 4: zip bundles are pruned down to the essential subtrees.
func TestExtractBundle_ZipPruning(t *testing.T) {
	bundle := filepath.Join(t.TempDir(), "stubs.zip")
	makeZipBundle(t, bundle, map[string]string{
		"stubs-master/stdlib/builtins.pyi":  "class int: ...\n",
		"stubs-master/third_party/six.pyi":  "def u(s): ...\n",
		"stubs-master/tests/test_smth.pyi":  "ignored\n",
		"stubs-master/README.md":            "ignored\n",
		"stubs-master/scripts/generate.pyi": "ignored\n",
	})

	root, err := extractBundle(bundle, t.TempDir(), []string{"stdlib", "third_party"})
	if err != nil {
		t.Fatalf("extractBundle: %v", err)
	}

	if filepath.Base(root) != "stubs-master" {
		t.Errorf("stub root = %q, want bundle's top-level dir", root)
	}
	for _, keep := range []string{"stdlib/builtins.pyi", "third_party/six.pyi"} {
		if _, err := os.Stat(filepath.Join(root, keep)); err != nil {
			t.Errorf("essential entry %s missing: %v", keep, err)
		}
	}
	for _, gone := range []string{"tests", "README.md", "scripts"} {
		if _, err := os.Stat(filepath.Join(root, gone)); !os.IsNotExist(err) {
			t.Errorf("non-essential entry %s survived pruning (err = %v)", gone, err)
		}
	}
}

// Test 5: zstd tarball bundles extract the same way.
func TestExtractBundle_TarZstd(t *testing.T) {
	bundle := filepath.Join(t.TempDir(), "stubs.tar.zst")
	makeTarZstBundle(t, bundle, map[string]string{
		"stubs-master/stdlib/builtins.pyi": "class int: ...\n",
		"stubs-master/LICENSE":             "ignored\n",
	})

	root, err := extractBundle(bundle, t.TempDir(), []string{"stdlib"})
	if err != nil {
		t.Fatalf("extractBundle: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(root, "stdlib", "builtins.pyi"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "class int: ...\n" {
		t.Errorf("builtins.pyi = %q", data)
	}
	if _, err := os.Stat(filepath.Join(root, "LICENSE")); !os.IsNotExist(err) {
		t.Errorf("LICENSE survived pruning (err = %v)", err)
	}
}

// Test 6: the service's private cache directory survives an advance.
func TestRepository_CacheDirPreserved(t *testing.T) {
	commitsDir := t.TempDir()
	commitFixture(t, commitsDir, map[string]map[string]string{
		"commit_001": {"a.py": "a\n"},
		"commit_002": {"a.py": "a2\n"},
	})

	r, err := New(Options{BaseDir: t.TempDir(), CommitsDir: commitsDir, CacheDirName: ".analyzer"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	writeFile(t, filepath.Join(r.WorkDir(), ".analyzer", "server.state"), []byte("cache\n"))

	if _, err := r.Advance(); err != nil {
		t.Fatalf("Advance: %v", err)
	}

	if _, err := os.Stat(filepath.Join(r.WorkDir(), ".analyzer", "server.state")); err != nil {
		t.Errorf("cache dir was clobbered by advance: %v", err)
	}
}

// Test 7: an empty or unreadable commit list fails construction.
func TestRepository_InvalidCommitList(t *testing.T) {
	if _, err := New(Options{BaseDir: t.TempDir(), CommitsDir: t.TempDir()}); err == nil {
		t.Error("New with empty commit list succeeded, want error")
	}
	if _, err := New(Options{BaseDir: t.TempDir(), CommitsDir: filepath.Join(t.TempDir(), "missing")}); err == nil {
		t.Error("New with missing commit dir succeeded, want error")
	}
}
