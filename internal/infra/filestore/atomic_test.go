package filestore

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestAtomicWriteCreatesParentAndReplaces(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "state.json")

	if err := AtomicWrite(path, []byte("one"), 0o600); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := AtomicWrite(path, []byte("two"), 0o600); err != nil {
		t.Fatalf("second write: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "two" {
		t.Fatalf("expected latest content, got %q", data)
	}
	entries, _ := os.ReadDir(filepath.Dir(path))
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Fatalf("temporary file left behind: %s", e.Name())
		}
	}
}

func TestReadFileOrEmptyMissing(t *testing.T) {
	data, err := ReadFileOrEmpty(filepath.Join(t.TempDir(), "missing"))
	if err != nil || data != nil {
		t.Fatalf("expected nil, nil; got %v, %v", data, err)
	}
}

func TestResolvePath(t *testing.T) {
	t.Setenv("CONDUCTOR_TEST_DIR", "/data")
	if got := ResolvePath("", "$CONDUCTOR_TEST_DIR/trace.jsonl"); got != "/data/trace.jsonl" {
		t.Fatalf("unexpected path %q", got)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home dir")
	}
	if got := ResolvePath("~/x", ""); got != filepath.Join(home, "x") {
		t.Fatalf("unexpected path %q", got)
	}
}
