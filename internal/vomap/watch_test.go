package vomap

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// testLogger returns a logger that swallows output.
// Params: none.
// Returns: discard-backed slog logger.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// waitResolve polls the source until name resolves to want.
// Params: t test handle; source watched VO map; name account; want VO.
// Returns: none, fails the test on timeout.
func waitResolve(t *testing.T, source *Source, name, want string) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for {
		if vo, err := source.Snapshot().Resolve(name); err == nil && vo == want {
			return
		}
		if time.Now().After(deadline) {
			vo, err := source.Snapshot().Resolve(name)
			t.Fatalf("map never served %s=%s (last: %q, %v)", name, want, vo, err)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

// TestSource_WatchReloadOnWrite verifies in-place rewrites swap the
// snapshot.
// Params: testing.T for assertions.
// Returns: none.
func TestSource_WatchReloadOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "user-vo-map.txt")
	if err := os.WriteFile(path, []byte("alice vo1\n"), 0o644); err != nil {
		t.Fatalf("write map: %v", err)
	}

	source, err := NewSource(path, testLogger())
	if err != nil {
		t.Fatalf("new source: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := source.Watch(ctx); err != nil {
		t.Fatalf("watch: %v", err)
	}

	if err := os.WriteFile(path, []byte("bob vo2\n"), 0o644); err != nil {
		t.Fatalf("rewrite map: %v", err)
	}

	waitResolve(t, source, "bob", "vo2")
	if _, err := source.Snapshot().Resolve("alice"); err == nil {
		t.Fatalf("expected the old entry to be gone")
	}
}

// TestSource_WatchReloadOnRename verifies the atomic tmp-then-rename
// replacement used by map provisioning tools is picked up.
// Params: testing.T for assertions.
// Returns: none.
func TestSource_WatchReloadOnRename(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "user-vo-map.txt")
	if err := os.WriteFile(path, []byte("alice vo1\n"), 0o644); err != nil {
		t.Fatalf("write map: %v", err)
	}

	source, err := NewSource(path, testLogger())
	if err != nil {
		t.Fatalf("new source: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := source.Watch(ctx); err != nil {
		t.Fatalf("watch: %v", err)
	}

	next := filepath.Join(dir, "user-vo-map.txt.new")
	if err := os.WriteFile(next, []byte("carol vo3\n"), 0o644); err != nil {
		t.Fatalf("write replacement: %v", err)
	}
	if err := os.Rename(next, path); err != nil {
		t.Fatalf("rename replacement: %v", err)
	}

	waitResolve(t, source, "carol", "vo3")
}

// TestSource_SnapshotStable verifies a snapshot taken before a reload
// keeps serving the old mapping.
// Params: testing.T for assertions.
// Returns: none.
func TestSource_SnapshotStable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "user-vo-map.txt")
	if err := os.WriteFile(path, []byte("alice vo1\n"), 0o644); err != nil {
		t.Fatalf("write map: %v", err)
	}

	source, err := NewSource(path, testLogger())
	if err != nil {
		t.Fatalf("new source: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := source.Watch(ctx); err != nil {
		t.Fatalf("watch: %v", err)
	}

	held := source.Snapshot()

	if err := os.WriteFile(path, []byte("bob vo2\n"), 0o644); err != nil {
		t.Fatalf("rewrite map: %v", err)
	}
	waitResolve(t, source, "bob", "vo2")

	if vo, err := held.Resolve("alice"); err != nil || vo != "vo1" {
		t.Fatalf("held snapshot changed: %q, %v", vo, err)
	}
}

// TestNewSource_MissingFile verifies construction fails without a map.
// Params: testing.T for assertions.
// Returns: none.
func TestNewSource_MissingFile(t *testing.T) {
	if _, err := NewSource(filepath.Join(t.TempDir(), "absent.txt"), testLogger()); err == nil {
		t.Fatalf("expected load error")
	}
}
