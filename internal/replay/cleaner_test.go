package replay

import (
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"duelforge/engine/internal/logging"
)

func TestCleanerEnforcesMaxMatches(t *testing.T) {
	tmp := t.TempDir()
	now := time.Date(2024, 7, 15, 12, 0, 0, 0, time.UTC)
	//1.- Seed three synthetic match bundles so the cleaner has something to prune.
	writeMatchBundle(t, tmp, "alpha", now.Add(-3*time.Hour), 64)
	bravoSize := writeMatchBundle(t, tmp, "bravo", now.Add(-2*time.Hour), 32)
	charlieSize := writeMatchBundle(t, tmp, "charlie", now.Add(-time.Hour), 48)

	cleaner := NewCleaner(tmp, RetentionPolicy{MaxMatches: 2}, logging.NewTestLogger())
	cleaner.now = func() time.Time { return now }
	cleaner.RunOnce()

	remaining := listMatchBundles(t, tmp)
	if len(remaining) != 2 {
		t.Fatalf("expected 2 matches retained, got %d (%v)", len(remaining), remaining)
	}
	expected := []string{"bravo", "charlie"}
	if remaining[0] != expected[0] || remaining[1] != expected[1] {
		t.Fatalf("unexpected retained matches: %v", remaining)
	}

	stats := cleaner.Stats()
	if stats.Matches != 2 {
		t.Fatalf("expected stats to report 2 matches, got %d", stats.Matches)
	}
	if want := bravoSize + charlieSize; stats.Bytes != want {
		t.Fatalf("expected byte total %d, got %d", want, stats.Bytes)
	}
	if stats.LastSweep.IsZero() {
		t.Fatalf("expected last sweep timestamp to be recorded")
	}
}

func TestCleanerPrunesByAge(t *testing.T) {
	tmp := t.TempDir()
	now := time.Date(2024, 7, 16, 9, 0, 0, 0, time.UTC)
	//1.- A stale bundle and a fresh one should be treated independently of the count limit.
	writeMatchBundle(t, tmp, "delta", now.Add(-72*time.Hour), 16)
	writeMatchBundle(t, tmp, "echo", now.Add(-time.Hour), 24)

	cleaner := NewCleaner(tmp, RetentionPolicy{MaxAge: 36 * time.Hour, MaxMatches: 5}, logging.NewTestLogger())
	cleaner.now = func() time.Time { return now }
	cleaner.RunOnce()

	remaining := listMatchBundles(t, tmp)
	for _, name := range remaining {
		if name == "delta" {
			t.Fatalf("expected delta bundle to be pruned due to age")
		}
	}
	if len(remaining) != 1 || remaining[0] != "echo" {
		t.Fatalf("expected only echo to remain, got %v", remaining)
	}
}

// writeMatchBundle creates a match bundle directory holding two of the files
// a replay.NewWriter bundle holds: manifest.json and an events.jsonl.sz of
// payload bytes (no header.json or summary.json.zst). Returns the combined
// size of the two files.
func writeMatchBundle(t *testing.T, root, matchID string, mod time.Time, payload int) int64 {
	t.Helper()
	dir := filepath.Join(root, matchID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "manifest.json"), []byte(`{"version":1}`), 0o644); err != nil {
		t.Fatalf("WriteFile manifest: %v", err)
	}
	data := make([]byte, payload)
	if err := os.WriteFile(filepath.Join(dir, "events.jsonl.sz"), data, 0o644); err != nil {
		t.Fatalf("WriteFile events: %v", err)
	}
	if err := os.Chtimes(dir, mod, mod); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}
	if err := os.Chtimes(filepath.Join(dir, "events.jsonl.sz"), mod, mod); err != nil {
		t.Fatalf("Chtimes events: %v", err)
	}
	return int64(len(`{"version":1}`) + payload)
}

func listMatchBundles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names
}
