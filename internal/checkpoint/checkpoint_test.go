package checkpoint

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestCheckpointRoundTrip is seed scenario S3.
func TestCheckpointRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir, "TestProfile")

	cp := New(2, "TestProfile")
	cp.SessionId = "test"
	cp.CompletedChunkPaths = []string{
		`C:\Data\local\file.txt`,
		`C:\DATA\Mixed\Case\file2.txt`,
		`\\server\share\ünïcödé\file3.txt`,
	}
	cp.CompletedCount = 3

	before := time.Now()
	if err := store.Save(cp); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, ok, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !ok {
		t.Fatalf("expected ok=true")
	}

	if loaded.SessionId != "test" || loaded.ProfileIndex != 2 || loaded.CurrentProfileName != "TestProfile" {
		t.Fatalf("loaded = %+v", loaded)
	}
	if loaded.CompletedCount != 3 {
		t.Fatalf("CompletedCount = %d, want 3", loaded.CompletedCount)
	}
	if len(loaded.CompletedChunkPaths) != 3 {
		t.Fatalf("CompletedChunkPaths = %v", loaded.CompletedChunkPaths)
	}
	if loaded.SavedAt.Before(before.Add(-time.Second)) || loaded.SavedAt.After(time.Now().Add(time.Second)) {
		t.Errorf("SavedAt = %v, not within 1s of save", loaded.SavedAt)
	}
}

// TestCorruptCheckpoint is seed scenario S4.
func TestCorruptCheckpoint(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir, "P")

	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(store.Path(), []byte("{ invalid json"), 0o644); err != nil {
		t.Fatalf("write corrupt: %v", err)
	}

	_, ok, err := store.Load()
	if err != nil {
		t.Fatalf("Load returned error for corrupt file: %v", err)
	}
	if ok {
		t.Fatalf("expected ok=false for corrupt file")
	}

	// Subsequent Save must still succeed and produce a readable file.
	cp := New(0, "P")
	if err := store.Save(cp); err != nil {
		t.Fatalf("Save after corrupt: %v", err)
	}
	_, ok, err = store.Load()
	if err != nil || !ok {
		t.Fatalf("Load after recovery: ok=%v err=%v", ok, err)
	}
}

func TestCheckpointRobustnessMatrix(t *testing.T) {
	cases := map[string][]byte{
		"empty": {},
		"truncated": []byte(`{"version":"1.0","sessionId":"a`),
		"invalidJSON": []byte(`not json at all`),
		"binaryGarbage": {0x00, 0xff, 0x13, 0x37, 0xde, 0xad},
		"wrongVersion": []byte(`{"version":"0.9","sessionId":"x"}`),
	}

	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			store := NewStore(dir, "P")
			if len(content) > 0 {
				if err := os.WriteFile(store.Path(), content, 0o644); err != nil {
					t.Fatalf("write: %v", err)
				}
			}
			_, ok, err := store.Load()
			if err != nil {
				t.Fatalf("Load returned error: %v", err)
			}
			if ok {
				t.Fatalf("expected ok=false")
			}
		})
	}

	t.Run("missing", func(t *testing.T) {
		dir := t.TempDir()
		store := NewStore(dir, "P")
		_, ok, err := store.Load()
		if err != nil || ok {
			t.Fatalf("ok=%v err=%v, want ok=false err=nil", ok, err)
		}
	})
}

func TestSaveLeavesNoPartialFile(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir, "P")

	cp1 := New(0, "P")
	cp1.CompletedChunkPaths = []string{"a"}
	if err := store.Save(cp1); err != nil {
		t.Fatalf("Save 1: %v", err)
	}

	cp2 := New(0, "P")
	cp2.CompletedChunkPaths = []string{"a", "b"}
	if err := store.Save(cp2); err != nil {
		t.Fatalf("Save 2: %v", err)
	}

	// No leftover tmp/bak files should remain.
	for _, suffix := range []string{".tmp", ".bak"} {
		if _, err := os.Stat(store.Path() + suffix); !os.IsNotExist(err) {
			t.Errorf("leftover file %s%s present (err=%v)", store.Path(), suffix, err)
		}
	}

	loaded, ok, err := store.Load()
	if err != nil || !ok {
		t.Fatalf("Load: ok=%v err=%v", ok, err)
	}
	if len(loaded.CompletedChunkPaths) != 2 {
		t.Fatalf("expected latest save to win, got %v", loaded.CompletedChunkPaths)
	}
}

func TestCompletedSet(t *testing.T) {
	cp := Checkpoint{CompletedChunkPaths: []string{"a", "b", "a"}}
	set := CompletedSet(cp)
	if len(set) != 2 {
		t.Fatalf("len(set) = %d, want 2", len(set))
	}
	if _, ok := set["a"]; !ok {
		t.Errorf("expected 'a' in set")
	}
}

func TestDeleteReportsPriorExistence(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir, "P")

	existed, err := store.Delete()
	if err != nil || existed {
		t.Fatalf("Delete on missing file: existed=%v err=%v", existed, err)
	}

	if err := store.Save(New(0, "P")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	existed, err = store.Delete()
	if err != nil || !existed {
		t.Fatalf("Delete on present file: existed=%v err=%v", existed, err)
	}

	if _, statErr := os.Stat(filepath.Join(dir, "checkpoint-P.json")); !os.IsNotExist(statErr) {
		t.Errorf("file still present after delete")
	}
}
