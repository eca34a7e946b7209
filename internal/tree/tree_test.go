package tree

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pacepace/robocurse/internal/robopath"
)

func writeFile(t *testing.T, path string, n int) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, make([]byte, n), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestBuildAggregatesMatchGroundTruth(t *testing.T) {
	root := t.TempDir()

	writeFile(t, filepath.Join(root, "a.txt"), 100)
	writeFile(t, filepath.Join(root, "b.txt"), 250)
	writeFile(t, filepath.Join(root, "sub1", "c.txt"), 500)
	writeFile(t, filepath.Join(root, "sub1", "nested", "d.txt"), 10)
	writeFile(t, filepath.Join(root, "sub2", "e.txt"), 1)

	n, errs := Build(robopath.New(root))
	if len(errs) != 0 {
		t.Fatalf("unexpected enum errors: %v", errs)
	}

	wantSize, wantCount, err := CountGroundTruth(root)
	if err != nil {
		t.Fatalf("ground truth: %v", err)
	}
	if n.TotalSize != wantSize {
		t.Errorf("TotalSize = %d, want %d", n.TotalSize, wantSize)
	}
	if n.TotalFileCount != wantCount {
		t.Errorf("TotalFileCount = %d, want %d", n.TotalFileCount, wantCount)
	}

	if n.LocalFileCount != 2 {
		t.Errorf("root LocalFileCount = %d, want 2", n.LocalFileCount)
	}
}

func TestBuildIsDeterministicallyOrdered(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "Zebra", "f.txt"), 1)
	writeFile(t, filepath.Join(root, "apple", "f.txt"), 1)
	writeFile(t, filepath.Join(root, "Banana", "f.txt"), 1)

	n, _ := Build(robopath.New(root))
	if len(n.Children) != 3 {
		t.Fatalf("expected 3 children, got %d", len(n.Children))
	}
	names := []string{n.Children[0].Name, n.Children[1].Name, n.Children[2].Name}
	want := []string{"apple", "Banana", "Zebra"}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("children[%d] = %q, want %q (got order %v)", i, names[i], want[i], names)
		}
	}
}

func TestBuildRecordsPartialEnumWithoutAborting(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "ok", "f.txt"), 5)
	bad := filepath.Join(root, "bad")
	if err := os.MkdirAll(bad, 0o000); err != nil {
		t.Fatalf("mkdir bad: %v", err)
	}
	t.Cleanup(func() { os.Chmod(bad, 0o755) })

	n, errs := Build(robopath.New(root))
	if len(errs) == 0 {
		t.Skip("cannot simulate unreadable directory in this environment (likely running as root)")
	}
	// The rest of the tree must still have been enumerated.
	found := false
	for _, c := range n.Children {
		if c.Name == "ok" && c.TotalFileCount == 1 {
			found = true
		}
	}
	if !found {
		t.Errorf("expected sibling 'ok' subtree to still be enumerated, children=%v", n.Children)
	}
}
