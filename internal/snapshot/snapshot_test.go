package snapshot

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/pacepace/robocurse/internal/robopath"
)

// fakeProvider lets tests control Create/Release behavior and observe how
// many times each was called, without touching any real filesystem or
// platform snapshot mechanism.
type fakeProvider struct {
	mu sync.Mutex
	nextID int
	createErr error
	releaseErr error
	createCalls int
	releaseCalls int
}

func (f *fakeProvider) Create(_ context.Context, root robopath.Path) (Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if f.createErr != nil {
		return Handle{}, f.createErr
	}
	f.nextID++
	return Handle{ID: string(rune('a' + f.nextID)), SourceRoot: root, SnapshotRoot: root}, nil
}

func (f *fakeProvider) Release(context.Context, Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releaseCalls++
	return f.releaseErr
}

func (f *fakeProvider) TranslatePath(h Handle, p robopath.Path) (robopath.Path, error) {
	return p, nil
}

func TestWithSnapshotReleasesOnSuccess(t *testing.T) {
	fp := &fakeProvider{}
	r := NewRegistry(fp)

	err := r.WithSnapshot(context.Background(), robopath.New("/data"), func(h Handle) error {
		if r.LiveCount() != 1 {
			t.Errorf("LiveCount during fn = %d, want 1", r.LiveCount())
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithSnapshot() error = %v", err)
	}
	if fp.createCalls != 1 || fp.releaseCalls != 1 {
		t.Errorf("createCalls=%d releaseCalls=%d, want 1,1", fp.createCalls, fp.releaseCalls)
	}
	if r.LiveCount() != 0 {
		t.Errorf("LiveCount after WithSnapshot = %d, want 0", r.LiveCount())
	}
}

// TestWithSnapshotReleasesOnFnError is the scoped-release invariant:
// a snapshot is released even when the
// callback returns an error.
func TestWithSnapshotReleasesOnFnError(t *testing.T) {
	fp := &fakeProvider{}
	r := NewRegistry(fp)

	wantErr := errors.New("boom")
	err := r.WithSnapshot(context.Background(), robopath.New("/data"), func(h Handle) error {
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("WithSnapshot() error = %v, want %v", err, wantErr)
	}
	if fp.releaseCalls != 1 {
		t.Errorf("releaseCalls = %d, want 1", fp.releaseCalls)
	}
	if r.LiveCount() != 0 {
		t.Errorf("LiveCount = %d, want 0", r.LiveCount())
	}
}

// TestWithSnapshotReleasesOnFnPanic extends the same invariant to a
// panicking callback: the snapshot must not be left dangling just because
// the caller panicked instead of returning an error.
func TestWithSnapshotReleasesOnFnPanic(t *testing.T) {
	fp := &fakeProvider{}
	r := NewRegistry(fp)

	func() {
		defer func() { _ = recover() }()
		_ = r.WithSnapshot(context.Background(), robopath.New("/data"), func(h Handle) error {
			panic("unexpected")
		})
	}()

	if fp.releaseCalls != 1 {
		t.Errorf("releaseCalls = %d, want 1 even after a panic", fp.releaseCalls)
	}
	if r.LiveCount() != 0 {
		t.Errorf("LiveCount = %d, want 0 after a panic", r.LiveCount())
	}
}

func TestWithSnapshotPropagatesReleaseErrorOnlyWhenFnSucceeded(t *testing.T) {
	fp := &fakeProvider{releaseErr: errors.New("release failed")}
	r := NewRegistry(fp)

	err := r.WithSnapshot(context.Background(), robopath.New("/data"), func(h Handle) error {
		return nil
	})
	if err == nil {
		t.Fatalf("expected release error to propagate")
	}

	fnErr := errors.New("fn failed")
	err = r.WithSnapshot(context.Background(), robopath.New("/data"), func(h Handle) error {
		return fnErr
	})
	if !errors.Is(err, fnErr) {
		t.Errorf("expected the fn error to take priority over the release error, got %v", err)
	}
}

func TestWithSnapshotCreateErrorNeverCallsFn(t *testing.T) {
	fp := &fakeProvider{createErr: errors.New("create failed")}
	r := NewRegistry(fp)

	called := false
	err := r.WithSnapshot(context.Background(), robopath.New("/data"), func(h Handle) error {
		called = true
		return nil
	})
	if err == nil {
		t.Fatalf("expected create error to propagate")
	}
	if called {
		t.Errorf("fn must not run when Create fails")
	}
	if fp.releaseCalls != 0 {
		t.Errorf("Release must not be called for a snapshot that was never created")
	}
}

func TestNullProviderIsIdentity(t *testing.T) {
	var p NullProvider
	root := robopath.New("/data/source")
	h, err := p.Create(context.Background(), root)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if !h.SnapshotRoot.Equal(root) {
		t.Errorf("SnapshotRoot = %v, want equal to source root %v", h.SnapshotRoot, root)
	}

	child := robopath.New("/data/source/sub/file.txt")
	translated, err := p.TranslatePath(h, child)
	if err != nil {
		t.Fatalf("TranslatePath() error = %v", err)
	}
	if !translated.Equal(child) {
		t.Errorf("TranslatePath() = %v, want identity %v", translated, child)
	}

	if err := p.Release(context.Background(), h); err != nil {
		t.Errorf("Release() error = %v", err)
	}
}

func TestReclaimOrphansReleasesEveryTrackedHandle(t *testing.T) {
	fp := &fakeProvider{}
	r := NewRegistry(fp)

	// Simulate handles left over from a prior crash by inserting directly
	// rather than going through WithSnapshot.
	r.mu.Lock()
	r.live["orphan-1"] = Handle{ID: "orphan-1"}
	r.live["orphan-2"] = Handle{ID: "orphan-2"}
	r.mu.Unlock()

	errs := r.ReclaimOrphans(context.Background())
	if len(errs) != 0 {
		t.Fatalf("ReclaimOrphans() errors = %v, want none", errs)
	}
	if fp.releaseCalls != 2 {
		t.Errorf("releaseCalls = %d, want 2", fp.releaseCalls)
	}
	if r.LiveCount() != 0 {
		t.Errorf("LiveCount = %d, want 0 after reclaiming", r.LiveCount())
	}
}
