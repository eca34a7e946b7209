// Package snapshot implements Robocurse's point-in-time snapshot
// coordination: a capability interface for taking a
// consistent snapshot of a source volume before copying from it, a no-op
// provider for sources that don't need or support one, and the scoped
// primitive that guarantees a snapshot is released on every exit path.
//
// The scoped-acquire-then-guaranteed-release shape mirrors file-maintenance's
// own resource handling in maintenance/backup.go's copyfileStream (open,
// defer Close, write, defer-driven cleanup runs regardless of which return
// path is taken).
package snapshot

import (
	"context"
	"fmt"
	"sync"

	"github.com/pacepace/robocurse/internal/robopath"
)

// Handle identifies one live snapshot.
type Handle struct {
	ID string
	SourceRoot robopath.Path
	SnapshotRoot robopath.Path
}

// Provider is the capability interface a platform-specific snapshot
// mechanism implements. TranslatePath maps a path under the
// original source root to the equivalent path under the snapshot, so the
// rest of the system (chunker, copy-job runner) can keep working with
// ordinary paths once a snapshot is in place.
type Provider interface {
	// Create takes a new snapshot of sourceRoot and returns a Handle.
	Create(ctx context.Context, sourceRoot robopath.Path) (Handle, error)
	// Release tears down a previously-created snapshot. Release must be
	// idempotent: releasing an already-released or unknown handle is not
	// an error.
	Release(ctx context.Context, h Handle) error
	// TranslatePath rewrites p (somewhere under h.SourceRoot) to the
	// corresponding path under h.SnapshotRoot.
	TranslatePath(h Handle, p robopath.Path) (robopath.Path, error)
}

// NullProvider is the Provider used for profiles with UseSnapshot=false,
// or on platforms with no snapshot mechanism wired up. Create returns a
// Handle whose SnapshotRoot equals SourceRoot, and TranslatePath is the
// identity function, so callers never need to branch on whether a real
// snapshot is in play.
type NullProvider struct{}

func (NullProvider) Create(_ context.Context, sourceRoot robopath.Path) (Handle, error) {
	return Handle{ID: "null", SourceRoot: sourceRoot, SnapshotRoot: sourceRoot}, nil
}

func (NullProvider) Release(context.Context, Handle) error { return nil }

func (NullProvider) TranslatePath(_ Handle, p robopath.Path) (robopath.Path, error) {
	return p, nil
}

// Registry tracks every snapshot this process has created, so an
// unexpected crash (panic recovered at a higher level, or the process
// being killed) can still be reconciled: with a TrackingFile attached the
// live set is persisted for ReclaimFromDisk at the next startup, and
// ReclaimOrphans releases whatever is still live in this process. Both
// rely on Release being idempotent.
type Registry struct {
	mu sync.Mutex
	provider Provider
	live map[string]Handle
	tracking *TrackingFile
}

// NewRegistry returns a Registry backed by provider. A nil provider
// defaults to NullProvider{}.
func NewRegistry(provider Provider) *Registry {
	if provider == nil {
		provider = NullProvider{}
	}
	return &Registry{provider: provider, live: make(map[string]Handle)}
}

// WithSnapshot creates a snapshot of sourceRoot, runs fn with it, and
// releases the snapshot before returning — regardless of whether fn
// returns an error or panics. This is the one scoped primitive every
// caller should use rather than calling Create/Release directly.
func (r *Registry) WithSnapshot(ctx context.Context, sourceRoot robopath.Path, fn func(Handle) error) (err error) {
	h, createErr := r.provider.Create(ctx, sourceRoot)
	if createErr != nil {
		return fmt.Errorf("snapshot: create: %w", createErr)
	}

	r.mu.Lock()
	r.live[h.ID] = h
	snapshotLive := cloneLive(r.live)
	r.mu.Unlock()
	_ = r.tracking.persist(snapshotLive)

	defer func() {
		r.mu.Lock()
		delete(r.live, h.ID)
		snapshotLive := cloneLive(r.live)
		r.mu.Unlock()
		_ = r.tracking.persist(snapshotLive)

		if releaseErr := r.provider.Release(ctx, h); releaseErr != nil && err == nil {
			err = fmt.Errorf("snapshot: release: %w", releaseErr)
		}
	}()

	return fn(h)
}

// ReclaimOrphans releases every snapshot this Registry believes is still
// live. It only sees handles created by this process; handles left behind
// by a prior process are released by ReclaimFromDisk instead.
func (r *Registry) ReclaimOrphans(ctx context.Context) []error {
	r.mu.Lock()
	handles := make([]Handle, 0, len(r.live))
	for _, h := range r.live {
		handles = append(handles, h)
	}
	r.mu.Unlock()

	var errs []error
	for _, h := range handles {
		if err := r.provider.Release(ctx, h); err != nil {
			errs = append(errs, fmt.Errorf("snapshot: reclaim %s: %w", h.ID, err))
			continue
		}
		r.mu.Lock()
		delete(r.live, h.ID)
		r.mu.Unlock()
	}
	return errs
}

// LiveCount reports how many snapshots the registry currently believes
// are outstanding. Used by tests and diagnostics.
func (r *Registry) LiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.live)
}

func cloneLive(live map[string]Handle) map[string]Handle {
	out := make(map[string]Handle, len(live))
	for k, v := range live {
		out[k] = v
	}
	return out
}
