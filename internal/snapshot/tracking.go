package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// TrackingFile persists the set of snapshot handles a Registry currently
// believes are live to a single JSON file, rewritten in full on every
// change. Writes are serialized by an in-process mutex only; the file is
// not locked against other processes. Its only purpose is orphan
// reclamation: a process that starts up calls ReclaimFromDisk against the
// same path before doing anything else, so a handle a *prior* process
// created and never released (crash, kill -9) still gets torn down.
type TrackingFile struct {
	mu sync.Mutex
	path string
}

// NewTrackingFile returns a TrackingFile backed by path. The file is
// created on the first persist call; a missing file reads back as "no
// tracked handles" rather than an error.
func NewTrackingFile(path string) *TrackingFile {
	return &TrackingFile{path: path}
}

// Attach wires t into r so every Create/Release the registry performs
// through WithSnapshot also updates the on-disk record. Call this once
// right after NewRegistry.
func (r *Registry) Attach(t *TrackingFile) { r.tracking = t }

func (t *TrackingFile) persist(handles map[string]Handle) error {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(handles) == 0 {
		err := os.Remove(t.path)
		if err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}

	list := make([]Handle, 0, len(handles))
	for _, h := range handles {
		list = append(list, h)
	}
	body, err := json.MarshalIndent(list, "", " ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(t.path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(t.path, body, 0o644)
}

// ReclaimFromDisk reads a TrackingFile left behind by a previous process
// (if any) and releases every handle it names through provider, then
// removes the file. A missing or unreadable file is treated as "nothing
// to reclaim", matching the checkpoint store's own "corrupt content is
// not an error" posture — an orphan-reclaim step must never abort
// startup over a malformed tracking file.
func ReclaimFromDisk(ctx context.Context, path string, provider Provider) []error {
	if provider == nil {
		provider = NullProvider{}
	}

	body, err := os.ReadFile(path)
	if err != nil {
		return nil
	}

	var handles []Handle
	if err := json.Unmarshal(body, &handles); err != nil {
		// Malformed tracking file: remove it so it doesn't keep tripping
		// this check on every future startup, and report nothing to reclaim.
		_ = os.Remove(path)
		return nil
	}

	var errs []error
	for _, h := range handles {
		if err := provider.Release(ctx, h); err != nil {
			errs = append(errs, fmt.Errorf("snapshot: reclaim %s from disk: %w", h.ID, err))
		}
	}
	_ = os.Remove(path)
	return errs
}
