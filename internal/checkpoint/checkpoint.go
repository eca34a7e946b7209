// Package checkpoint implements Robocurse's checkpoint store: an
// atomically-written, versioned, per-profile record of completed chunk
// source paths.
//
// The atomic save sequence (write .tmp, rename existing file to .bak,
// rename .tmp into place, remove .bak) is the usual temp-file-then-rename
// idiom, applied here to persisting a JSON body instead of copying file
// bytes.
package checkpoint

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// CurrentVersion is the only Version string Load will accept. Any other
// value — including a well-formed but differently-versioned checkpoint —
// is treated as "no checkpoint".
const CurrentVersion = "1.0"

// Checkpoint is the persisted per-profile record.
type Checkpoint struct {
	Version string `json:"version"`
	SessionId string `json:"sessionId"`
	ProfileIndex int `json:"profileIndex"`
	CurrentProfileName string `json:"currentProfileName"`
	CompletedChunkPaths []string `json:"completedChunkPaths"`
	CompletedCount int `json:"completedCount"`
	FailedCount int `json:"failedCount"`
	SavedAt time.Time `json:"savedAt"`
}

// New constructs a fresh Checkpoint with a random session id and the
// current version, ready to accumulate completed chunk paths.
func New(profileIndex int, profileName string) Checkpoint {
	return Checkpoint{
		Version: CurrentVersion,
		SessionId: uuid.NewString(),
		ProfileIndex: profileIndex,
		CurrentProfileName: profileName,
	}
}

// Store manages the on-disk checkpoint file for a single profile.
type Store struct {
	path string
}

// NewStore returns a Store backed by <logRoot>/checkpoint-<profile>.json,
// the layout the design fixes.
func NewStore(logRoot, profileName string) *Store {
	return &Store{path: filepath.Join(logRoot, "checkpoint-"+profileName+".json")}
}

// Path exposes the backing file path, mainly for logging/diagnostics.
func (s *Store) Path() string { return s.path }

// Save atomically persists cp, regenerating SavedAt. Any error returned is
// an environment failure (can't create parent dir, can't write/rename);
// callers treat this as the design CheckpointWriteFailed — logged, run
// continues, next Save retries.
func (s *Store) Save(cp Checkpoint) error {
	cp.SavedAt = time.Now().UTC()

	body, err := json.MarshalIndent(cp, "", " ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	bak := s.path + ".bak"

	if err := os.WriteFile(tmp, body, 0o644); err != nil {
		_ = os.Remove(tmp)
		return err
	}

	if _, err := os.Stat(s.path); err == nil {
		if err := os.Rename(s.path, bak); err != nil {
			_ = os.Remove(tmp)
			return err
		}
	}

	if err := os.Rename(tmp, s.path); err != nil {
		// Best-effort: restore the prior file so a concurrent reader never
		// sees a missing checkpoint where one previously existed.
		if _, statErr := os.Stat(bak); statErr == nil {
			_ = os.Rename(bak, s.path)
		}
		_ = os.Remove(tmp)
		return err
	}

	_ = os.Remove(bak)
	return nil
}

// Load reads the checkpoint file. Per the design, a missing, empty,
// non-UTF8-JSON, truncated, binary-garbage, or version-mismatched file is
// reported as "no checkpoint" (ok=false) rather than an error. Read
// failures such as permission denied are reported the same way, so Load
// never returns a non-nil error.
func (s *Store) Load() (cp Checkpoint, ok bool, err error) {
	body, readErr := os.ReadFile(s.path)
	if readErr != nil {
		if errors.Is(readErr, os.ErrNotExist) {
			return Checkpoint{}, false, nil
		}
		// Any other read failure (permissions, etc.) is also treated as
		// "no checkpoint" — the design is explicit that Load never throws for
		// a readable-but-malformed file, and a run that can't read its own
		// checkpoint should still proceed from scratch rather than abort.
		return Checkpoint{}, false, nil
	}

	if len(body) == 0 {
		return Checkpoint{}, false, nil
	}

	var parsed Checkpoint
	if jsonErr := json.Unmarshal(body, &parsed); jsonErr != nil {
		return Checkpoint{}, false, nil
	}

	if parsed.Version != CurrentVersion {
		return Checkpoint{}, false, nil
	}

	return parsed, true, nil
}

// Delete removes the checkpoint file. existed reports whether a file was
// actually present (Delete succeeds either way).
func (s *Store) Delete() (existed bool, err error) {
	err = os.Remove(s.path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// CompletedSet builds an O(1)-lookup set of completed chunk source paths
// from a Checkpoint, used by the orchestrator to filter already-done work.
func CompletedSet(cp Checkpoint) map[string]struct{} {
	set := make(map[string]struct{}, len(cp.CompletedChunkPaths))
	for _, p := range cp.CompletedChunkPaths {
		set[p] = struct{}{}
	}
	return set
}
