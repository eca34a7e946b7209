// Package domain holds the data-model types shared across Robocurse's core
// packages: Profile, Chunk and the small enums that travel
// with them. Keeping these in one leaf package (no imports beyond
// robopath) lets the chunker, orchestrator, copy-job runner and checkpoint
// store all refer to the same types without import cycles.
package domain

import (
	"time"

	"github.com/pacepace/robocurse/internal/robopath"
)

// ScanMode selects the chunker algorithm used for a profile.
type ScanMode int

const (
	ScanModeSmart ScanMode = iota
	ScanModeFlat
)

func (m ScanMode) String() string {
	switch m {
	case ScanModeSmart:
		return "smart"
	case ScanModeFlat:
		return "flat"
	default:
		return "unknown"
	}
}

// CopyOptions is the optional copy-option bag consumed when the
// copy-job runner composes a command line: thread count and
// include/exclude glob patterns.
type CopyOptions struct {
	Threads int
	IncludeGlobs []string
	ExcludeGlobs []string
	RetryWaitSeconds int
}

// Profile is the input configuration for one replication job.
// Immutable during a run once constructed.
type Profile struct {
	Name string
	Source string
	Destination string
	ScanMode ScanMode
	ChunkMaxSizeBytes robopath.Size
	ChunkMaxFiles int
	ChunkMaxDepth int
	ChunkMinSizeBytes robopath.Size
	UseSnapshot bool
	Enabled bool
	Options CopyOptions
}

// ChunkStatus is the lifecycle state of a single Chunk.
type ChunkStatus int

const (
	ChunkPending ChunkStatus = iota
	ChunkRunning
	ChunkCompleted
	ChunkFailed
)

func (s ChunkStatus) String() string {
	switch s {
	case ChunkPending:
		return "pending"
	case ChunkRunning:
		return "running"
	case ChunkCompleted:
		return "completed"
	case ChunkFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Chunk is one unit of copy work. ChunkId is assigned
// monotonically per run by the chunker.
type Chunk struct {
	ChunkId int
	SourcePath robopath.Path
	DestinationPath robopath.Path
	EstimatedSize robopath.Size
	EstimatedFiles int
	IsFilesOnly bool

	Status ChunkStatus
	RetryCount int
	RetryAfter time.Time
}

// AuditEventType enumerates the kinds of events written to the audit log.
type AuditEventType string

const (
	EventSessionStart AuditEventType = "SessionStart"
	EventSessionEnd AuditEventType = "SessionEnd"
	EventProfileStart AuditEventType = "ProfileStart"
	EventProfileEnd AuditEventType = "ProfileEnd"
	EventChunkStart AuditEventType = "ChunkStart"
	EventChunkComplete AuditEventType = "ChunkComplete"
	EventChunkFailed AuditEventType = "ChunkFailed"
	EventCheckpointSaved AuditEventType = "CheckpointSaved"
	EventSnapshotCreated AuditEventType = "SnapshotCreated"
	EventSnapshotReleased AuditEventType = "SnapshotReleased"
	EventDriveLetterAllocated AuditEventType = "DriveLetterAllocated"
	EventDriveLetterReleased AuditEventType = "DriveLetterReleased"
	EventGeneralError AuditEventType = "GeneralError"
)
