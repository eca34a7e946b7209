// Package rerr names the error kinds a Robocurse run can surface, so
// callers can errors.Is against a stable sentinel instead of matching on
// message text. file-maintenance itself never needed this (its errors
// are either fatal at startup or logged-and-swallowed inline); Robocurse's
// multi-profile, multi-chunk run has enough distinct failure shapes that a
// caller (the CLI adapter deciding an exit code, a future UI surfacing a
// banner) needs to tell them apart.
package rerr

import "errors"

// Kind is one of the error taxonomy's named outcomes. Wrap a Kind with
// fmt.Errorf's %w and callers can errors.Is against it regardless of the
// surrounding message.
type Kind = error

var (
	ErrConfigInvalid = errors.New("rerr: config invalid")
	ErrSourceUnavailable = errors.New("rerr: source unavailable")
	ErrSubtreeEnumFailed = errors.New("rerr: subtree enumeration failed")
	ErrCopyTransient = errors.New("rerr: copy transient failure")
	ErrCopyPermanent = errors.New("rerr: copy permanent failure")
	ErrCheckpointUnreadable = errors.New("rerr: checkpoint unreadable")
	ErrCheckpointWriteFailed = errors.New("rerr: checkpoint write failed")
	ErrSnapshotUnavailable = errors.New("rerr: snapshot unavailable")
	ErrMutexAbandoned = errors.New("rerr: profile mutex was abandoned by a dead process")
	ErrDriveLetterExhausted = errors.New("rerr: no drive letters available")
	ErrLogWriteFailed = errors.New("rerr: log write failed")
)
