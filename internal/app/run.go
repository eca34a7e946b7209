// Package app wires together every core component into one end-to-end
// run: load configuration, then replicate each enabled profile in order —
// read config, validate, run the worker, prune old logs.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pacepace/robocurse/internal/auditlog"
	"github.com/pacepace/robocurse/internal/checkpoint"
	"github.com/pacepace/robocurse/internal/chunker"
	"github.com/pacepace/robocurse/internal/config"
	"github.com/pacepace/robocurse/internal/domain"
	"github.com/pacepace/robocurse/internal/notify"
	"github.com/pacepace/robocurse/internal/orchestrator"
	"github.com/pacepace/robocurse/internal/progress"
	"github.com/pacepace/robocurse/internal/rerr"
	"github.com/pacepace/robocurse/internal/robopath"
	"github.com/pacepace/robocurse/internal/snapshot"
	"github.com/pacepace/robocurse/internal/tree"
	"github.com/pacepace/robocurse/internal/xlock"
)

// tickInterval is the driver cadence between orchestrator ticks. The tick
// contract itself does not care how often it's called; this just keeps the
// loop from busy-spinning while still noticing finished copy jobs promptly.
const tickInterval = 500 * time.Millisecond

// Options are the CLI-agnostic run parameters; cmd/main builds one of
// these from flags/env and hands it to Run.
type Options struct {
	ConfigPath string
	// ProfileName selects a single profile by name. Empty means every
	// enabled profile, in configured order.
	ProfileName string
	DryRun bool
	// MaxConcurrentOverride, if non-zero, overrides [run] max_concurrent_jobs.
	MaxConcurrentOverride int
	// OnProgress, if set, is called periodically while a profile is
	// replicating (roughly every tickInterval), letting the CLI adapter
	// drive a live progress bar without this package knowing anything
	// about terminal rendering.
	OnProgress func(profileName string, snap progress.Snapshot)
}

// ProfileResult summarizes one profile's run for the caller's exit-code
// decision and for printing a final report.
type ProfileResult struct {
	Name string
	Phase orchestrator.Phase
	CompletedChunks int64
	FailedChunks int
	Errors []orchestrator.ErrorMessage
}

// Result aggregates every profile run in one invocation.
type Result struct {
	SessionID string
	Profiles []ProfileResult
}

// ExitCode implements spec §6's CLI exit-code contract: 0 when every
// profile completed with no failed chunks, 1 if any profile has a failed
// chunk or ended in Stopped/Failed.
func (r Result) ExitCode() int {
	for _, p := range r.Profiles {
		if p.FailedChunks > 0 {
			return 1
		}
		if p.Phase == orchestrator.PhaseStopped || p.Phase == orchestrator.PhaseFailed {
			return 1
		}
	}
	return 0
}

// Run loads configuration and replicates every selected profile in order.
// The returned error is only non-nil for startup failures (bad config,
// unknown --profile); per-profile failures are recorded in Result instead,
// so one bad profile never prevents the rest from running.
func Run(ctx context.Context, opts Options) (Result, error) {
	bootstrapLog, err := auditlog.New("", os.Stderr)
	if err != nil {
		return Result{}, fmt.Errorf("app: bootstrap logger: %w", err)
	}

	cfg, err := config.Load(opts.ConfigPath, bootstrapLog)
	if err != nil {
		notify.Show("Robocurse configuration error", err.Error())
		return Result{}, err
	}

	var profiles []domain.Profile
	if opts.ProfileName != "" {
		p, ok := config.ProfileByName(cfg, opts.ProfileName)
		if !ok {
			return Result{}, fmt.Errorf("%w: no profile named %q in %s", rerr.ErrConfigInvalid, opts.ProfileName, opts.ConfigPath)
		}
		profiles = []domain.Profile{p}
	} else {
		profiles = config.EnabledProfiles(cfg)
	}
	if len(profiles) == 0 {
		return Result{}, fmt.Errorf("%w: no profiles to run", rerr.ErrConfigInvalid)
	}

	maxConcurrent := cfg.Run.MaxConcurrentJobs
	if opts.MaxConcurrentOverride > 0 {
		maxConcurrent = opts.MaxConcurrentOverride
	}

	sessionID := uuid.NewString()

	dayDir := filepath.Join(cfg.Run.LogRoot, time.Now().Format("2006-01-02"))
	jobsDir := filepath.Join(dayDir, "Jobs")
	if err := os.MkdirAll(jobsDir, 0o755); err != nil {
		return Result{}, fmt.Errorf("app: create log directory %s: %w", jobsDir, err)
	}

	opFile, err := os.OpenFile(filepath.Join(dayDir, "operational.log"), os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return Result{}, fmt.Errorf("app: open operational log: %w", err)
	}
	defer opFile.Close()
	opLog, err := auditlog.New("", opFile)
	if err != nil {
		return Result{}, fmt.Errorf("app: init operational logger: %w", err)
	}

	audit, err := auditlog.NewAuditWriterAt(filepath.Join(dayDir, "audit.jsonl"), sessionID)
	if err != nil {
		return Result{}, fmt.Errorf("app: open audit log: %w", err)
	}
	defer audit.Close()

	audit.Event(domain.EventSessionStart, map[string]any{"sessionId": sessionID, "profiles": profileNames(profiles)})
	defer audit.Event(domain.EventSessionEnd, map[string]any{"sessionId": sessionID})

	registry := snapshot.NewRegistry(snapshot.VSSProvider{})
	trackingPath := filepath.Join(cfg.Run.LogRoot, "snapshots.json")
	registry.Attach(snapshot.NewTrackingFile(trackingPath))
	for _, rerrErr := range snapshot.ReclaimFromDisk(ctx, trackingPath, snapshot.VSSProvider{}) {
		opLog.Warn("snapshot orphan reclaim failed", "error", rerrErr)
	}

	drivePool := xlock.NewDriveLetterPool()
	mapper := xlock.WNetMapper{}

	result := Result{SessionID: sessionID}

	for i, profile := range profiles {
		opLog.Info("starting profile", "profile", profile.Name, "index", i)
		pr := runProfile(ctx, profileRunDeps{
			index: i,
			profile: profile,
			cfg: cfg,
			maxConcurrent: maxConcurrent,
			dryRun: opts.DryRun,
			onProgress: opts.OnProgress,
			jobsDir: jobsDir,
			opLog: opLog,
			audit: audit,
			registry: registry,
			drivePool: drivePool,
			mapper: mapper,
		})
		result.Profiles = append(result.Profiles, pr)
	}

	if err := auditlog.Rotate(cfg.Run.LogRoot, cfg.Run.CompressAfterDays, cfg.Run.DeleteAfterDays); err != nil {
		opLog.Warn("log rotation failed", "error", err)
	}

	return result, nil
}

func profileNames(profiles []domain.Profile) []string {
	out := make([]string, len(profiles))
	for i, p := range profiles {
		out[i] = p.Name
	}
	return out
}

// profileRunDeps bundles the shared, run-wide collaborators every profile
// needs, so runProfile's own signature stays readable.
type profileRunDeps struct {
	index int
	profile domain.Profile
	cfg config.Config
	maxConcurrent int
	dryRun bool
	onProgress func(profileName string, snap progress.Snapshot)
	jobsDir string
	opLog *auditlog.Logger
	audit *auditlog.AuditWriter
	registry *snapshot.Registry
	drivePool *xlock.DriveLetterPool
	mapper xlock.Mapper
}

// runProfile drives one profile end to end: acquire its single-instance
// lock, resolve source/destination (snapshot, drive-letter mapping), plan
// chunks against any prior checkpoint, and run the orchestrator to
// completion. A failure specific to this profile is recorded in the
// returned ProfileResult rather than propagated, so profile N+1 still runs
// even if an earlier profile failed.
func runProfile(ctx context.Context, d profileRunDeps) ProfileResult {
	profile := d.profile
	pr := ProfileResult{Name: profile.Name, Phase: orchestrator.PhaseFailed}

	lock := xlock.NewProfileLock(d.cfg.Run.LogRoot, profile.Name)
	if err := lock.TryAcquire(); err != nil {
		d.opLog.Warn("profile lock unavailable, skipping", "profile", profile.Name, "error", err)
		pr.Errors = append(pr.Errors, orchestrator.ErrorMessage{Time: time.Now(), Profile: profile.Name, Message: err.Error()})
		return pr
	}
	defer lock.Release()

	if profile.UseSnapshot && runtime.GOOS != "windows" {
		err := fmt.Errorf("%w: no snapshot provider available on %s for profile %q", rerr.ErrSnapshotUnavailable, runtime.GOOS, profile.Name)
		notify.Show("Robocurse snapshot unavailable", err.Error())
		d.audit.Event(domain.EventGeneralError, map[string]any{"profile": profile.Name, "error": err.Error()})
		pr.Errors = append(pr.Errors, orchestrator.ErrorMessage{Time: time.Now(), Profile: profile.Name, Message: err.Error()})
		return pr
	}

	sourceRoot := robopath.New(profile.Source)
	if _, statErr := os.Stat(sourceRoot.String()); statErr != nil {
		err := fmt.Errorf("%w: %s: %v", rerr.ErrSourceUnavailable, sourceRoot.String(), statErr)
		d.audit.Event(domain.EventGeneralError, map[string]any{"profile": profile.Name, "error": err.Error()})
		pr.Errors = append(pr.Errors, orchestrator.ErrorMessage{Time: time.Now(), Profile: profile.Name, Message: err.Error()})
		return pr
	}

	store := checkpoint.NewStore(d.cfg.Run.LogRoot, profile.Name)
	cp, ok, _ := store.Load()
	if !ok {
		cp = checkpoint.New(d.index, profile.Name)
	}
	completedSet := checkpoint.CompletedSet(cp)

	runErr := withMappedDestination(profile, d.drivePool, d.mapper, d.cfg.Run.LogRoot, d.audit, func(destRoot robopath.Path) error {
		return withEffectiveSource(ctx, d.registry, profile, sourceRoot, d.audit, func(effectiveSourceRoot robopath.Path) error {
			root, enumErrs := tree.Build(effectiveSourceRoot)
			for _, e := range enumErrs {
				d.audit.Event(domain.EventGeneralError, map[string]any{
					"profile": profile.Name, "path": e.Path.String(), "error": e.Err.Error(),
				})
			}

			caps := chunker.Caps{
				MaxSizeBytes: profile.ChunkMaxSizeBytes,
				MaxFiles: profile.ChunkMaxFiles,
				MaxDepth: profile.ChunkMaxDepth,
				MinSizeBytes: profile.ChunkMinSizeBytes,
			}
			chunks := chunker.Plan(root, effectiveSourceRoot, destRoot, profile.ScanMode, caps, chunker.NewIDCounter())

			pending := make([]domain.Chunk, 0, len(chunks))
			for _, c := range chunks {
				if _, done := completedSet[c.SourcePath.String()]; done {
					continue
				}
				pending = append(pending, c)
			}
			d.opLog.Info("planned profile", "profile", profile.Name, "chunks", len(pending), "bytes", uint64(chunker.TotalSize(pending)))

			orch := orchestrator.New(profile, pending, store, cp, d.jobsDir, d.audit)
			orch.MaxConcurrent = d.maxConcurrent
			orch.MaxRetries = d.cfg.Run.MaxChunkRetries
			for _, e := range enumErrs {
				orch.State().PushError(orchestrator.ErrorMessage{Time: time.Now(), Profile: profile.Name, Message: e.Error()})
			}
			orch.DryRun = d.dryRun

			estimatedBytes := chunker.TotalSize(pending)
			stopProgress := startProgressPolling(d.onProgress, profile.Name, orch, estimatedBytes)

			finalPhase := orch.Run(ctx, tickInterval)
			stopProgress()

			state := orch.State()
			pr.Phase = finalPhase
			pr.CompletedChunks = state.CompletedCount()
			pr.FailedChunks = len(state.FailedChunks())
			pr.Errors = state.DrainErrors()

			// A dry run never touches checkpoint state (see orchestrator's
			// own DryRun guard on maybeCheckpoint/admit): deleting a real
			// checkpoint here would silently drop a later real run's resume
			// point over a planning-only invocation.
			if !d.dryRun && finalPhase == orchestrator.PhaseComplete && pr.FailedChunks == 0 {
				if _, err := store.Delete(); err != nil {
					d.opLog.Warn("checkpoint cleanup failed", "profile", profile.Name, "error", err)
				}
			}
			return nil
		})
	})
	if runErr != nil {
		pr.Errors = append(pr.Errors, orchestrator.ErrorMessage{Time: time.Now(), Profile: profile.Name, Message: runErr.Error()})
	}

	return pr
}

// startProgressPolling spawns a goroutine that reports onProgress a
// progress.Snapshot roughly every tickInterval while a profile replicates,
// reading orch.State() directly (documented safe for concurrent readers).
// It returns a stop function the caller must call once orch.Run returns.
func startProgressPolling(onProgress func(string, progress.Snapshot), profileName string, orch *orchestrator.Orchestrator, estimatedBytes robopath.Size) func() {
	if onProgress == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				st := orch.State()
				onProgress(profileName, progress.Snapshot{
					CompletedChunks: st.CompletedCount(),
					TotalChunks: st.TotalChunks(),
					CompletedBytes: st.CompletedChunkBytes(),
					EstimatedBytes: estimatedBytes,
					Elapsed: time.Since(st.StartTime()),
				})
			}
		}
	}()
	return func() { close(done) }
}

// withEffectiveSource runs fn with the path chunking/copying should
// actually read from: the profile's own source when UseSnapshot is false,
// or the snapshot's exposed root for the lifetime of fn otherwise. The
// snapshot is always released before this returns, even if fn fails.
func withEffectiveSource(ctx context.Context, registry *snapshot.Registry, profile domain.Profile, sourceRoot robopath.Path, audit *auditlog.AuditWriter, fn func(robopath.Path) error) error {
	if !profile.UseSnapshot {
		return fn(sourceRoot)
	}
	return registry.WithSnapshot(ctx, sourceRoot, func(h snapshot.Handle) error {
		audit.Event(domain.EventSnapshotCreated, map[string]any{"profile": profile.Name, "snapshotId": h.ID})
		defer audit.Event(domain.EventSnapshotReleased, map[string]any{"profile": profile.Name, "snapshotId": h.ID})
		return fn(h.SnapshotRoot)
	})
}

// withMappedDestination runs fn with the path copy jobs should write to:
// the profile's own destination verbatim for a local/already-mounted
// path, or a freshly allocated drive letter mapped to it for the lifetime
// of fn when the destination is a UNC share. The letter is always
// released before this returns.
func withMappedDestination(profile domain.Profile, pool *xlock.DriveLetterPool, mapper xlock.Mapper, lockRoot string, audit *auditlog.AuditWriter, fn func(robopath.Path) error) error {
	if !strings.HasPrefix(profile.Destination, `\\`) {
		return fn(robopath.New(profile.Destination))
	}

	var letter byte
	err := xlock.WithDriveLetterAllocationLock(lockRoot, func() error {
		used, usedErr := mapper.UsedLetters()
		if usedErr != nil {
			return fmt.Errorf("enumerate OS-mapped drive letters: %w", usedErr)
		}
		l, reserveErr := pool.ReserveExcluding(profile.Destination, used)
		if reserveErr != nil {
			return reserveErr
		}
		letter = l
		return xlock.MapWithRetry(mapper, letter, profile.Destination, 2*time.Second)
	})
	if err != nil {
		return fmt.Errorf("xlock: map destination %s: %w", profile.Destination, err)
	}
	audit.Event(domain.EventDriveLetterAllocated, map[string]any{"profile": profile.Name, "letter": string(letter), "unc": profile.Destination})

	defer func() {
		_ = xlock.WithDriveLetterAllocationLock(lockRoot, func() error {
			pool.ReleaseLetter(letter)
			return mapper.Unmap(letter)
		})
		audit.Event(domain.EventDriveLetterReleased, map[string]any{"profile": profile.Name, "letter": string(letter)})
	}()

	return fn(robopath.New(string(letter) + ":" + string(filepath.Separator)))
}
