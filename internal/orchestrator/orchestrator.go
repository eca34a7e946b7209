package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/pacepace/robocurse/internal/checkpoint"
	"github.com/pacepace/robocurse/internal/copyjob"
	"github.com/pacepace/robocurse/internal/domain"
)

// DefaultMaxRetries bounds how many times a single chunk is retried before
// it is recorded as permanently failed. A permission-denied
// chunk is never retried regardless of this limit (copyjob.Classify already
// reports ShouldRetry=false for those).
const DefaultMaxRetries = 3

// DefaultStopGracePeriod is how long the tick loop waits for an active job
// to exit on its own after a stop request before escalating to a hard kill.
const DefaultStopGracePeriod = 30 * time.Second

// DefaultCheckpointInterval is how often the tick loop persists a
// checkpoint while chunks are completing.
const DefaultCheckpointInterval = 10 * time.Second

// Logger receives audit events as the run progresses. Implementations are
// expected not to block meaningfully; the tick loop calls Event inline.
type Logger interface {
	Event(eventType domain.AuditEventType, fields map[string]any)
}

type nullLogger struct{}

func (nullLogger) Event(domain.AuditEventType, map[string]any) {}

// Orchestrator drives one profile's replication run: it owns the tick loop
// that admits chunks onto the concurrency-capped worker pool, reaps
// finished jobs, retries transient failures with backoff, and checkpoints
// progress.
type Orchestrator struct {
	Profile domain.Profile
	MaxConcurrent int
	MaxRetries int
	StopGrace time.Duration
	CheckpointEvery time.Duration
	LogRoot string
	DryRun bool

	// RetryInitialInterval/RetryMultiplier/RetryMaxInterval configure the
	// per-chunk backoff sequence. Zero values fall back to
	// the package defaults; tests shrink these to keep runtime short.
	RetryInitialInterval time.Duration
	RetryMultiplier float64
	RetryMaxInterval time.Duration

	store *checkpoint.Store
	logger Logger
	state *State

	cp checkpoint.Checkpoint
	lastCheckpoint time.Time
	backoffs map[int]*backoff.ExponentialBackOff
}

// New builds an Orchestrator for profile, seeded with chunks already
// filtered against any prior checkpoint.
func New(profile domain.Profile, chunks []domain.Chunk, store *checkpoint.Store, cp checkpoint.Checkpoint, logRoot string, logger Logger) *Orchestrator {
	if logger == nil {
		logger = nullLogger{}
	}
	o := &Orchestrator{
		Profile: profile,
		MaxConcurrent: 1,
		MaxRetries: DefaultMaxRetries,
		StopGrace: DefaultStopGracePeriod,
		CheckpointEvery: DefaultCheckpointInterval,
		LogRoot: logRoot,
		RetryInitialInterval: 5 * time.Second,
		RetryMultiplier: 2,
		RetryMaxInterval: 300 * time.Second,
		store: store,
		logger: logger,
		state: NewState(),
		cp: cp,
		backoffs: make(map[int]*backoff.ExponentialBackOff),
	}
	o.state.setPhase(PhaseIdle)
	o.state.EnqueueChunks(chunks)
	return o
}

// State exposes the live orchestration state for readers (CLI progress
// display, tests).
func (o *Orchestrator) State() *State { return o.state }

// Run drives the tick loop to completion (or until stopped/failed),
// sleeping interval between ticks. It returns the terminal Phase.
func (o *Orchestrator) Run(ctx context.Context, interval time.Duration) Phase {
	o.Start()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		o.tick(ctx)
		if o.state.Phase().Terminal() {
			o.logger.Event(domain.EventProfileEnd, map[string]any{
				"profile": o.Profile.Name,
				"phase": o.state.Phase().String(),
				"completed": o.state.CompletedCount(),
			})
			return o.state.Phase()
		}
		select {
		case <-ctx.Done():
			o.state.RequestStop()
		case <-ticker.C:
		}
	}
}

// Start transitions a freshly-constructed Orchestrator from Idle into
// Replicating, emitting ProfileStart. Callers driving Tick directly
// (rather than Run) must call Start first.
func (o *Orchestrator) Start() {
	o.state.Arm(o.Profile.Name, 0)
	o.state.setPhase(PhasePlanning)
	o.logger.Event(domain.EventProfileStart, map[string]any{"profile": o.Profile.Name})
	o.state.setPhase(PhaseReplicating)
}

// tick executes one scheduling pass: reap, admit, checkpoint. It is
// exported at the package level only through Run/Tick so tests can drive
// it deterministically without a real ticker.
func (o *Orchestrator) Tick(ctx context.Context) { o.tick(ctx) }

func (o *Orchestrator) tick(ctx context.Context) {
	phase := o.state.Phase()
	if phase.Terminal() {
		return
	}

	if o.state.StopRequested() && phase == PhaseReplicating {
		o.state.setPhase(PhaseStopping)
		phase = PhaseStopping
	}

	o.reap()

	switch phase {
	case PhaseStopping:
		o.signalActiveJobs()
		if o.state.ActiveJobCount() == 0 {
			o.state.setPhase(PhaseStopped)
			return
		}
	case PhaseReplicating:
		if o.state.PauseRequested() {
			o.state.setPhase(PhasePaused)
			return
		}
		o.admit(ctx)
		if o.state.QueueLen() == 0 && o.state.ActiveJobCount() == 0 {
			o.state.setPhase(PhaseComplete)
		}
	case PhasePaused:
		if !o.state.PauseRequested() {
			o.state.setPhase(PhaseReplicating)
		}
	}

	o.maybeCheckpoint()
}

// reap collects every active job that has exited, classifies its outcome,
// and either records completion, schedules a retry, or records permanent
// failure.
func (o *Orchestrator) reap() {
	for _, aj := range o.state.snapshotActiveJobs() {
		if !aj.job.Exited() {
			continue
		}
		waitErr := aj.job.Wait()
		exitCode := exitCodeOf(waitErr)

		outcome := copyjob.Classify(exitCode, aj.job.LogPath)
		o.state.removeActiveJob(aj.chunk.ChunkId)
		delete(o.backoffs, aj.chunk.ChunkId)

		switch {
		case outcome.Severity == copyjob.SeveritySuccess || outcome.Severity == copyjob.SeverityWarning:
			aj.chunk.Status = domain.ChunkCompleted
			o.state.recordCompleted(aj.chunk, outcome.BytesCopied, outcome.FilesCopied)
			o.cp.CompletedChunkPaths = append(o.cp.CompletedChunkPaths, aj.chunk.SourcePath.String())
			o.cp.CompletedCount++
			o.logger.Event(domain.EventChunkComplete, map[string]any{
				"chunkId": aj.chunk.ChunkId,
				"bytes": outcome.BytesCopied,
				"files": outcome.FilesCopied,
			})

		case outcome.ShouldRetry && aj.chunk.RetryCount < o.MaxRetries:
			aj.chunk.RetryCount++
			aj.chunk.RetryAfter = time.Now().Add(o.nextBackoff(aj.chunk.ChunkId))
			aj.chunk.Status = domain.ChunkPending
			o.state.requeueTail(aj.chunk)
			o.state.PushError(ErrorMessage{
				Time: time.Now(), Profile: o.Profile.Name, ChunkID: aj.chunk.ChunkId,
				Message: fmt.Sprintf("retry %d/%d scheduled: %s", aj.chunk.RetryCount, o.MaxRetries, outcome.Message),
			})

		default:
			aj.chunk.Status = domain.ChunkFailed
			o.state.recordFailed(aj.chunk)
			o.cp.FailedCount++
			o.state.PushError(ErrorMessage{
				Time: time.Now(), Profile: o.Profile.Name, ChunkID: aj.chunk.ChunkId,
				Message: outcome.Message,
			})
			o.logger.Event(domain.EventChunkFailed, map[string]any{
				"chunkId": aj.chunk.ChunkId,
				"message": outcome.Message,
			})
		}
	}
}

// admit starts new jobs up to MaxConcurrent while the queue has
// ready-to-run chunks.
func (o *Orchestrator) admit(ctx context.Context) {
	for o.state.ActiveJobCount() < o.MaxConcurrent {
		chunk, ok := o.state.dequeueReady(time.Now())
		if !ok {
			return
		}
		if o.DryRun {
			// Planning-only: advance the in-memory progress counters so the
			// CLI/audit surface can report an estimated plan, but never touch
			// o.cp — per spec.md §6 a dry run launches no copies and must
			// leave no run-state side effect for a later real run to trip
			// over (maybeCheckpoint is itself gated on !o.DryRun as well).
			chunk.Status = domain.ChunkCompleted
			o.state.recordCompleted(chunk, uint64(chunk.EstimatedSize), chunk.EstimatedFiles)
			continue
		}

		logPath := filepath.Join(o.LogRoot, fmt.Sprintf("chunk-%s-%d.log", o.Profile.Name, chunk.ChunkId))
		job, err := copyjob.Start(ctx, chunk, logPath, o.Profile.Options)
		if err != nil {
			chunk.Status = domain.ChunkFailed
			o.state.recordFailed(chunk)
			o.state.PushError(ErrorMessage{
				Time: time.Now(), Profile: o.Profile.Name, ChunkID: chunk.ChunkId,
				Message: fmt.Sprintf("failed to start copy job: %v", err),
			})
			continue
		}
		chunk.Status = domain.ChunkRunning
		o.state.addActiveJob(job, chunk)
		o.logger.Event(domain.EventChunkStart, map[string]any{"chunkId": chunk.ChunkId})
	}
}

// signalActiveJobs asks every still-running job to stop, escalating to a
// hard kill once StopGrace has elapsed since the first ask.
func (o *Orchestrator) signalActiveJobs() {
	now := time.Now()
	for _, aj := range o.state.snapshotActiveJobs() {
		if !aj.signalStop {
			_ = aj.job.Signal(true)
			aj.signalStop = true
			aj.stopAskedAt = now
			continue
		}
		if now.Sub(aj.stopAskedAt) > o.StopGrace {
			_ = aj.job.Signal(false)
		}
	}
}

func (o *Orchestrator) maybeCheckpoint() {
	if o.store == nil || o.DryRun {
		return
	}
	if time.Since(o.lastCheckpoint) < o.CheckpointEvery && !o.state.Phase().Terminal() {
		return
	}
	o.cp.CurrentProfileName = o.Profile.Name
	if err := o.store.Save(o.cp); err != nil {
		o.state.PushError(ErrorMessage{
			Time: time.Now(), Profile: o.Profile.Name,
			Message: fmt.Sprintf("checkpoint save failed: %v", err),
		})
		return
	}
	o.lastCheckpoint = time.Now()
	o.logger.Event(domain.EventCheckpointSaved, map[string]any{"profile": o.Profile.Name})
}

// nextBackoff returns the delay before the given chunk's next retry
// attempt, advancing that chunk's own exponential backoff sequence.
func (o *Orchestrator) nextBackoff(chunkID int) time.Duration {
	b, ok := o.backoffs[chunkID]
	if !ok {
		b = backoff.NewExponentialBackOff()
		b.InitialInterval = o.RetryInitialInterval
		b.Multiplier = o.RetryMultiplier
		b.MaxInterval = o.RetryMaxInterval
		b.MaxElapsedTime = 0
		b.Reset()
		o.backoffs[chunkID] = b
	}
	return b.NextBackOff()
}

// exitCodeOf recovers the copy process's exit code from the error
// os/exec.Cmd.Wait returns. A nil error means exit code 0; any other
// error that isn't an *exec.ExitError (e.g. the binary was never found)
// is treated as a generic failure code.
func exitCodeOf(err error) int {
	if err == nil {
		return 0
	}
	if ee, ok := err.(interface{ ExitCode() int }); ok {
		return ee.ExitCode()
	}
	return 1
}
