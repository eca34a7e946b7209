package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/pacepace/robocurse/internal/checkpoint"
)

// TestResumeAccumulatesOntoExistingCheckpoint covers seed scenario S5:
// resuming a profile whose checkpoint already lists some chunks as
// completed must not discard that history — completing further chunks
// appends to it rather than starting the completed-paths list over.
func TestResumeAccumulatesOntoExistingCheckpoint(t *testing.T) {
	installFakeCopyTool(t)
	t.Setenv("FAKE_SUCCEED_AT", "1")

	chunks := testChunks(t, 2)
	o, store := newTestOrchestrator(t, chunks, 2)

	priorCp := checkpoint.New(0, o.Profile.Name)
	priorCp.CompletedChunkPaths = []string{"C:\\already\\done"}
	priorCp.CompletedCount = 1
	o.cp = priorCp

	phase := runUntilTerminal(t, o, 5*time.Second)
	if phase != PhaseComplete {
		t.Fatalf("phase = %v, want Complete", phase)
	}

	if len(o.cp.CompletedChunkPaths) != 3 {
		t.Fatalf("CompletedChunkPaths = %v, want 3 entries (1 prior + 2 new)", o.cp.CompletedChunkPaths)
	}
	if o.cp.CompletedChunkPaths[0] != "C:\\already\\done" {
		t.Errorf("prior completed path was not preserved, got %v", o.cp.CompletedChunkPaths)
	}

	saved, ok, err := store.Load()
	if err != nil || !ok {
		t.Fatalf("Load() = %v, %v, %v", saved, ok, err)
	}
	if saved.CompletedCount != 3 {
		t.Errorf("persisted CompletedCount = %d, want 3", saved.CompletedCount)
	}
}

// TestTransientFailureIsRetriedThenSucceeds covers seed scenario S6: a
// chunk whose copy tool invocation fails with a retryable error succeeds
// on a later attempt, ending the run as Complete with no failed chunks.
func TestTransientFailureIsRetriedThenSucceeds(t *testing.T) {
	installFakeCopyTool(t)
	t.Setenv("FAKE_SUCCEED_AT", "2")
	t.Setenv("FAKE_FAIL_EXIT", "8")

	chunks := testChunks(t, 1)
	o, _ := newTestOrchestrator(t, chunks, 1)
	o.RetryInitialInterval = 20 * time.Millisecond
	o.RetryMaxInterval = 100 * time.Millisecond

	phase := runUntilTerminal(t, o, 5*time.Second)
	if phase != PhaseComplete {
		t.Fatalf("phase = %v, want Complete", phase)
	}
	if o.State().CompletedCount() != 1 {
		t.Errorf("CompletedCount = %d, want 1", o.State().CompletedCount())
	}
	if len(o.State().FailedChunks()) != 0 {
		t.Errorf("expected no permanently failed chunks, got %v", o.State().FailedChunks())
	}

	completed := o.State().CompletedChunks()
	if len(completed) != 1 || completed[0].RetryCount != 1 {
		t.Errorf("expected the completed chunk to record one retry, got %+v", completed)
	}
}

// TestExhaustedRetriesRecordsPermanentFailure checks that a chunk which
// never stops failing is recorded as failed, not retried forever, once
// MaxRetries is exceeded.
func TestExhaustedRetriesRecordsPermanentFailure(t *testing.T) {
	installFakeCopyTool(t)
	t.Setenv("FAKE_SUCCEED_AT", "1000")
	t.Setenv("FAKE_FAIL_EXIT", "8")

	chunks := testChunks(t, 1)
	o, _ := newTestOrchestrator(t, chunks, 1)
	o.MaxRetries = 2
	o.RetryInitialInterval = 5 * time.Millisecond
	o.RetryMaxInterval = 20 * time.Millisecond

	phase := runUntilTerminal(t, o, 5*time.Second)
	if phase != PhaseComplete {
		t.Fatalf("phase = %v, want Complete (queue drained, failure recorded separately)", phase)
	}
	failed := o.State().FailedChunks()
	if len(failed) != 1 {
		t.Fatalf("FailedChunks = %v, want exactly 1", failed)
	}
	if failed[0].RetryCount != o.MaxRetries {
		t.Errorf("failed chunk RetryCount = %d, want %d", failed[0].RetryCount, o.MaxRetries)
	}
}

// TestStopRequestDrainsActiveJobsAndHaltsAdmission covers seed scenario
// S7: requesting a stop mid-run signals in-flight jobs to stop and admits
// no further chunks, and the orchestrator ends in PhaseStopped rather than
// Complete even though work remained in the queue.
func TestStopRequestDrainsActiveJobsAndHaltsAdmission(t *testing.T) {
	installFakeCopyTool(t)
	t.Setenv("FAKE_SUCCEED_AT", "1")
	t.Setenv("FAKE_SLEEP_SECONDS", "1")

	chunks := testChunks(t, 4)
	o, _ := newTestOrchestrator(t, chunks, 1)

	ctx := context.Background()
	o.Start()
	o.Tick(ctx) // admits the first (and, at concurrency 1, only) job

	if o.State().ActiveJobCount() != 1 {
		t.Fatalf("expected 1 active job after first tick, got %d", o.State().ActiveJobCount())
	}

	o.State().RequestStop()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) && !o.State().Phase().Terminal() {
		o.Tick(ctx)
		time.Sleep(10 * time.Millisecond)
	}

	if o.State().Phase() != PhaseStopped {
		t.Fatalf("phase = %v, want Stopped", o.State().Phase())
	}
	if o.State().QueueLen() == 0 {
		t.Errorf("expected unstarted chunks to remain queued after a stop, queue is empty")
	}
	if o.State().CompletedCount() > 1 {
		t.Errorf("expected at most the one in-flight chunk to complete, got %d", o.State().CompletedCount())
	}
}

// TestConcurrencyCapNeverExceeded is the concurrency invariant: the
// number of simultaneously active jobs never exceeds MaxConcurrent, even
// while a steady stream of chunks is being admitted and reaped.
func TestConcurrencyCapNeverExceeded(t *testing.T) {
	installFakeCopyTool(t)
	t.Setenv("FAKE_SUCCEED_AT", "1")

	const maxConcurrent = 2
	chunks := testChunks(t, 6)
	o, _ := newTestOrchestrator(t, chunks, maxConcurrent)

	ctx := context.Background()
	o.Start()
	maxObserved := 0
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) && !o.State().Phase().Terminal() {
		o.Tick(ctx)
		if n := o.State().ActiveJobCount(); n > maxObserved {
			maxObserved = n
		}
		time.Sleep(2 * time.Millisecond)
	}

	if maxObserved > maxConcurrent {
		t.Fatalf("observed %d active jobs, want <= %d", maxObserved, maxConcurrent)
	}
	if o.State().Phase() != PhaseComplete {
		t.Fatalf("phase = %v, want Complete", o.State().Phase())
	}
}

// TestRetryBackoffStaysWithinNominalBounds is the retry-monotonicity
// invariant, checked against the nominal (pre-jitter) interval each call
// advances to: every sampled delay stays within the exponential backoff
// envelope (allowing for ExponentialBackOff's +/-50% jitter) and never
// exceeds the configured ceiling once it has ramped up.
func TestRetryBackoffStaysWithinNominalBounds(t *testing.T) {
	o := New(testProfile("p"), nil, nil, checkpoint.New(0, "p"), t.TempDir(), nil)
	o.RetryInitialInterval = 10 * time.Millisecond
	o.RetryMultiplier = 2
	o.RetryMaxInterval = 200 * time.Millisecond

	nominal := o.RetryInitialInterval
	for i := 0; i < 6; i++ {
		d := o.nextBackoff(1)
		lo := nominal / 2
		hi := nominal + nominal/2
		if hi > o.RetryMaxInterval+o.RetryMaxInterval/2 {
			hi = o.RetryMaxInterval + o.RetryMaxInterval/2
		}
		if d < lo || d > hi {
			t.Errorf("attempt %d: backoff %s outside expected envelope [%s, %s] for nominal %s", i, d, lo, hi, nominal)
		}
		if nominal < o.RetryMaxInterval {
			nominal = time.Duration(float64(nominal) * o.RetryMultiplier)
			if nominal > o.RetryMaxInterval {
				nominal = o.RetryMaxInterval
			}
		}
	}
}
