// Package orchestrator implements Robocurse's orchestrator: the phase state machine, the tick-driven scheduler, the
// concurrency cap, retry/backoff, and result aggregation.
//
// The counters in State follow file-maintenance's own concurrency posture in
// maintenance/worker.go almost exactly: atomic integers for counts that
// reader goroutines and the tick loop both touch
// (worker.go's `processed uint64` via atomic.AddUint64, `firstErr
// atomic.Value`), and a single mutex guarding the handful of slices/maps
// that need richer structure than a bare counter (ChunkQueue, ActiveJobs,
// ErrorMessages) — the design is explicit that this is a value-correctness
// contract, not a mandate for a specific primitive.
package orchestrator

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/pacepace/robocurse/internal/copyjob"
	"github.com/pacepace/robocurse/internal/domain"
)

// Phase is the orchestrator's state machine position.
type Phase int

const (
	PhaseIdle Phase = iota
	PhasePlanning
	PhaseReplicating
	PhasePaused
	PhaseStopping
	PhaseStopped
	PhaseComplete
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "Idle"
	case PhasePlanning:
		return "Planning"
	case PhaseReplicating:
		return "Replicating"
	case PhasePaused:
		return "Paused"
	case PhaseStopping:
		return "Stopping"
	case PhaseStopped:
		return "Stopped"
	case PhaseComplete:
		return "Complete"
	case PhaseFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Terminal reports whether p is one of the three terminal states.
func (p Phase) Terminal() bool {
	return p == PhaseComplete || p == PhaseStopped || p == PhaseFailed
}

// ErrorMessage is one drainable diagnostic surfaced to the UI/audit log.
type ErrorMessage struct {
	Time time.Time
	Profile string
	ChunkID int
	Message string
}

// activeJob pairs a running copyjob.Job with the bookkeeping the tick loop
// needs to reap it.
type activeJob struct {
	job *copyjob.Job
	chunk domain.Chunk
	signalStop bool
	stopAskedAt time.Time
}

// State is the live, per-run orchestration state. All exported accessor methods are safe for
// concurrent use; the tick loop is the only writer of ChunkQueue/ActiveJobs,
// but StopRequested/PauseRequested may be set from any goroutine (an
// external collaborator — UI, signal handler, test) and ErrorMessages may
// be drained concurrently with ticking.
type State struct {
	phaseMu sync.RWMutex
	phase Phase

	stopRequested atomic.Bool
	pauseRequested atomic.Bool

	queueMu sync.Mutex
	queue []domain.Chunk

	jobsMu sync.Mutex
	jobs map[int]*activeJob

	logMu sync.Mutex
	completedChunks []domain.Chunk
	failedChunks []domain.Chunk
	errorMessages []ErrorMessage

	completedCount atomic.Int64
	completedChunkBytes atomic.Uint64
	completedChunkFiles atomic.Int64
	totalChunks atomic.Int64

	currentProfile atomic.Value // string
	profileIndex atomic.Int64
	startTime atomic.Value // time.Time
}

// NewState returns a fresh State in PhaseIdle.
func NewState() *State {
	s := &State{jobs: make(map[int]*activeJob)}
	s.currentProfile.Store("")
	s.startTime.Store(time.Time{})
	return s
}

func (s *State) Phase() Phase {
	s.phaseMu.RLock()
	defer s.phaseMu.RUnlock()
	return s.phase
}

func (s *State) setPhase(p Phase) {
	s.phaseMu.Lock()
	defer s.phaseMu.Unlock()
	s.phase = p
}

// RequestStop is called by an external collaborator to ask the tick loop
// to begin stopping. Idempotent.
func (s *State) RequestStop() { s.stopRequested.Store(true) }
func (s *State) StopRequested() bool { return s.stopRequested.Load() }

// RequestPause/ClearPause toggle the pause flag observed at the top of
// each tick.
func (s *State) RequestPause() { s.pauseRequested.Store(true) }
func (s *State) ClearPause() { s.pauseRequested.Store(false) }
func (s *State) PauseRequested() bool { return s.pauseRequested.Load() }

func (s *State) EnqueueChunks(chunks []domain.Chunk) {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	s.queue = append(s.queue, chunks...)
	s.totalChunks.Add(int64(len(chunks)))
}

// QueueLen reports the number of chunks currently waiting.
func (s *State) QueueLen() int {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	return len(s.queue)
}

// dequeueReady pops and returns the first chunk in queue order whose
// RetryAfter has passed, or ok=false if none is ready. The loop scans from
// the front and skips chunks still in backoff, so a later ready chunk is
// admitted ahead of an earlier chunk that is waiting out its backoff.
func (s *State) dequeueReady(now time.Time) (domain.Chunk, bool) {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	for i, c := range s.queue {
		if !c.RetryAfter.IsZero() && c.RetryAfter.After(now) {
			continue
		}
		s.queue = append(s.queue[:i:i], s.queue[i+1:]...)
		return c, true
	}
	return domain.Chunk{}, false
}

func (s *State) requeueTail(c domain.Chunk) {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	s.queue = append(s.queue, c)
}

func (s *State) ActiveJobCount() int {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	return len(s.jobs)
}

func (s *State) addActiveJob(j *copyjob.Job, chunk domain.Chunk) {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	s.jobs[chunk.ChunkId] = &activeJob{job: j, chunk: chunk}
}

func (s *State) snapshotActiveJobs() []*activeJob {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	out := make([]*activeJob, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j)
	}
	return out
}

func (s *State) removeActiveJob(chunkID int) {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	delete(s.jobs, chunkID)
}

func (s *State) recordCompleted(c domain.Chunk, bytes uint64, files int) {
	s.logMu.Lock()
	s.completedChunks = append(s.completedChunks, c)
	s.logMu.Unlock()
	s.completedCount.Add(1)
	s.completedChunkBytes.Add(uint64(bytes))
	s.completedChunkFiles.Add(int64(files))
}

func (s *State) recordFailed(c domain.Chunk) {
	s.logMu.Lock()
	defer s.logMu.Unlock()
	s.failedChunks = append(s.failedChunks, c)
}

// PushError enqueues a drainable diagnostic.
func (s *State) PushError(msg ErrorMessage) {
	s.logMu.Lock()
	defer s.logMu.Unlock()
	s.errorMessages = append(s.errorMessages, msg)
}

// DrainErrors returns and clears all currently queued error messages.
func (s *State) DrainErrors() []ErrorMessage {
	s.logMu.Lock()
	defer s.logMu.Unlock()
	out := s.errorMessages
	s.errorMessages = nil
	return out
}

func (s *State) CompletedChunks() []domain.Chunk {
	s.logMu.Lock()
	defer s.logMu.Unlock()
	out := make([]domain.Chunk, len(s.completedChunks))
	copy(out, s.completedChunks)
	return out
}

func (s *State) FailedChunks() []domain.Chunk {
	s.logMu.Lock()
	defer s.logMu.Unlock()
	out := make([]domain.Chunk, len(s.failedChunks))
	copy(out, s.failedChunks)
	return out
}

func (s *State) CompletedCount() int64 { return s.completedCount.Load() }
func (s *State) CompletedChunkBytes() uint64 { return s.completedChunkBytes.Load() }
func (s *State) CompletedChunkFiles() int64 { return s.completedChunkFiles.Load() }
func (s *State) TotalChunks() int64 { return s.totalChunks.Load() }

func (s *State) CurrentProfile() string { return s.currentProfile.Load().(string) }
func (s *State) ProfileIndex() int64 { return s.profileIndex.Load() }
func (s *State) StartTime() time.Time { return s.startTime.Load().(time.Time) }

// Arm records which profile/index a run belongs to and stamps the start
// time, without disturbing any chunks already enqueued.
func (s *State) Arm(profileName string, profileIndex int) {
	s.currentProfile.Store(profileName)
	s.profileIndex.Store(int64(profileIndex))
	s.startTime.Store(time.Now())
}
