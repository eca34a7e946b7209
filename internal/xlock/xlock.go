// Package xlock implements Robocurse's cross-process coordination: a
// per-profile single-instance lock, so two invocations against the same
// profile never run concurrently, and in-memory tracking of which drive
// letters this process currently has reserved for mapped network
// destinations.
//
// The file lock itself is github.com/gofrs/flock, the same advisory-lock
// library the kopia backup tool uses for its own repository lock file.
package xlock

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// ErrAlreadyLocked is returned by TryAcquire when another process (or another
// goroutine's unreleased lock) already holds the named profile lock.
var ErrAlreadyLocked = errors.New("xlock: profile is already locked by another process")

// ProfileLock guards one profile against concurrent runs.
type ProfileLock struct {
	fl *flock.Flock
	path string
}

// NewProfileLock returns a ProfileLock backed by <lockRoot>/<profile>.lock.
// Constructing it does not touch the filesystem; call TryAcquire for that.
func NewProfileLock(lockRoot, profileName string) *ProfileLock {
	path := filepath.Join(lockRoot, profileName+".lock")
	return &ProfileLock{fl: flock.New(path), path: path}
}

// TryAcquire attempts to take the lock without blocking. It returns
// ErrAlreadyLocked (not a generic error) when another holder is active, so
// callers can distinguish "someone else is running this profile" from a
// genuine I/O failure.
func (l *ProfileLock) TryAcquire() error {
	ok, err := l.fl.TryLock()
	if err != nil {
		return fmt.Errorf("xlock: lock %s: %w", l.path, err)
	}
	if !ok {
		return ErrAlreadyLocked
	}
	return nil
}

// Release drops the lock. Safe to call even if TryAcquire was never
// called or failed.
func (l *ProfileLock) Release() error {
	if !l.fl.Locked() {
		return nil
	}
	return l.fl.Unlock()
}

// Path exposes the backing lock file path for diagnostics.
func (l *ProfileLock) Path() string { return l.path }

// DriveLetterPool tracks which drive letters this process has reserved
// for mapping network destinations over the lifetime of a run. It is purely in-memory bookkeeping: the actual OS-level mapping
// is done by a platform-specific Mapper (drivemap_windows.go /
// drivemap_other.go).
type DriveLetterPool struct {
	mu sync.Mutex
	reserved map[byte]string // letter -> UNC path it's mapped to
	eligible []byte
}

// defaultEligibleLetters is every drive letter Windows conventionally
// leaves free for ad-hoc mapping, skipping the reserved A/B (floppy) and
// the typical C (system) letters.
var defaultEligibleLetters = []byte("DEFGHIJKLMNOPQRSTUVWXYZ")

// NewDriveLetterPool returns a pool that will allocate from
// defaultEligibleLetters.
func NewDriveLetterPool() *DriveLetterPool {
	return &DriveLetterPool{reserved: make(map[byte]string), eligible: defaultEligibleLetters}
}

// ErrNoDriveLettersAvailable is returned by Reserve when every eligible
// letter is already reserved by this process.
var ErrNoDriveLettersAvailable = errors.New("xlock: no drive letters available")

// Reserve claims the first free eligible letter for uncPath and returns
// it. Reservation is purely local bookkeeping; callers still need to
// invoke a Mapper to perform the actual OS-level mapping before using the
// letter as a path root, and ReleaseLetter to undo both. Reserve excludes
// only this process's own in-memory ReservedSet (exclusion (c) of
// spec.md §4.8); callers that also need to honor exclusions (a)/(b) —
// letters already mapped in the OS, or remembered from a prior session —
// should call ReserveExcluding with a Mapper's UsedLetters result instead.
func (p *DriveLetterPool) Reserve(uncPath string) (byte, error) {
	return p.ReserveExcluding(uncPath, nil)
}

// ReserveExcluding is Reserve, but additionally skips any letter present
// in osUsed. Callers are expected to obtain osUsed from a Mapper's
// UsedLetters, queried inside the same WithDriveLetterAllocationLock
// critical section as the Reserve call itself, so the OS-mapping snapshot
// is fresh relative to the allocation it gates.
func (p *DriveLetterPool) ReserveExcluding(uncPath string, osUsed map[byte]struct{}) (byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, letter := range p.eligible {
		if _, taken := p.reserved[letter]; taken {
			continue
		}
		if _, used := osUsed[letter]; used {
			continue
		}
		p.reserved[letter] = uncPath
		return letter, nil
	}
	return 0, ErrNoDriveLettersAvailable
}

// ReleaseLetter frees a previously reserved letter. Idempotent.
func (p *DriveLetterPool) ReleaseLetter(letter byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.reserved, letter)
}

// Reserved reports whether letter is currently reserved by this pool.
func (p *DriveLetterPool) Reserved(letter byte) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.reserved[letter]
	return ok
}

// ReservedCount reports how many letters are currently held.
func (p *DriveLetterPool) ReservedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.reserved)
}

// AllocationLockName is the fixed name of the system-wide mutex that
// serializes drive-letter selection and OS mapping mutations across
// every process on the host, matching the "fixed name" requirement for
// cross-process drive-letter coordination.
const AllocationLockName = "RobocurseDriveLetterAllocation"

// WithDriveLetterAllocationLock blocks until it holds the named
// system-wide mutex, runs fn, then releases it. Reserve/Map and
// ReleaseLetter/Unmap should both happen inside fn so the candidate-letter
// scan, the in-memory reservation, and the OS-level mapping mutation are
// all serialized against every other process doing the same thing.
func WithDriveLetterAllocationLock(lockRoot string, fn func() error) error {
	fl := flock.New(filepath.Join(lockRoot, AllocationLockName+".lock"))
	if err := fl.Lock(); err != nil {
		return fmt.Errorf("xlock: acquire drive-letter allocation lock: %w", err)
	}
	defer fl.Unlock()
	return fn()
}

// Mapper performs the OS-level drive mapping a reserved letter needs
// before it can be used as a path root, and reports which letters the OS
// already considers in use. Implementations live in drivemap_windows.go
// (golang.org/x/sys/windows, falling back to the "net use" command-line
// tool) and drivemap_other.go (no-op: Unix targets address UNC-equivalent
// shares directly by mount path, so there is nothing to map or enumerate).
type Mapper interface {
	Map(letter byte, uncPath string) error
	Unmap(letter byte) error
	// UsedLetters reports drive letters the OS currently has mapped or
	// remembers from a prior session (spec.md §4.8 exclusions (a)/(b)).
	// Callers re-query this on every allocation, inside the same
	// WithDriveLetterAllocationLock critical section as the Reserve call
	// it feeds, since the OS picture can change between runs.
	UsedLetters() (map[byte]struct{}, error)
}

// MapWithRetry calls m.Map, retrying once after releaseWait if the first
// attempt fails — a previous run's mapping can take a moment to tear down
// after that process exits.
func MapWithRetry(m Mapper, letter byte, uncPath string, releaseWait time.Duration) error {
	if err := m.Map(letter, uncPath); err == nil {
		return nil
	}
	time.Sleep(releaseWait)
	return m.Map(letter, uncPath)
}
