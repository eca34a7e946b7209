package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pacepace/robocurse/internal/checkpoint"
	"github.com/pacepace/robocurse/internal/copyjob"
	"github.com/pacepace/robocurse/internal/domain"
	"github.com/pacepace/robocurse/internal/robopath"
)

// Integration test helpers
//
// orchestrator's real work is launching an external copy tool, so these
// tests point copyjob.ToolPath at a tiny shell script instead of the real
// robocopy binary. The script understands just enough of BuildArgs'
// output (/LOG:<path>) to write a stats log copyjob.Classify can parse,
// and uses a sidecar ".attempts" counter file next to the log so a single
// chunk can be made to fail N times before succeeding — enough to drive
// the orchestrator's retry path without a real filesystem copy happening.

const fakeCopyToolScript = `#!/bin/sh
log=""
for a in "$@"; do
 case "$a" in
 /LOG:*) log="${a#/LOG:}" ;;
 esac
done
if [ -n "$FAKE_SLEEP_SECONDS" ]; then
 sleep "$FAKE_SLEEP_SECONDS"
fi
counter="$log.attempts"
n=0
if [ -f "$counter" ]; then
 n=$(cat "$counter")
fi
n=$((n+1))
echo "$n" > "$counter"

succeedAt="${FAKE_SUCCEED_AT:-1}"
if [ "$n" -lt "$succeedAt" ]; then
 {
 echo " Dirs : 1 0 0 0 0 0"
 echo " Files : 1 0 0 1 0 0"
 echo " Bytes : 100 0 0 100 0 0"
 echo "2026/07/31 10:00:00 ERROR 32 (0x00000020) The process cannot access the file"
 } > "$log"
 exit "${FAKE_FAIL_EXIT:-8}"
fi

{
 echo " Dirs : 1 1 0 0 0 0"
 echo " Files : 1 1 0 0 0 0"
 echo " Bytes : 100 100 0 0 0 0"
} > "$log"
exit 1
`

// installFakeCopyTool writes the fake tool script to a temp dir, points
// copyjob.ToolPath at it for the duration of the test, and restores the
// original value on cleanup.
func installFakeCopyTool(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fake-copytool.sh")
	if err := os.WriteFile(path, []byte(fakeCopyToolScript), 0o755); err != nil {
		t.Fatalf("write fake copy tool: %v", err)
	}
	prev := copyjob.ToolPath
	copyjob.ToolPath = path
	t.Cleanup(func() { copyjob.ToolPath = prev })
}

// testChunks returns n sequentially numbered chunks rooted under a fresh
// temp directory, suitable for feeding to New.
func testChunks(t *testing.T, n int) []domain.Chunk {
	t.Helper()
	root := t.TempDir()
	chunks := make([]domain.Chunk, n)
	for i := 0; i < n; i++ {
		sub := filepath.Join(root, "src", string(rune('a'+i)))
		if err := os.MkdirAll(sub, 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		chunks[i] = domain.Chunk{
			ChunkId: i + 1,
			SourcePath: robopath.New(sub),
			DestinationPath: robopath.New(filepath.Join(root, "dst", string(rune('a'+i)))),
			EstimatedSize: 1024,
			EstimatedFiles: 1,
		}
	}
	return chunks
}

func testProfile(name string) domain.Profile {
	return domain.Profile{
		Name: name,
		Enabled: true,
		ScanMode: domain.ScanModeSmart,
		Options: domain.CopyOptions{Threads: 1, RetryWaitSeconds: 0},
	}
}

func newTestOrchestrator(t *testing.T, chunks []domain.Chunk, maxConcurrent int) (*Orchestrator, *checkpoint.Store) {
	t.Helper()
	logRoot := t.TempDir()
	store := checkpoint.NewStore(logRoot, "testprofile")
	o := New(testProfile("testprofile"), chunks, store, checkpoint.New(0, "testprofile"), logRoot, nil)
	o.MaxConcurrent = maxConcurrent
	o.CheckpointEvery = 0
	return o, store
}

// runUntilTerminal calls Start then drives Tick in a tight loop (no real
// ticker) until the orchestrator reaches a terminal phase or the timeout
// elapses.
func runUntilTerminal(t *testing.T, o *Orchestrator, timeout time.Duration) Phase {
	t.Helper()
	ctx := context.Background()
	o.Start()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		o.Tick(ctx)
		if o.State().Phase().Terminal() {
			return o.State().Phase()
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("orchestrator did not reach a terminal phase within %s (phase=%s)", timeout, o.State().Phase())
	return o.State().Phase()
}
