//go:build windows

package snapshot

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"

	"github.com/pacepace/robocurse/internal/robopath"
)

// VSSProvider takes snapshots via vssadmin, the same os/exec-driven
// shell-tool idiom file-maintenance uses for its PowerShell setup wizard and
// popup notifications (internal/setup/embedded.go, internal/utils/notification.go).
// A full VSS integration would call into the Volume Shadow Copy COM APIs
// directly; shelling out to vssadmin keeps this dependency-free and
// matches how file-maintenance already prefers invoking external tools over
// linking platform SDKs.
type VSSProvider struct{}

var shadowIDPattern = regexp.MustCompile(`(?i)Shadow Copy ID:\s*(\{[0-9a-fA-F-]+\})`)
var deviceObjectPattern = regexp.MustCompile(`(?i)Shadow Copy Volume:\s*(\S+)`)

func (VSSProvider) Create(ctx context.Context, sourceRoot robopath.Path) (Handle, error) {
	vol := sourceRoot.String()[:2] // "C:" from "C:\..."
	cmd := exec.CommandContext(ctx, "vssadmin", "create", "shadow", "/for="+vol)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return Handle{}, fmt.Errorf("snapshot: vssadmin create: %w: %s", err, out)
	}

	var shadowID, deviceObject string
	scanner := bufio.NewScanner(strings.NewReader(string(out)))
	for scanner.Scan() {
		line := scanner.Text()
		if m := shadowIDPattern.FindStringSubmatch(line); m != nil {
			shadowID = m[1]
		}
		if m := deviceObjectPattern.FindStringSubmatch(line); m != nil {
			deviceObject = m[1]
		}
	}
	if shadowID == "" || deviceObject == "" {
		return Handle{}, fmt.Errorf("snapshot: could not parse vssadmin output: %s", out)
	}

	// The shadow device exposes the whole volume, so SnapshotRoot is the
	// source root's own directory inside it.
	return Handle{
		ID: shadowID,
		SourceRoot: sourceRoot,
		SnapshotRoot: robopath.Join(robopath.New(deviceObject), strings.TrimPrefix(sourceRoot.String()[2:], `\`)),
	}, nil
}

func (VSSProvider) Release(ctx context.Context, h Handle) error {
	cmd := exec.CommandContext(ctx, "vssadmin", "delete", "shadows", "/shadow="+h.ID, "/quiet")
	out, err := cmd.CombinedOutput()
	if err != nil {
		// vssadmin returns a non-zero exit status if the shadow no longer
		// exists, which is the common case for an already-released handle;
		// Release must stay idempotent, so that specific case is not an
		// error.
		if strings.Contains(string(out), "No items found") {
			return nil
		}
		return fmt.Errorf("snapshot: vssadmin delete: %w: %s", err, out)
	}
	return nil
}

func (VSSProvider) TranslatePath(h Handle, p robopath.Path) (robopath.Path, error) {
	rel, err := robopath.RelativeTo(h.SourceRoot, p)
	if err != nil {
		return robopath.Path{}, err
	}
	return robopath.Join(h.SnapshotRoot, rel), nil
}
