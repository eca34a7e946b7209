// Package notify shows an operator-facing popup for failures that would
// otherwise go unseen on an unattended, scheduled run — exactly
// file-maintenance's own utils.ShowPopup use ("backup path not accessible"
// before any deletion happens), generalized from a single backup-path
// check to any startup failure severe enough to abort a profile before
// replication begins (ConfigInvalid, SnapshotUnavailable).
package notify

import (
	"os"
	"os/exec"
	"runtime"
	"strings"
)

// Show displays title/message as a popup on Windows, falling back to
// stderr everywhere else (a CLI context has no native popup mechanism).
func Show(title, message string) {
	if runtime.GOOS == "windows" {
		showWindowsPopup(title, message)
		return
	}
	_, _ = os.Stderr.Write([]byte("POPUP [" + title + "]: " + message + "\n"))
}

// showWindowsPopup shells out to PowerShell to raise a native message box,
// launched with cmd.Start() (not Run()) so it can still appear after the
// calling process exits — the same non-blocking os/exec idiom
// file-maintenance's setup wizard uses to launch its own PowerShell script.
func showWindowsPopup(title, message string) {
	escapedTitle := strings.ReplaceAll(title, `"`, "`\"")
	escapedMessage := strings.ReplaceAll(message, `"`, "`\"")

	args := []string{
		"-WindowStyle", "Hidden",
		"-NoProfile",
		"-Command",
		`Add-Type -AssemblyName System.Windows.Forms; [System.Windows.Forms.MessageBox]::Show("` + escapedMessage + `", "` + escapedTitle + `", [System.Windows.Forms.MessageBoxButtons]::OK, [System.Windows.Forms.MessageBoxIcon]::Error)`,
	}

	cmd := exec.Command("powershell", args...)
	_ = cmd.Start()
}
