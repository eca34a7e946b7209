// Package setup implements Robocurse's first-run configuration wizard:
// if no robocurse.ini is found, it launches an embedded PowerShell script
// that prompts for one or more replication profiles and writes them out.
package setup

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// configFileName is the file EnsureConfig checks for and the wizard
// writes, matching config.Load's expected path.
const configFileName = "robocurse.ini"

// ConfigExists reports whether robocurse.ini already exists in configDir.
func ConfigExists(configDir string) bool {
	_, err := os.Stat(filepath.Join(configDir, configFileName))
	return err == nil
}

// GetConfigPath returns the full path to robocurse.ini under configDir.
func GetConfigPath(configDir string) string {
	return filepath.Join(configDir, configFileName)
}

// LaunchSetupWizard runs the embedded wizard, falling back to an external
// setup.ps1 beside the binary if the embedded script fails for a reason
// other than the user cancelling (exit code 1).
func LaunchSetupWizard(configDir, exeDir string) error {
	if err := LaunchEmbeddedSetup(configDir); err != nil {
		if err.Error() != "failed to launch setup wizard: exit status 1" {
			if fallbackErr := launchExternalSetup(configDir, exeDir); fallbackErr == nil {
				return nil
			}
		}
		return err
	}
	return nil
}

func launchExternalSetup(configDir, exeDir string) error {
	candidates := []string{
		filepath.Join(exeDir, "config", "setup.ps1"),
		filepath.Join(exeDir, "setup.ps1"),
		filepath.Join(configDir, "setup.ps1"),
	}

	var script string
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			script = c
			break
		}
	}
	if script == "" {
		return fmt.Errorf("setup.ps1 not found")
	}

	cmd := exec.Command("powershell.exe", "-ExecutionPolicy", "Bypass", "-File", script, "-ConfigDir", configDir)
	cmd.Dir = filepath.Dir(script)
	cmd.Env = os.Environ()
	return cmd.Run()
}

// EnsureConfig checks for robocurse.ini and, if missing, runs the setup
// wizard. Returns true once a config file exists (either it already did,
// or the wizard created one).
func EnsureConfig(configDir, exeDir string) (bool, error) {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return false, fmt.Errorf("failed to create config directory: %w", err)
	}

	if ConfigExists(configDir) {
		return true, nil
	}

	fmt.Println("No configuration found. Launching setup wizard...")
	fmt.Println("Please configure your profile(s) in the GUI window.")

	if err := LaunchSetupWizard(configDir, exeDir); err != nil {
		return false, err
	}

	return ConfigExists(configDir), nil
}
