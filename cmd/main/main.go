package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"strconv"
	"syscall"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/pacepace/robocurse/internal/app"
	"github.com/pacepace/robocurse/internal/progress"
	"github.com/pacepace/robocurse/internal/setup"
	"github.com/pacepace/robocurse/internal/utils"
)

// shellMetacharPattern rejects config paths carrying the metacharacters
// spec.md §6 names explicitly: semicolons, backticks, and command
// substitution via "$(".
var shellMetacharPattern = regexp.MustCompile("[;`]|\\$\\(")

func main() {
	root, err := utils.ExeDir()
	if err != nil {
		root, _ = os.Getwd()
	}
	defaultConfigPath := filepath.Join(root, "config", "robocurse.ini")

	var (
		configPath string
		profileName string
		allProfiles bool
		dryRun bool
		maxConcurrent int
	)
	runExitCode := 0

	cmd := &cobra.Command{
		Use: "robocurse",
		Short: "Replicate directory trees against a set of configured profiles",
		Long: `robocurse chunks a source directory tree, copies each chunk with an
external copy tool, checkpoints progress, and retries transient failures —
driven entirely by the profiles defined in its configuration file.`,
		Version: "0.1.0",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if shellMetacharPattern.MatchString(configPath) {
				return fmt.Errorf("--config %q contains disallowed shell metacharacters", configPath)
			}

			if _, statErr := os.Stat(configPath); os.IsNotExist(statErr) {
				configDir := filepath.Dir(configPath)
				fmt.Fprintf(os.Stderr, "no configuration found at %s\n", configPath)
				if _, err := setup.EnsureConfig(configDir, root); err != nil {
					return fmt.Errorf("startup: %w", err)
				}
			}

			if profileName != "" && allProfiles {
				return fmt.Errorf("--profile and --all-profiles are mutually exclusive")
			}
			if profileName == "" && !allProfiles {
				allProfiles = true
			}

			if env := os.Getenv("MAX_CONCURRENT_JOBS"); env != "" && !cmd.Flags().Changed("max-concurrent") {
				n, convErr := strconv.Atoi(env)
				if convErr != nil || n < 1 {
					return fmt.Errorf("MAX_CONCURRENT_JOBS=%q is not a positive integer", env)
				}
				maxConcurrent = n
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			var bar *progressbar.ProgressBar
			var barProfile string

			result, err := app.Run(ctx, app.Options{
				ConfigPath: configPath,
				ProfileName: profileName,
				DryRun: dryRun,
				MaxConcurrentOverride: maxConcurrent,
				OnProgress: func(name string, snap progress.Snapshot) {
					if bar == nil || barProfile != name {
						bar = progressbar.NewOptions64(int64(snap.EstimatedBytes),
							progressbar.OptionSetDescription(name),
							progressbar.OptionShowBytes(true),
							progressbar.OptionSetWriter(os.Stderr),
						)
						barProfile = name
					}
					_ = bar.Set64(int64(snap.CompletedBytes))
				},
			})
			if err != nil {
				return fmt.Errorf("startup: %w", err)
			}

			for _, pr := range result.Profiles {
				fmt.Printf("%s: %s (%d completed, %d failed)\n", pr.Name, pr.Phase, pr.CompletedChunks, pr.FailedChunks)
				for _, e := range pr.Errors {
					fmt.Fprintf(os.Stderr, "  %s chunk=%d: %s\n", pr.Name, e.ChunkID, e.Message)
				}
			}

			runExitCode = result.ExitCode()
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", defaultConfigPath, "path to robocurse.ini")
	cmd.Flags().StringVar(&profileName, "profile", "", "run only the named profile")
	cmd.Flags().BoolVar(&allProfiles, "all-profiles", false, "run every enabled profile (default when --profile is omitted)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "plan and audit chunks without launching any copies")
	cmd.Flags().IntVar(&maxConcurrent, "max-concurrent", 0, "override [run] max_concurrent_jobs (0 = use config)")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	os.Exit(runExitCode)
}
