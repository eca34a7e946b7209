// Package config reads Robocurse's configuration file: a run-wide
// [run] section plus one [profile:Name] section per replication profile.
//
// The parser is a hand-rolled INI reader (parseIniSections/parsePathLine)
// generalized from a single [backup]+[paths] pair into N named profile
// sections read in file order — profile order is load-bearing (profiles
// run in the order they're configured), which is why section order is
// tracked explicitly here instead of folded into a map.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/pacepace/robocurse/internal/domain"
	"github.com/pacepace/robocurse/internal/rerr"
	"github.com/pacepace/robocurse/internal/robopath"
)

// Warner receives non-fatal parse warnings (unrecognized key, malformed
// value defaulted). hclog.Logger satisfies this via its promoted Warn
// method, so auditlog.Logger can be passed directly.
type Warner interface {
	Warn(msg string, args ...interface{})
}

type nullWarner struct{}

func (nullWarner) Warn(string, ...interface{}) {}

// RunSettings is the [run] section: process-wide knobs that apply across
// every profile.
type RunSettings struct {
	MaxConcurrentJobs int
	MaxChunkRetries int
	// CheckpointRoot is parsed but not read by the run; checkpoint files
	// are written under LogRoot.
	CheckpointRoot string
	LogRoot string
	CompressAfterDays int
	DeleteAfterDays int
}

// Config is the fully parsed configuration file.
type Config struct {
	Run RunSettings
	// Profiles preserves the order profile sections appeared in the file.
	Profiles []domain.Profile
}

// defaultRunSettings mirrors file-maintenance's own posture of shipping
// usable defaults rather than forcing every key to be present.
func defaultRunSettings() RunSettings {
	return RunSettings{
		MaxConcurrentJobs: 2,
		MaxChunkRetries: 3,
		CheckpointRoot: "logs",
		LogRoot: "logs",
		CompressAfterDays: 7,
		DeleteAfterDays: 30,
	}
}

// iniSection is one [header] block, keeping its keys in file order so a
// profile's fields read back in the same order they were written.
type iniSection struct {
	name string
	keys []string
	kv map[string]string
}

func (s *iniSection) set(key, value string) {
	if _, exists := s.kv[key]; !exists {
		s.keys = append(s.keys, key)
	}
	s.kv[key] = value
}

// Load reads and parses the configuration file at path.
func Load(path string, warn Warner) (Config, error) {
	if warn == nil {
		warn = nullWarner{}
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("%w: read %s: %v", rerr.ErrConfigInvalid, path, err)
	}

	content := strings.TrimPrefix(string(b), "﻿")

	sections, err := parseIniSections(content)
	if err != nil {
		return Config{}, fmt.Errorf("%w: parse %s: %v", rerr.ErrConfigInvalid, path, err)
	}

	cfg := Config{Run: defaultRunSettings()}

	for _, sec := range sections {
		switch {
		case sec.name == "run":
			if err := applyRunSettings(&cfg.Run, sec, warn); err != nil {
				return Config{}, err
			}
		case strings.HasPrefix(sec.name, "profile:"):
			name := strings.TrimPrefix(sec.name, "profile:")
			profile, err := parseProfile(name, sec, warn)
			if err != nil {
				return Config{}, err
			}
			cfg.Profiles = append(cfg.Profiles, profile)
		default:
			warn.Warn("config: ignoring unrecognized section", "section", sec.name)
		}
	}

	if len(cfg.Profiles) == 0 {
		return Config{}, fmt.Errorf("%w: no [profile:Name] sections defined in %s", rerr.ErrConfigInvalid, path)
	}

	return cfg, nil
}

// parseIniSections parses a simple INI-style document into an ordered list
// of sections, each with its keys in the order they appeared.
func parseIniSections(content string) ([]*iniSection, error) {
	var sections []*iniSection
	var current *iniSection

	for _, raw := range strings.Split(content, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, ";") || strings.HasPrefix(line, "#") {
			continue
		}

		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			name := strings.ToLower(strings.TrimSpace(strings.Trim(line, "[]")))
			if name == "" {
				return nil, fmt.Errorf("empty section name")
			}
			current = &iniSection{name: name, kv: make(map[string]string)}
			sections = append(sections, current)
			continue
		}

		if current == nil {
			return nil, fmt.Errorf("line outside of any section: %q", line)
		}

		idx := strings.Index(line, "=")
		if idx < 0 {
			return nil, fmt.Errorf("malformed line in [%s]: %q", current.name, line)
		}
		key := strings.ToLower(strings.TrimSpace(line[:idx]))
		value := strings.TrimSpace(line[idx+1:])
		current.set(key, value)
	}

	return sections, nil
}

func applyRunSettings(rs *RunSettings, sec *iniSection, warn Warner) error {
	for _, key := range sec.keys {
		val := sec.kv[key]
		switch key {
		case "max_concurrent_jobs":
			n, err := strconv.Atoi(val)
			if err != nil || n < 1 {
				return fmt.Errorf("%w: [run] max_concurrent_jobs: %q is not a positive integer", rerr.ErrConfigInvalid, val)
			}
			rs.MaxConcurrentJobs = n
		case "max_chunk_retries":
			n, err := strconv.Atoi(val)
			if err != nil || n < 0 {
				return fmt.Errorf("%w: [run] max_chunk_retries: %q is not a non-negative integer", rerr.ErrConfigInvalid, val)
			}
			rs.MaxChunkRetries = n
		case "checkpoint_root":
			rs.CheckpointRoot = val
		case "log_root":
			rs.LogRoot = val
		case "compress_after_days":
			n, err := strconv.Atoi(val)
			if err != nil || n < 0 {
				return fmt.Errorf("%w: [run] compress_after_days: %q is not a non-negative integer", rerr.ErrConfigInvalid, val)
			}
			rs.CompressAfterDays = n
		case "delete_after_days":
			n, err := strconv.Atoi(val)
			if err != nil || n < 0 {
				return fmt.Errorf("%w: [run] delete_after_days: %q is not a non-negative integer", rerr.ErrConfigInvalid, val)
			}
			rs.DeleteAfterDays = n
		default:
			warn.Warn("config: unrecognized [run] key, skipping", "key", key)
		}
	}
	return nil
}

func parseProfile(name string, sec *iniSection, warn Warner) (domain.Profile, error) {
	p := domain.Profile{
		Name: name,
		ScanMode: domain.ScanModeSmart,
		ChunkMaxSizeBytes: 10 * 1024 * 1024 * 1024, // 10 GiB
		ChunkMaxFiles: 50000,
		ChunkMaxDepth: 6,
		Enabled: true,
		Options: domain.CopyOptions{Threads: 8, RetryWaitSeconds: 2},
	}

	for _, key := range sec.keys {
		val := sec.kv[key]
		var err error
		switch key {
		case "source":
			p.Source = val
		case "destination":
			p.Destination = val
		case "scan_mode":
			switch strings.ToLower(val) {
			case "smart":
				p.ScanMode = domain.ScanModeSmart
			case "flat":
				p.ScanMode = domain.ScanModeFlat
			default:
				return domain.Profile{}, fmt.Errorf("%w: [profile:%s] scan_mode: %q must be \"smart\" or \"flat\"", rerr.ErrConfigInvalid, name, val)
			}
		case "chunk_max_size":
			var bytes uint64
			bytes, err = humanize.ParseBytes(val)
			if err == nil {
				p.ChunkMaxSizeBytes = robopath.Size(bytes)
			}
		case "chunk_max_files":
			p.ChunkMaxFiles, err = strconv.Atoi(val)
		case "chunk_max_depth":
			p.ChunkMaxDepth, err = strconv.Atoi(val)
		case "chunk_min_size":
			var bytes uint64
			bytes, err = humanize.ParseBytes(val)
			if err == nil {
				p.ChunkMinSizeBytes = robopath.Size(bytes)
			}
		case "use_snapshot":
			p.UseSnapshot, err = parseBool(val)
		case "enabled":
			p.Enabled, err = parseBool(val)
		case "threads":
			p.Options.Threads, err = strconv.Atoi(val)
		case "retry_wait_seconds":
			p.Options.RetryWaitSeconds, err = strconv.Atoi(val)
		case "include":
			p.Options.IncludeGlobs = splitGlobList(val)
		case "exclude":
			p.Options.ExcludeGlobs = splitGlobList(val)
		default:
			warn.Warn("config: unrecognized profile key, skipping", "profile", name, "key", key)
			continue
		}
		if err != nil {
			return domain.Profile{}, fmt.Errorf("%w: [profile:%s] %s: %q: %v", rerr.ErrConfigInvalid, name, key, val, err)
		}
	}

	if p.Source == "" {
		return domain.Profile{}, fmt.Errorf("%w: [profile:%s] missing source", rerr.ErrConfigInvalid, name)
	}
	if p.Destination == "" {
		return domain.Profile{}, fmt.Errorf("%w: [profile:%s] missing destination", rerr.ErrConfigInvalid, name)
	}

	return p, nil
}

func splitGlobList(val string) []string {
	var out []string
	for _, part := range strings.Split(val, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseBool accepts the "yes/no" vocabulary an operator hand-editing an
// INI file reaches for, rather than Go's stricter strconv.ParseBool.
func parseBool(val string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "yes", "y", "true", "1":
		return true, nil
	case "no", "n", "false", "0":
		return false, nil
	default:
		return false, fmt.Errorf("expected yes/no")
	}
}

// EnabledProfiles returns cfg.Profiles filtered to Enabled==true, preserving
// order. A profile disabled in the config is skipped entirely rather than
// planned and then discarded, so it never shows up in a run's summary.
func EnabledProfiles(cfg Config) []domain.Profile {
	out := make([]domain.Profile, 0, len(cfg.Profiles))
	for _, p := range cfg.Profiles {
		if p.Enabled {
			out = append(out, p)
		}
	}
	return out
}

// ProfileByName looks up a single profile by name, case-sensitively (names
// are the profile's stable identity per spec.md §3).
func ProfileByName(cfg Config, name string) (domain.Profile, bool) {
	for _, p := range cfg.Profiles {
		if p.Name == name {
			return p, true
		}
	}
	return domain.Profile{}, false
}
