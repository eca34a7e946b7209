//go:build !windows

package snapshot

// VSSProvider is only meaningful on Windows (vssadmin/VSS has no portable
// equivalent); on other platforms it is a type alias for NullProvider so
// callers that reference snapshot.VSSProvider by name still compile, and
// simply get no-op snapshot behavior.
type VSSProvider = NullProvider
