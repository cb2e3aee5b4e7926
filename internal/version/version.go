package version

import (
	"fmt"
	"runtime/debug"
)

// Version and Commit are stamped through ldflags on release builds:
//
//	-X github.com/picoprov/picoprov/internal/version.Version=v1.2.3
//	-X github.com/picoprov/picoprov/internal/version.Commit=abc123
//
// Unstamped builds report "dev" with whatever revision the Go toolchain
// embedded from the checkout.
var (
	Version = ""
	Commit  = ""
)

func init() {
	if Commit == "" {
		Commit = vcsCommit()
	}
	if Version == "" {
		Version = "dev"
	}
	if Commit == "" {
		Commit = "unknown"
	}
}

// vcsCommit returns the short embedded revision, with a -dirty suffix
// for builds from a modified tree, or "" when no VCS data is present.
func vcsCommit() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}

	var revision, modified string
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			revision = setting.Value
		case "vcs.modified":
			modified = setting.Value
		}
	}
	if revision == "" {
		return ""
	}
	if len(revision) > 7 {
		revision = revision[:7]
	}
	if modified == "true" {
		revision += "-dirty"
	}
	return revision
}

// Full returns the version with the commit appended.
func Full() string {
	return fmt.Sprintf("%s (commit: %s)", Version, Commit)
}
