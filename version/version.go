// Package version holds build information, overridable via ldflags.
package version

var (
	// Version is the release tag.
	Version = "(untracked)"
	// CommitSHA is the git commit the binary was built from.
	CommitSHA = "(unknown)"
)
