// Package buildinfo exposes version metadata stamped at link time.
package buildinfo

var (
	// Version is the release version, set via -ldflags.
	Version = "dev"
	// Commit is the git commit hash the binary was built from.
	Commit = "none"
	// BuildDate is the UTC build timestamp.
	BuildDate = "unknown"
)
