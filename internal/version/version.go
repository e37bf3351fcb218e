// Package version exposes build-time identifying information for the
// dyno-coordinator binary.
package version

// Version is overridden at build time via ldflags:
//
//	go build -ldflags "-X github.com/gebz97/dyno/internal/version.Version=v1.2.3"
var Version = "0.0.0-dev"

// GitCommit is the commit hash the binary was built from.
var GitCommit = "unknown"

// BuildTime is the build timestamp in RFC3339 format.
var BuildTime = "unknown"
