// Package version carries build information set with -ldflags -X.
package version

import "fmt"

var (
	// Version is the release version of the capture tools.
	Version = "dev"
	// GitSHA is the git commit SHA.
	GitSHA = "unknown"
	// BuildTime is the build timestamp.
	BuildTime = "unknown"
)

// String formats the build information on one line.
func String() string {
	return fmt.Sprintf("depth.capture %s (%s, built %s)", Version, GitSHA, BuildTime)
}
