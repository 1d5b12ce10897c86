// Package version carries build metadata for the openquest binaries.
package version

import "fmt"

// Overridden at build time via
// -ldflags "-X github.com/Jacky040124/openquest/internal/version.<var>=...".
var (
	Version   = "0.1.0"
	Commit    = "dev"
	BuildDate = "unknown"
)

// Full renders the version line shown by the version command and the daemon
// startup log.
func Full() string {
	return fmt.Sprintf("openquest %s (commit:%s, built:%s)", Version, Commit, BuildDate)
}
