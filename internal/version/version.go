// Package version holds the build stamp of the ketchup binary.
package version

import (
	"fmt"
	"runtime"
)

// Overridden with -ldflags "-X github.com/tomatool/ketchup/internal/version.Version=..."
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// String is the one-line form printed by --version
func String() string {
	return fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, BuildDate)
}

// Platform is the Go toolchain and target the binary was built with.
func Platform() string {
	return fmt.Sprintf("%s %s/%s", runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
