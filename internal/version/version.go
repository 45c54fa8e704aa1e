// Package version reports the hive build version.
package version

import (
	_ "embed"
	"fmt"
	"runtime"
	"strings"
)

//go:embed VERSION
var versionContent string

// Commit is set at build time with -ldflags "-X .../version.Commit=...".
var Commit = "unknown"

// Get returns the current version, with whitespace trimmed
func Get() string {
	return strings.TrimSpace(versionContent)
}

// Full returns the version with commit and Go runtime details.
func Full() string {
	return fmt.Sprintf("hive %s (commit %s, %s %s/%s)", Get(), Commit, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
