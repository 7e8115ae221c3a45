// Package version holds the build identity reported by tcpproxy --version and
// proxyctl --version.
package version

import "fmt"

// Version is the proxy's release version. Overridden at build time via
// -ldflags "-X github.com/ehdtndla123/proxy-server/internal/version.Version=...".
var Version = "dev"

// Commit is the source revision the binary was built from, set the same way
// as Version.
var Commit = "unknown"

// String formats the version and commit for display.
func String() string {
	return fmt.Sprintf("tcpproxy %s (%s)", Version, Commit)
}
