// Package appversion carries the build identity shared by pgwd and
// pgw-client: both binaries' "--version" flags print it, and pgwd logs it
// once at startup alongside the bound ports (see cmd/pgwd's runDaemon),
// the way the teacher logs appversion.Version next to its listen addresses
// in cmd/gobfd/main.go.
package appversion

import "fmt"

// Version, GitCommit, and BuildDate are set at build time via ldflags, e.g.
//
//	-ldflags="-X .../internal/version.Version=v1.0.0 -X .../internal/version.GitCommit=abc1234"
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Full renders the multi-line "<binary> <version>\n  commit: ...\n  built: ..."
// block both pgwd's and pgw-client's "--version" flags print.
func Full(binary string) string {
	return fmt.Sprintf("%s %s\n  commit:  %s\n  built:   %s", binary, Version, GitCommit, BuildDate)
}
