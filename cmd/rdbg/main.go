package main

import (
	"os"

	"github.com/rdbg/rdbg/cmd/rdbg/cmds"
	"github.com/rdbg/rdbg/pkg/version"
)

// Build is the git sha of this binaries build.
var Build string

func main() {
	if Build != "" {
		version.RdbgVersion.Build = Build
	}
	if err := cmds.New().Execute(); err != nil {
		os.Exit(1)
	}
}
