// Command iotaudit runs the IoT security audit service and its CLI tools.
package main

import "github.com/anstrom/iotaudit/cmd/cli"

// Build information, set via ldflags.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

func main() {
	cli.SetVersion(version, commit, buildTime)
	cli.Execute()
}
