// Command cadencectl is the operator tool for a cadence API server:
// runtime status, re-probe, audit export and token issuance.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd(defaultDeps()).Execute(); err != nil {
		os.Exit(1)
	}
}
