// Command mdb-linkd is the host-side daemon wiring the link engine (C4),
// dispatcher (C5), and transport (C3) to a real serial device, with an
// optional Redis telemetry mirror. Grounded in the teacher's
// cmd/bluetooth-service/main.go entrypoint shape (open serial, connect
// Redis, run until SIGINT/SIGTERM), generalized from flag.Parse to a
// cobra command tree per SPEC_FULL.md §4.8.
package main

import (
	"fmt"
	"os"

	"github.com/librescoot/mdb-link/cmd/mdb-linkd/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
