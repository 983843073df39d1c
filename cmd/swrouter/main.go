// Command swrouter runs the software IPv4 router: it reads an interface and
// route configuration, opens a link-layer device per interface, and
// dispatches frames between them until interrupted.
package main

import (
	"os"

	"github.com/packetgrove/swrouter/cmd/swrouter/internal/cli"
)

func main() {
	os.Exit(int(cli.Run()))
}
