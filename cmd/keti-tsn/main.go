// Command keti-tsn is the thin CLI wrapper over the transport/client core
// (spec §6): keti-tsn <fetch|patch|get|put> [--transport serial|wifi]
// [--device PATH] [--host HOST] [--port N] [--verbose].
package main

import (
	"os"

	"github.com/hwkim3330/keti-tsn-cli-ui-sub001/internal/cli"
)

func main() {
	os.Exit(int(cli.Run(os.Args[1:])))
}
