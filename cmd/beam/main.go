// Beam — CLI entry point.
//
// Beam transfers a single file directly between two hosts over a WebRTC
// data channel. A public rendezvous server is used only for connection
// setup; the file itself travels peer-to-peer with per-chunk authenticated
// encryption under a key exchanged out-of-band.
package main

import (
	"os"

	"github.com/halcyonix/beam/cmd/beam/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
