//go:build !windows

package mcp

import (
	"os"
	"syscall"
)

// shutdownSignals stop a stdio session: Ctrl+C from a terminal, SIGTERM
// from a client that manages the server process.
var shutdownSignals = []os.Signal{os.Interrupt, syscall.SIGTERM}
