//go:build windows

package mcp

import "os"

// shutdownSignals stop a stdio session. Windows has no SIGTERM.
var shutdownSignals = []os.Signal{os.Interrupt}
