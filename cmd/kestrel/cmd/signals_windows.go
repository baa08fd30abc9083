//go:build windows

package cmd

import "os"

// gracefulSignals returns the OS signals to capture for graceful shutdown.
// Windows delivers Ctrl+C as os.Interrupt only.
func gracefulSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}
