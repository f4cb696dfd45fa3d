//go:build unix

package commands

import (
	"os"
	"syscall"
)

// statusSignals request a status table without stopping the scheduler.
var statusSignals = []os.Signal{syscall.SIGUSR1}
