//go:build !unix

package commands

import "os"

var statusSignals []os.Signal
