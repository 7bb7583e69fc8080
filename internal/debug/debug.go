// Package debug gates verbose diagnostics behind GRAFTON_DEBUG.
package debug

import (
	"fmt"
	"os"
)

var enabled = os.Getenv("GRAFTON_DEBUG") != ""

func Enabled() bool {
	return enabled
}

func Logf(format string, args ...interface{}) {
	if enabled {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}
