// Package util holds small ambient helpers -- logging -- shared across the
// filesystem core's packages.
package util

import "log"

// Debug is the maximum level that DPrintf will print. Raise it while
// debugging a failing test; production callers leave it at 0.
const Debug = 0

func DPrintf(level int, format string, a ...interface{}) {
	if level <= Debug {
		log.Printf(format, a...)
	}
}
