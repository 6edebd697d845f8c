//go:build !linux

package logger

import "io"

// IsTerminal always reports false off linux; output stays uncoloured.
func IsTerminal(io.Writer) bool { return false }
