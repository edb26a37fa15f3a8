// Package logging provides leveled logging utilities for the aetherlink
// front-end, built on the standard library "log" package.
package logging

import "log"

// DebugEnabled controls whether Debug() produces output.
// Set via the -d flag.
var DebugEnabled bool

// Debug logs a message only when DebugEnabled is true.
func Debug(format string, args ...any) {
	if DebugEnabled {
		log.Printf("DEBUG: "+format, args...)
	}
}

// Info logs an informational message unconditionally.
func Info(format string, args ...any) {
	log.Printf("INFO: "+format, args...)
}

// Warn logs a warning. Used for conditions the spec documents as
// non-fatal: bad secrets, unknown session ids, dropped queue writes.
func Warn(format string, args ...any) {
	log.Printf("WARN: "+format, args...)
}

// Error logs an error that does not, by itself, stop the process.
func Error(format string, args ...any) {
	log.Printf("ERROR: "+format, args...)
}
