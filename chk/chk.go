// Package chk provides terse check-and-log helpers for the common
// `if chk.E(err) { return }` idiom used across the codebase.
package chk

import (
	"runtime"
	"strconv"

	"orly.dev/noxy/log"
)

func caller(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return ""
	}
	return file + ":" + strconv.Itoa(line)
}

// E logs err at error level with the caller location and reports whether it
// was non-nil.
func E(err error) bool {
	if err == nil {
		return false
	}
	log.E.F("%s: %v", caller(2), err)
	return true
}

// T logs err at trace level (used on errors that are expected in normal
// operation, such as a best-effort bech32/hex fallback) and reports whether
// it was non-nil.
func T(err error) bool {
	if err == nil {
		return false
	}
	log.T.F("%s: %v", caller(2), err)
	return true
}

// D logs err at debug level and reports whether it was non-nil.
func D(err error) bool {
	if err == nil {
		return false
	}
	log.D.F("%s: %v", caller(2), err)
	return true
}
