package util

import (
	"runtime/debug"

	"github.com/portcullis/portcullis/internal/logging"
)

// SafeGo launches fn on a new goroutine with panic recovery, so a panic in
// a background task is logged with its stack instead of killing the
// process.
func SafeGo(fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logging.Error("goroutine panic recovered",
					"panic", r,
					"stack", string(debug.Stack()),
				)
			}
		}()
		fn()
	}()
}

// SafeGoWithName is SafeGo with a name attached to the recovery log line.
//
//	util.SafeGoWithName("connection-handler", func() { ... })
func SafeGoWithName(name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logging.Error("goroutine panic recovered",
					"goroutine", name,
					"panic", r,
					"stack", string(debug.Stack()),
				)
			}
		}()
		fn()
	}()
}
