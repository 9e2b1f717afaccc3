package app

import (
	"context"
	"os"
	"runtime"
	"time"

	"orly.dev/noxy/log"
)

// MonitorResources periodically logs goroutine and cgo-call counts, for
// operators diagnosing a stuck pool or leaked relay connections.
func MonitorResources(c context.Context) {
	tick := time.NewTicker(15 * time.Minute)
	defer tick.Stop()
	log.I.Ln("running process", os.Args[0], os.Getpid())
	for {
		select {
		case <-c.Done():
			log.D.Ln("shutting down resource monitor")
			return
		case <-tick.C:
			log.D.Ln(
				"# goroutines", runtime.NumGoroutine(),
				"# cgo calls", runtime.NumCgoCall(),
			)
		}
	}
}
