package lifecycle

import "sync/atomic"

var (
	shuttingDown atomic.Bool
	mode         atomic.Value
)

// SetShuttingDown sets the shutdown flag. Call when SIGTERM/SIGINT received.
// Health handler returns 503 with status shutting-down while true.
func SetShuttingDown(v bool) {
	shuttingDown.Store(v)
}

// IsShuttingDown returns true if the process is draining and the LEDs are being cleared.
func IsShuttingDown() bool {
	return shuttingDown.Load()
}

// SetMode records the run mode reported by the health endpoint.
func SetMode(m string) {
	mode.Store(m)
}

// Mode returns the run mode, or "" before SetMode is called.
func Mode() string {
	m, _ := mode.Load().(string)
	return m
}
