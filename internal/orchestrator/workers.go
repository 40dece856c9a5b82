package orchestrator

import (
	"runtime"
	"time"
)

// defaultWorkerCount sizes the worker pool to the host's hardware
// concurrency, the collaborator spec.md section 5 names ("one worker pool with
// hardware_concurrency workers").
func defaultWorkerCount() int {
	return runtime.NumCPU()
}

// toSeconds converts a configured second count to a time.Duration.
func toSeconds(n uint32) time.Duration {
	return time.Duration(n) * time.Second
}
