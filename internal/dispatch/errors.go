package dispatch

import (
	"errors"
	"fmt"
)

// Process exit codes for the dispatcher itself. Launch and cancellation
// codes follow the container-runtime convention so callers can tell
// "the job failed" apart from "the job never ran".
const (
	ExitSuccess       = 0
	ExitValidation    = 2
	ExitConfiguration = 3
	ExitLaunch        = 125
	ExitCancelled     = 130
)

// ErrCancelled is returned when the caller aborts a running job. The
// workload was signalled and has terminated by the time this surfaces.
var ErrCancelled = errors.New("job cancelled by caller")

// LaunchError means the isolated runtime could not start the job at all:
// runtime binary missing, image unavailable, device not found.
type LaunchError struct {
	Reason string
	Err    error
}

func (e *LaunchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("launch failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("launch failed: %s", e.Reason)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// ExecutionError means the workload ran and exited non-zero
type ExecutionError struct {
	Code int
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("job exited with code %d", e.Code)
}

// ExitCodeFor maps a dispatch error to the dispatcher's process exit
// code: the workload's own code for execution failures, reserved codes
// for everything else.
func ExitCodeFor(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var execErr *ExecutionError
	if errors.As(err, &execErr) {
		return execErr.Code
	}
	var launchErr *LaunchError
	if errors.As(err, &launchErr) {
		return ExitLaunch
	}
	if errors.Is(err, ErrCancelled) {
		return ExitCancelled
	}
	return ExitLaunch
}
