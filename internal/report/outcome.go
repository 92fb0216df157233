package report

import (
	"time"
)

// Status classifies how a job run ended
type Status string

const (
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
	StatusCancelled    Status = "cancelled"
	StatusLaunchFailed Status = "launch_failed"
)

// Outcome is immutable job-level truth. Set once, never change.
type Outcome struct {
	// Identity
	RunID string `json:"run_id"`
	Name  string `json:"name"`

	// Timing
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration_ns"`

	// Result
	ExitCode int    `json:"exit_code"`
	Status   Status `json:"status"`

	// Output locations, echoed from the originating request
	ScratchDir string `json:"scratch_dir"`
	OutputDir  string `json:"output_dir"`
}

// New creates an immutable outcome
func New(runID, name string, exitCode int, status Status, start, end time.Time, scratchDir, outputDir string) *Outcome {
	return &Outcome{
		RunID:      runID,
		Name:       name,
		ExitCode:   exitCode,
		Status:     status,
		StartTime:  start,
		EndTime:    end,
		Duration:   end.Sub(start),
		ScratchDir: scratchDir,
		OutputDir:  outputDir,
	}
}

// Succeeded reports whether the contained workload exited zero
func (o *Outcome) Succeeded() bool {
	return o.Status == StatusCompleted && o.ExitCode == 0
}
