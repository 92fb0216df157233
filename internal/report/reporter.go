package report

import (
	"fmt"
	"io"

	"github.com/psantana5/renderbox/pkg/logging"
)

// Reporter writes human-readable run summaries. Reporting faults are
// logged and swallowed: a job that ran must never be failed by the
// summary printer.
type Reporter struct {
	out io.Writer
	log *logging.Logger
}

// NewReporter creates a reporter writing to out
func NewReporter(out io.Writer, log *logging.Logger) *Reporter {
	return &Reporter{out: out, log: log}
}

// Report prints the outcome summary. This is what ops grep for at 03:00.
func (r *Reporter) Report(o *Outcome) {
	status := "OK"
	if !o.Succeeded() {
		status = string(o.Status)
	}

	_, err := fmt.Fprintf(r.out,
		"job %s: %s (exit=%d, runtime=%.1fs)\n  output:  %s\n  scratch: %s\n",
		o.Name, status, o.ExitCode, o.Duration.Seconds(), o.OutputDir, o.ScratchDir)
	if err != nil {
		r.log.Error("failed to write run summary", map[string]interface{}{
			"run_id": o.RunID,
			"error":  err.Error(),
		})
	}
}
