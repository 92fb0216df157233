package report

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/psantana5/renderbox/pkg/logging"
)

func TestReporter_SummaryContainsPaths(t *testing.T) {
	start := time.Now()
	o := New("run-id", "run-17", 0, StatusCompleted, start, start.Add(3*time.Second),
		"/work/output/output_cache/run-17", "/work/output/run-17")

	var buf bytes.Buffer
	NewReporter(&buf, logging.NewLogger(logging.ERROR, false)).Report(o)

	out := buf.String()
	assert.Contains(t, out, "/work/output/output_cache/run-17")
	assert.Contains(t, out, "/work/output/run-17")
	assert.Contains(t, out, "exit=0")
	assert.Contains(t, out, "OK")
}

func TestReporter_FailedRunShowsExitCode(t *testing.T) {
	start := time.Now()
	o := New("run-id", "run-17", 137, StatusFailed, start, start.Add(time.Second),
		"/work/output/output_cache/run-17", "/work/output/run-17")

	var buf bytes.Buffer
	NewReporter(&buf, logging.NewLogger(logging.ERROR, false)).Report(o)

	assert.Contains(t, buf.String(), "exit=137")
	assert.Contains(t, buf.String(), string(StatusFailed))
}

func TestOutcome_Succeeded(t *testing.T) {
	now := time.Now()
	assert.True(t, New("a", "0", 0, StatusCompleted, now, now, "s", "o").Succeeded())
	assert.False(t, New("a", "0", 1, StatusFailed, now, now, "s", "o").Succeeded())
	assert.False(t, New("a", "0", 130, StatusCancelled, now, now, "s", "o").Succeeded())
}
