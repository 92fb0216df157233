package dispatch

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/psantana5/renderbox/internal/binding"
	"github.com/psantana5/renderbox/internal/job"
	"github.com/psantana5/renderbox/internal/report"
	"github.com/psantana5/renderbox/pkg/logging"
)

// Runtime exit codes that mean "the container never ran": daemon/run
// failure, command not invocable, command not found.
func isLaunchCode(code int) bool {
	return code == 125 || code == 126 || code == 127
}

// Dispatcher launches one job synchronously in the container runtime,
// attached to the caller's stdio so the workload behaves as a foreground
// process with live output.
type Dispatcher struct {
	// Runtime is the container runtime binary, normally "docker"
	Runtime string

	// GracePeriod bounds how long a cancelled workload may take to shut
	// down before it is force-killed
	GracePeriod time.Duration

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	Log *logging.Logger
}

// New creates a dispatcher with stdio attached to the current process
func New(runtime string, gracePeriod time.Duration, log *logging.Logger) *Dispatcher {
	return &Dispatcher{
		Runtime:     runtime,
		GracePeriod: gracePeriod,
		Stdin:       os.Stdin,
		Stdout:      os.Stdout,
		Stderr:      os.Stderr,
		Log:         log,
	}
}

// runtimeArgs translates a binding into the runtime command line.
// The job name never reaches a shell: every value is a discrete argv
// element handed to the runtime binary directly.
func runtimeArgs(b *binding.Binding) []string {
	args := []string{
		"run", "--rm", "--interactive",
		"--user", fmt.Sprintf("%d:%d", b.UID, b.GID),
		"--workdir", binding.ContainerWorkspace,
	}
	for _, m := range b.Mounts {
		args = append(args, "--volume", fmt.Sprintf("%s:%s", m.HostPath, m.ContainerPath))
	}
	if b.DeviceVisibility != "" {
		args = append(args, "--gpus", "device="+b.DeviceVisibility)
	}

	keys := make([]string, 0, len(b.Env))
	for k := range b.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "--env", fmt.Sprintf("%s=%s", k, b.Env[k]))
	}

	args = append(args, b.Image)
	args = append(args, b.ContainerArgs...)
	return args
}

// Dispatch runs the bound job and blocks until it terminates.
//
// On context cancellation the workload is sent SIGTERM, given
// GracePeriod to exit, then force-killed; Dispatch returns ErrCancelled
// either way. A workload that ran and exited non-zero yields an
// ExecutionError carrying its exit code. Both paths still return the
// outcome so the caller can report and record it.
func (d *Dispatcher) Dispatch(ctx context.Context, b *binding.Binding, req *job.Request) (*report.Outcome, error) {
	runID := uuid.New().String()
	start := time.Now()

	cmd := exec.Command(d.Runtime, runtimeArgs(b)...)
	cmd.Stdin = d.Stdin
	cmd.Stdout = d.Stdout
	cmd.Stderr = d.Stderr

	// Own process group so a forced kill cannot take the dispatcher down
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	d.Log.Info("launching job", map[string]interface{}{
		"run_id": runID,
		"job":    req.Name,
		"image":  b.Image,
		"gpus":   b.DeviceVisibility,
	})

	if err := cmd.Start(); err != nil {
		return nil, &LaunchError{Reason: fmt.Sprintf("cannot start runtime %q", d.Runtime), Err: err}
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-ctx.Done():
		return d.cancel(cmd, done, runID, req, start)
	case waitErr := <-done:
		return d.finish(waitErr, runID, req, start)
	}
}

// cancel forwards termination to the workload and waits, bounded, for it
// to exit. Orphaned render processes hold GPU device handles, so the
// grace period always ends in SIGKILL on the whole process group.
func (d *Dispatcher) cancel(cmd *exec.Cmd, done chan error, runID string, req *job.Request, start time.Time) (*report.Outcome, error) {
	d.Log.Warn("cancellation requested, signalling workload", map[string]interface{}{
		"run_id": runID,
		"grace":  d.GracePeriod.String(),
	})

	// The runtime proxies SIGTERM into the container
	_ = cmd.Process.Signal(syscall.SIGTERM)

	select {
	case <-done:
	case <-time.After(d.GracePeriod):
		d.Log.Warn("grace period expired, force-killing", map[string]interface{}{"run_id": runID})
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		<-done
	}

	end := time.Now()
	outcome := report.New(runID, req.Name, ExitCancelled, report.StatusCancelled,
		start, end, req.ScratchDir, req.OutputDir)
	return outcome, ErrCancelled
}

func (d *Dispatcher) finish(waitErr error, runID string, req *job.Request, start time.Time) (*report.Outcome, error) {
	end := time.Now()

	exitCode := 0
	if waitErr != nil {
		exitErr, ok := waitErr.(*exec.ExitError)
		if !ok {
			return nil, &LaunchError{Reason: "runtime wait failed", Err: waitErr}
		}
		exitCode = exitErr.ExitCode()
	}

	if isLaunchCode(exitCode) {
		outcome := report.New(runID, req.Name, exitCode, report.StatusLaunchFailed,
			start, end, req.ScratchDir, req.OutputDir)
		return outcome, &LaunchError{Reason: fmt.Sprintf("runtime exited with code %d before running the job", exitCode)}
	}

	if exitCode != 0 {
		outcome := report.New(runID, req.Name, exitCode, report.StatusFailed,
			start, end, req.ScratchDir, req.OutputDir)
		return outcome, &ExecutionError{Code: exitCode}
	}

	d.Log.Info("job completed", map[string]interface{}{
		"run_id":  runID,
		"job":     req.Name,
		"runtime": end.Sub(start).String(),
	})

	outcome := report.New(runID, req.Name, 0, report.StatusCompleted,
		start, end, req.ScratchDir, req.OutputDir)
	return outcome, nil
}
