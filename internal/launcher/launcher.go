package launcher

import (
	"context"

	"github.com/psantana5/renderbox/internal/binding"
	"github.com/psantana5/renderbox/internal/dispatch"
	"github.com/psantana5/renderbox/internal/history"
	"github.com/psantana5/renderbox/internal/job"
	"github.com/psantana5/renderbox/internal/metrics"
	"github.com/psantana5/renderbox/internal/report"
	"github.com/psantana5/renderbox/pkg/logging"
)

// Launcher wires the full pipeline for one job:
// resolve -> bind -> dispatch -> record -> report.
type Launcher struct {
	Workspace  string
	Binding    binding.Config
	Dispatcher *dispatch.Dispatcher
	Store      history.Store
	Collector  *metrics.Collector
	Reporter   *report.Reporter
	Log        *logging.Logger

	// TextfilePath, when set, receives a metrics snapshot after every run
	TextfilePath string
}

// Run executes one job to completion. The returned outcome is non-nil
// whenever the job got as far as launching, even if it then failed or
// was cancelled; the error carries the failure classification.
//
// History, metrics and summary output are best effort: a job that ran
// is never failed retroactively because bookkeeping did.
func (l *Launcher) Run(ctx context.Context, name string, env job.Environ) (*report.Outcome, error) {
	req, err := job.Resolve(name, env, l.Workspace)
	if err != nil {
		return nil, err
	}

	b, err := binding.Bind(req, l.Binding)
	if err != nil {
		return nil, err
	}

	outcome, dispatchErr := l.Dispatcher.Dispatch(ctx, b, req)
	if outcome == nil {
		return nil, dispatchErr
	}

	if l.Store != nil {
		if err := l.Store.RecordRun(history.FromOutcome(outcome, b.Image, req.GPUSelector)); err != nil {
			l.Log.Error("failed to record run history", map[string]interface{}{
				"run_id": outcome.RunID,
				"error":  err.Error(),
			})
		}
	}

	if l.Collector != nil {
		l.Collector.RecordRun(outcome, req.GPUSelector)
		if l.TextfilePath != "" {
			if err := l.Collector.WriteTextfile(l.TextfilePath); err != nil {
				l.Log.Warn("failed to write metrics textfile", map[string]interface{}{
					"path":  l.TextfilePath,
					"error": err.Error(),
				})
			}
		}
	}

	if l.Reporter != nil {
		l.Reporter.Report(outcome)
	}

	return outcome, dispatchErr
}

// RunWithSelector runs a job with an explicit GPU selector instead of
// the ambient host environment. This is the serve-mode entrypoint.
func (l *Launcher) RunWithSelector(ctx context.Context, name, gpuSelector string) (*report.Outcome, error) {
	return l.Run(ctx, name, job.MapEnviron{job.GPUSelectorVar: gpuSelector})
}
