package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/psantana5/renderbox/internal/binding"
	"github.com/psantana5/renderbox/internal/dispatch"
	"github.com/psantana5/renderbox/internal/history"
	"github.com/psantana5/renderbox/internal/job"
	"github.com/psantana5/renderbox/internal/launcher"
	"github.com/psantana5/renderbox/internal/metrics"
	"github.com/psantana5/renderbox/internal/report"
	"github.com/psantana5/renderbox/pkg/logging"
)

var (
	runGPUs      string
	runWorkspace string
	runImage     string
	runNoHistory bool
)

var runCmd = &cobra.Command{
	Use:   "run [name]",
	Short: "Launch one render job in the container image",
	Long: `Run dispatches a single render job. The job name keys the output
directories under <workspace>/output; when omitted it defaults to job
slot "0". The workspace (current directory unless overridden) is bound
read-write into the container and the job runs as the invoking user, so
output files are owned by you on the host.

GPU devices come from CUDA_VISIBLE_DEVICES or the --gpus flag. An
explicitly empty selector dispatches without any GPU exposed.

Example:
  renderbox run
  renderbox run scene-042
  renderbox run scene-042 --gpus 1
  CUDA_VISIBLE_DEVICES= renderbox run cpu-only-check`,
	Args: cobra.MaximumNArgs(1),
	RunE: runJob,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runGPUs, "gpus", "", "GPU device selector, overrides CUDA_VISIBLE_DEVICES")
	runCmd.Flags().StringVar(&runWorkspace, "workspace", "", "workspace root bound into the container (default: current directory)")
	runCmd.Flags().StringVar(&runImage, "image", "", "container image tag (default from config)")
	runCmd.Flags().BoolVar(&runNoHistory, "no-history", false, "skip recording this run in the history database")
}

func runJob(cmd *cobra.Command, args []string) error {
	log := newLogger()

	name := ""
	if len(args) > 0 {
		name = args[0]
	}

	workspace := runWorkspace
	if workspace == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("cannot determine working directory: %w", err)
		}
		workspace = cwd
	}
	if abs, err := filepath.Abs(workspace); err == nil {
		workspace = abs
	}

	image := viper.GetString("image")
	if runImage != "" {
		image = runImage
	}

	var env job.Environ = job.OSEnviron{}
	if cmd.Flags().Changed("gpus") {
		env = job.MapEnviron{job.GPUSelectorVar: runGPUs}
	}

	var store history.Store
	if !runNoHistory {
		store = openStore(log)
		defer store.Close()
	}

	l := &launcher.Launcher{
		Workspace: workspace,
		Binding: binding.Config{
			Image:   image,
			Command: viper.GetStringSlice("command"),
		},
		Dispatcher:   dispatch.New(viper.GetString("runtime"), gracePeriod(), log),
		Store:        store,
		Collector:    metrics.NewCollector(),
		Reporter:     report.NewReporter(os.Stdout, log),
		Log:          log,
		TextfilePath: viper.GetString("metrics_textfile"),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	_, err := l.Run(ctx, name, env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if store != nil {
			store.Close()
		}
		os.Exit(exitCodeOf(err))
	}
	return nil
}

// exitCodeOf maps the failure taxonomy onto process exit codes so
// callers can distinguish bad input, bad config, launch failure,
// workload failure and cancellation without parsing output.
func exitCodeOf(err error) int {
	var verr *job.ValidationError
	if errors.As(err, &verr) {
		return dispatch.ExitValidation
	}
	var cerr *binding.ConfigurationError
	if errors.As(err, &cerr) {
		return dispatch.ExitConfiguration
	}
	return dispatch.ExitCodeFor(err)
}

// openStore opens the configured history database, falling back to an
// in-memory store when the path is unusable. A broken history file must
// not stop jobs from running.
func openStore(log *logging.Logger) history.Store {
	path := viper.GetString("history_db")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err == nil {
		if store, err := history.NewSQLiteStore(path); err == nil {
			return store
		} else {
			log.Warn("cannot open history database, using in-memory store", map[string]interface{}{
				"path":  path,
				"error": err.Error(),
			})
		}
	}
	return history.NewMemoryStore()
}
