package cmd

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/psantana5/renderbox/internal/api"
	"github.com/psantana5/renderbox/internal/binding"
	"github.com/psantana5/renderbox/internal/dispatch"
	"github.com/psantana5/renderbox/internal/job"
	"github.com/psantana5/renderbox/internal/launcher"
	"github.com/psantana5/renderbox/internal/metrics"
	"github.com/psantana5/renderbox/internal/report"
	"github.com/psantana5/renderbox/pkg/shutdown"
)

var (
	serveListen    string
	serveWorkspace string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP job submission API",
	Long: `Serve exposes job submission over HTTP. Submitted jobs run one at a
time through the same dispatch pipeline as "renderbox run"; the queue
only orders them. Endpoints: POST /jobs, GET /jobs, GET /jobs/{id},
GET /runs, GET /health, GET /metrics.

Protect the endpoint with api_key in the config; the listener binds to
loopback unless configured otherwise.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveListen, "listen", "", "listen address (default from config)")
	serveCmd.Flags().StringVar(&serveWorkspace, "workspace", "", "workspace root for all submitted jobs (default: current directory)")
}

// serveRunner adapts the launcher to the API's Runner interface
type serveRunner struct {
	l *launcher.Launcher
}

func (r *serveRunner) Run(ctx context.Context, name, gpuSelector string) (*report.Outcome, error) {
	return r.l.RunWithSelector(ctx, name, gpuSelector)
}

func runServe(cmd *cobra.Command, args []string) error {
	log := newLogger()

	workspace := serveWorkspace
	if workspace == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return err
		}
		workspace = cwd
	}
	if abs, err := filepath.Abs(workspace); err == nil {
		workspace = abs
	}

	store := openStore(log)
	collector := metrics.NewCollector()

	l := &launcher.Launcher{
		Workspace: workspace,
		Binding: binding.Config{
			Image:   viper.GetString("image"),
			Command: viper.GetStringSlice("command"),
		},
		Dispatcher:   dispatch.New(viper.GetString("runtime"), gracePeriod(), log),
		Store:        store,
		Collector:    collector,
		Reporter:     report.NewReporter(os.Stdout, log),
		Log:          log,
		TextfilePath: viper.GetString("metrics_textfile"),
	}

	defaultGPUs := job.DefaultGPUSelector
	if v, ok := (job.OSEnviron{}).Lookup(job.GPUSelectorVar); ok {
		defaultGPUs = v
	}

	server := api.NewServer(&serveRunner{l: l}, store, collector, api.Config{
		APIKey:      viper.GetString("api_key"),
		DefaultGPUs: defaultGPUs,
	}, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	server.Start(ctx)

	listen := serveListen
	if listen == "" {
		listen = viper.GetString("listen")
	}

	httpServer := &http.Server{
		Addr:         listen,
		Handler:      server.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	mgr := shutdown.New(gracePeriod()+5*time.Second, log)
	mgr.Register(func(ctx context.Context) error { return store.Close() })
	mgr.Register(func(ctx context.Context) error {
		cancel() // running job gets the dispatcher's cancellation path
		// Wait for the worker to finish its bookkeeping before the next
		// step closes the store, or the final run is never recorded.
		select {
		case <-server.Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	mgr.Register(func(ctx context.Context) error { return httpServer.Shutdown(ctx) })

	errChan := make(chan error, 1)
	go func() {
		log.Info("submission API listening", map[string]interface{}{"addr": listen, "workspace": workspace})
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	go func() {
		if err := <-errChan; err != nil {
			log.Fatal("HTTP server failed", map[string]interface{}{"error": err.Error()})
		}
	}()

	mgr.Wait()
	return nil
}
