package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/psantana5/renderbox/pkg/logging"
)

var (
	cfgFile      string
	outputFormat string
	logLevel     string
	logJSON      bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "renderbox",
	Short: "Containerized render-job dispatcher",
	Long: `renderbox launches GPU-accelerated render jobs inside a pre-built
container image. It binds the workspace into the container, maps the
invoking user's identity, exposes the selected GPU devices, and passes
per-job scratch and output directories to the workload.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.renderbox/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "output", "table", "output format: table or json")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "emit logs as JSON")
}

// initConfig reads in config file and ENV variables if set
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error finding home directory: %v\n", err)
			os.Exit(1)
		}
		viper.AddConfigPath(filepath.Join(home, ".renderbox"))
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("renderbox")
	viper.AutomaticEnv()

	viper.SetDefault("image", "renderbox/worker:latest")
	viper.SetDefault("command", []string{"python3", "render.py"})
	viper.SetDefault("runtime", "docker")
	viper.SetDefault("grace_period", "10s")
	viper.SetDefault("history_db", defaultHistoryPath())
	viper.SetDefault("metrics_textfile", "")
	viper.SetDefault("listen", "127.0.0.1:8090")
	viper.SetDefault("api_key", "")

	// Missing config file is fine, defaults apply
	_ = viper.ReadInConfig()
}

func defaultHistoryPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "renderbox-history.db"
	}
	return filepath.Join(home, ".renderbox", "history.db")
}

// IsJSONOutput returns true if JSON output is requested
func IsJSONOutput() bool {
	return outputFormat == "json"
}

func newLogger() *logging.Logger {
	return logging.NewLogger(logging.ParseLevel(logLevel), logJSON)
}

func gracePeriod() time.Duration {
	d := viper.GetDuration("grace_period")
	if d <= 0 {
		d = 10 * time.Second
	}
	return d
}
