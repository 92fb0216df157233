package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var jobsLimit int

// jobsCmd represents the jobs command
var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect recorded runs",
	Long:  `Commands for listing and inspecting runs recorded in the history database.`,
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent runs",
	Long:  `List the most recent runs, newest first.`,
	RunE:  runJobsList,
}

var jobsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show one recorded run",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsShow,
}

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsShowCmd)

	jobsListCmd.Flags().IntVar(&jobsLimit, "limit", 20, "maximum number of runs to list")
}

func runJobsList(cmd *cobra.Command, args []string) error {
	log := newLogger()
	store := openStore(log)
	defer store.Close()

	runs, err := store.ListRuns(jobsLimit)
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}

	if IsJSONOutput() {
		output, err := json.MarshalIndent(runs, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(output))
		return nil
	}

	if len(runs) == 0 {
		fmt.Println("No recorded runs.")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Run ID", "Job", "Status", "Exit", "GPUs", "Started", "Duration")
	for _, run := range runs {
		shortID := run.RunID
		if len(shortID) > 8 {
			shortID = shortID[:8]
		}
		table.Append(
			shortID,
			run.Name,
			string(run.Status),
			fmt.Sprintf("%d", run.ExitCode),
			run.GPUSelector,
			run.StartTime.Format(time.RFC3339),
			run.EndTime.Sub(run.StartTime).Round(time.Second).String(),
		)
	}
	table.Render()
	return nil
}

func runJobsShow(cmd *cobra.Command, args []string) error {
	log := newLogger()
	store := openStore(log)
	defer store.Close()

	run, err := store.GetRun(args[0])
	if err != nil {
		return fmt.Errorf("failed to load run %s: %w", args[0], err)
	}

	if IsJSONOutput() {
		output, err := json.MarshalIndent(run, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(output))
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Field", "Value")
	table.Append("Run ID", run.RunID)
	table.Append("Job", run.Name)
	table.Append("Image", run.Image)
	table.Append("GPUs", run.GPUSelector)
	table.Append("Status", string(run.Status))
	table.Append("Exit Code", fmt.Sprintf("%d", run.ExitCode))
	table.Append("Output", run.OutputDir)
	table.Append("Scratch", run.ScratchDir)
	table.Append("Started", run.StartTime.Format(time.RFC3339))
	table.Append("Finished", run.EndTime.Format(time.RFC3339))
	table.Render()
	return nil
}
