package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/psantana5/renderbox/internal/hardware"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check host readiness for dispatching jobs",
	Long: `Doctor probes the host: container runtime availability, visible GPU
devices, CPU and memory. Use it before the first run or when a launch
keeps failing.`,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, args []string) error {
	probe := hardware.Detect(viper.GetString("runtime"))

	if IsJSONOutput() {
		output, err := json.MarshalIndent(probe, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(output))
		return nil
	}

	runtimeStatus := "MISSING"
	if probe.RuntimeFound {
		runtimeStatus = probe.RuntimePath
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Check", "Result")
	table.Append("OS / Arch", fmt.Sprintf("%s/%s", probe.OS, probe.Arch))
	table.Append("CPU", fmt.Sprintf("%s (%d threads)", probe.CPUModel, probe.CPUThreads))
	table.Append("RAM", fmt.Sprintf("%.1f GB", float64(probe.RAMTotalBytes)/(1024*1024*1024)))
	table.Append("Runtime", runtimeStatus)
	if len(probe.GPUs) == 0 {
		table.Append("GPUs", "none detected")
	}
	for _, gpu := range probe.GPUs {
		table.Append(fmt.Sprintf("GPU %d", gpu.Index), gpu.Name)
	}
	table.Render()

	if !probe.RuntimeFound {
		fmt.Fprintf(os.Stderr, "\nWarning: container runtime %q not found on PATH; runs will fail to launch\n",
			viper.GetString("runtime"))
	}
	if len(probe.GPUs) == 0 {
		fmt.Fprintln(os.Stderr, "Warning: no GPU detected; jobs will run without device acceleration")
	}
	return nil
}
