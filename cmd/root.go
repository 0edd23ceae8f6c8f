// Package cmd provides the command-line interface for cachescope.
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command. Running it simulates a trace.
var rootCmd = &cobra.Command{
	Use:   "cachescope [trace file]",
	Short: "cachescope replays a memory-access trace through a simulated cache hierarchy.",
	Long: `cachescope replays a memory-access trace through a simulated cache ` +
		`hierarchy and reports hits, misses, 3C classification, coherence ` +
		`traffic, false sharing, TLB behavior, prefetching, and estimated ` +
		`cycles as JSON. Reads the trace from the named file, or from stdin ` +
		`when no file (or -) is given.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSimulation,

	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags
// appropriately.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
