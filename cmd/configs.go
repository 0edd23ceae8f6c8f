package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sarchlab/cachescope/profiles"
)

// configsCmd lists the built-in hardware configurations.
var configsCmd = &cobra.Command{
	Use:   "configs",
	Short: "List the built-in hardware configurations.",
	Run: func(cmd *cobra.Command, args []string) {
		for _, name := range profiles.Names() {
			p, err := profiles.Lookup(name)
			if err != nil {
				continue
			}

			l3 := "no L3"
			if p.HasL3() {
				l3 = fmt.Sprintf("L3 %s", sizeString(p.L3.SizeBytes))
			}

			fmt.Printf("%-12s L1d %s/%dw, L2 %s/%dw, %s\n",
				name,
				sizeString(p.L1D.SizeBytes), p.L1D.Assoc,
				sizeString(p.L2.SizeBytes), p.L2.Assoc,
				l3)
		}
	},
}

func init() {
	rootCmd.AddCommand(configsCmd)
}

func sizeString(bytes int) string {
	switch {
	case bytes >= 1024*1024:
		return fmt.Sprintf("%dMB", bytes/(1024*1024))
	case bytes >= 1024:
		return fmt.Sprintf("%dKB", bytes/1024)
	default:
		return fmt.Sprintf("%dB", bytes)
	}
}
