package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "edgemesh",
	Short: "Collaborative edge mesh for disaster-response telemetry",
	Long: `edgemesh runs either a mesh node (CRDT replica, hash-chain log, UDP
gossip, HTTP intake) or the fleet gateway that polls, merges, and observes
a mesh of nodes.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Global flags can be added here
}
