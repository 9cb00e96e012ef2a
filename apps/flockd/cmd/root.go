package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "flockd",
	Short: "flock coordinator daemon",
	Long:  `flockd is the federated-learning coordinator: it stores jobs, launches FL server processes, starts remote clients, and tracks run completion.`,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
