package cmd

import (
	"clip-worker/config"

	"github.com/spf13/cobra"
)

func Root(config *config.Config) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "clip-worker",
		Short:         "video clip pipeline service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(server(config))
	rootCmd.AddCommand(api(config))
	rootCmd.AddCommand(workerCmd(config))
	rootCmd.AddCommand(migrate(config))
	rootCmd.AddCommand(watch(config))
	rootCmd.AddCommand(deadLetters(config))
	return rootCmd
}
