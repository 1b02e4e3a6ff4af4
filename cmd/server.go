package cmd

import (
	"clip-worker/config"
	server2 "clip-worker/server"

	"github.com/spf13/cobra"
)

func server(config *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "server",
		Short: "start http server and worker pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			return server2.Run(config, server2.ModeAll)
		},
	}
}

func api(config *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "api",
		Short: "start http server only",
		RunE: func(cmd *cobra.Command, args []string) error {
			return server2.Run(config, server2.ModeAPI)
		},
	}
}

func workerCmd(config *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "start worker pool only",
		RunE: func(cmd *cobra.Command, args []string) error {
			return server2.Run(config, server2.ModeWorker)
		},
	}
}
