package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"clip-worker/config"
	"clip-worker/poller"
	server2 "clip-worker/server"

	"github.com/spf13/cobra"
)

func watch(config *config.Config) *cobra.Command {
	var (
		apiURL    string
		untilIdle bool
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "poll job status and print progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(server2.SetupLogger(config), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			policy := poller.Policy{Active: config.Poller.Active, Idle: config.Poller.Idle}
			err := poller.Watch(ctx, poller.NewClient(apiURL, 10*time.Second), policy, os.Stdout, untilIdle)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVar(&apiURL, "url", config.Poller.APIURL, "base URL of the jobs API")
	cmd.Flags().BoolVar(&untilIdle, "until-idle", false, "exit once every job is finished")
	return cmd
}
