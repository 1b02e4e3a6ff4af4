package cmd

import (
	"os"

	"clip-worker/config"
	server2 "clip-worker/server"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func deadLetters(config *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "dead-letters",
		Short: "list work items parked in the dead-letter queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := server2.SetupLogger(config)
			n, err := server2.ListDeadLetters(ctx, config, os.Stdout)
			if err != nil {
				return err
			}
			zerolog.Ctx(ctx).Info().Int("count", n).Str("driver", config.Queue.Driver).Msg("dead letters listed")
			return nil
		},
	}
}
