package cmd

import (
	"clip-worker/config"
	"clip-worker/migrations"
	server2 "clip-worker/server"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func migrate(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := server2.SetupLogger(cfg)
			db, err := config.NewDB(ctx, cfg.Postgres)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := migrations.Run(db); err != nil {
				return err
			}
			zerolog.Ctx(ctx).Info().Msg("migrations applied")
			return nil
		},
	}
}
