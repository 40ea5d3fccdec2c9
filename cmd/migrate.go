package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/otp-board/internal/observability"
	"github.com/xkilldash9x/otp-board/internal/store"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "migrate (up|down)",
		Short:     "Applies or rolls back the board database schema",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfig(cmd.Context())
			if err != nil {
				return err
			}
			if cfg.Database.URL == "" {
				return fmt.Errorf("database.url is required (OTPBOARD_DATABASE_URL or DATABASE_URL)")
			}
			if err := store.Migrate(cfg.Database.URL, args[0]); err != nil {
				return err
			}
			observability.GetLogger().Info("Migrations applied", zap.String("direction", args[0]))
			return nil
		},
	}
}
