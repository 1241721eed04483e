package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/millatvt/millat-backend/internal/config"
)

func newTokensCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{Use: "tokens", Short: "Refresh token maintenance"}
	cmd.AddCommand(&cobra.Command{
		Use:   "cleanup",
		Short: "Delete expired refresh tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(opts, func(cfg *config.Config, db *gorm.DB) error {
				n, err := tokenService(cfg, db).CleanupExpired(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %d expired refresh token(s)\n", n)
				return nil
			})
		},
	})
	return cmd
}
