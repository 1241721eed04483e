package cli

import (
	"github.com/spf13/cobra"

	"github.com/millatvt/millat-backend/internal/config"
)

type rootOptions struct {
	envFile string
}

func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "millat",
		Short:         "Millat Vocational Training backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "optional dotenv file read before the environment")
	cmd.AddCommand(
		newServeCommand(opts),
		newMigrateCommand(opts),
		newAdminCommand(opts),
		newTokensCommand(opts),
		newWatchCommand(),
		newLoadgenCommand(),
	)
	return cmd
}

func (o *rootOptions) loadConfig() (*config.Config, error) {
	return config.Load(o.envFile)
}
