package cli

import (
	"context"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/millatvt/millat-backend/internal/tools/common"
	"github.com/millatvt/millat-backend/internal/tools/loadgen"
	"github.com/millatvt/millat-backend/internal/tools/ui"
)

func newLoadgenCommand() *cobra.Command {
	cfg := loadgen.Config{}
	var ci bool
	cmd := &cobra.Command{
		Use:   "loadgen",
		Short: "Generate health, login and refresh traffic against a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			fn := func(ctx context.Context) ([]string, error) {
				res, err := loadgen.Run(ctx, cfg)
				if err != nil {
					return nil, err
				}
				return res.Details(), nil
			}
			var (
				details []string
				err     error
			)
			if ci {
				details, err = fn(cmd.Context())
				common.PrintCIResult(err == nil, "millat loadgen", details, err)
				if err != nil {
					os.Exit(4)
				}
				return nil
			}
			_, err = ui.Run("millat loadgen "+cfg.Profile, fn)
			return err
		},
	}
	cmd.Flags().StringVar(&cfg.BaseURL, "base-url", "http://localhost:8080", "API base URL")
	cmd.Flags().StringVar(&cfg.Profile, "profile", "mixed", "health, auth or mixed")
	cmd.Flags().DurationVar(&cfg.Duration, "duration", 10*time.Second, "how long to run")
	cmd.Flags().Float64Var(&cfg.RPS, "rps", 20, "aggregate requests per second")
	cmd.Flags().IntVar(&cfg.Concurrency, "concurrency", 4, "number of workers")
	cmd.Flags().Uint64Var(&cfg.Seed, "seed", 42, "seed for the mixed profile")
	cmd.Flags().StringVar(&cfg.Kind, "kind", "student", "account kind used by auth traffic")
	cmd.Flags().StringVar(&cfg.Email, "email", "", "login email for auth traffic")
	cmd.Flags().StringVar(&cfg.Password, "password", "", "login password for auth traffic")
	cmd.Flags().BoolVar(&ci, "ci", false, "non-interactive machine-readable output")
	return cmd
}
