package cli

import (
	"fmt"
	"os"
	"strconv"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/millatvt/millat-backend/internal/config"
	"github.com/millatvt/millat-backend/internal/domain"
	"github.com/millatvt/millat-backend/internal/repository"
	"github.com/millatvt/millat-backend/internal/security"
	"github.com/millatvt/millat-backend/internal/service"
)

func newAdminCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{Use: "admin", Short: "Manage accounts directly against the database"}

	var kind, name, email, password string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an admin, teacher or student account",
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				password = os.Getenv("MILLAT_ADMIN_PASSWORD")
			}
			if name == "" || email == "" || len(password) < 8 {
				return fmt.Errorf("--name, --email and a password of at least 8 characters are required")
			}
			return withDB(opts, func(cfg *config.Config, db *gorm.DB) error {
				profile, err := adminService(cfg, db).CreatePrincipal(cmd.Context(), domain.PrincipalKind(kind), service.CreatePrincipalInput{
					Name: name, Email: email, Password: password,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "created %s:%d %s\n", profile.Kind, profile.ID, profile.Email)
				return nil
			})
		},
	}
	create.Flags().StringVar(&kind, "kind", string(domain.KindAdmin), "admin, teacher or student")
	create.Flags().StringVar(&name, "name", "", "display name")
	create.Flags().StringVar(&email, "email", "", "login email")
	create.Flags().StringVar(&password, "password", "", "password (defaults to $MILLAT_ADMIN_PASSWORD)")

	cmd.AddCommand(create, newSetActiveCommand(opts, "ban", false), newSetActiveCommand(opts, "unban", true))
	return cmd
}

func newSetActiveCommand(opts *rootOptions, use string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <teacher|student> <id>",
		Short: "Change whether a teacher or student may sign in",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[1], 10, 64)
			if err != nil || id == 0 {
				return fmt.Errorf("invalid id %q", args[1])
			}
			return withDB(opts, func(cfg *config.Config, db *gorm.DB) error {
				status, closeStatus := statusInvalidator(cfg)
				defer closeStatus()
				svc := service.NewAdminService(repository.NewPrincipalRepository(db), tokenService(cfg, db), status)
				if err := svc.SetPrincipalActive(cmd.Context(), domain.PrincipalKind(args[0]), uint(id), active); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s:%d active=%t\n", args[0], id, active)
				return nil
			})
		},
	}
}

func adminService(cfg *config.Config, db *gorm.DB) *service.AdminService {
	return service.NewAdminService(repository.NewPrincipalRepository(db), tokenService(cfg, db), nil)
}

// statusInvalidator reaches the shared redis status cache so running servers
// see a ban on the next lookup. In-process caches expire on their own after
// PRINCIPAL_CACHE_TTL.
func statusInvalidator(cfg *config.Config) (service.PrincipalInvalidator, func()) {
	if cfg.PrincipalCacheBackend != "redis" || cfg.RedisAddr == "" {
		return nil, func() {}
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return service.NewRedisPrincipalStatusStore(client, service.PrincipalStatusRedisPrefix), func() { _ = client.Close() }
}

func tokenService(cfg *config.Config, db *gorm.DB) *service.TokenService {
	return service.NewTokenService(
		security.NewJWTManager(cfg.JWTIssuer, cfg.JWTAudience, cfg.JWTAccessSecret),
		repository.NewRefreshTokenRepository(db, cfg.DBTxTimeout),
		cfg.RefreshTokenPepper,
		cfg.JWTAccessTTL,
		cfg.RefreshTokenTTL,
		cfg.JWTWebsocketTTL,
	)
}
