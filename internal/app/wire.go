//go:build wireinject
// +build wireinject

package app

import (
	"context"

	"github.com/google/wire"

	"github.com/millatvt/millat-backend/internal/config"
	"github.com/millatvt/millat-backend/internal/realtime"
	"github.com/millatvt/millat-backend/internal/repository"
	"github.com/millatvt/millat-backend/internal/service"
)

var infraSet = wire.NewSet(
	provideLogger,
	provideObservability,
	provideDB,
	provideRedis,
	provideJWTManager,
	provideReadiness,
)

var repositorySet = wire.NewSet(
	repository.NewPrincipalRepository,
	provideRefreshTokenRepository,
	provideConversationRepository,
)

var serviceSet = wire.NewSet(
	provideTokenService,
	providePrincipalStatusStore,
	providePrincipalStatusChecker,
	wire.Bind(new(service.PrincipalInvalidator), new(*service.PrincipalStatusChecker)),
	service.NewAuthService,
	service.NewAdminService,
	service.NewConversationService,
	wire.Bind(new(service.RealtimeNotifier), new(*realtime.Gateway)),
)

var realtimeSet = wire.NewSet(
	providePublisher,
	provideGateway,
)

var httpSet = wire.NewSet(
	provideAuthHandler,
	provideConversationHandler,
	provideAdminHandler,
	provideRouterDependencies,
	provideHTTPServer,
)

func InitializeApp(ctx context.Context, cfg *config.Config) (*App, error) {
	wire.Build(infraSet, repositorySet, serviceSet, realtimeSet, httpSet, New)
	return nil, nil
}
