package daystatus

import (
	"context"

	"github.com/MMatviiuk/medtrack/internal/daystatus/domain"
	"github.com/MMatviiuk/medtrack/internal/daystatus/repository"
	"github.com/MMatviiuk/medtrack/internal/daystatus/service"
	"go.uber.org/fx"
)

var Module = fx.Module("daystatus.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
	fx.Invoke(func(lc fx.Lifecycle, svc domain.Service) {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return svc.Drain(ctx)
			},
		})
	}),
)
