package medication

import (
	"github.com/MMatviiuk/medtrack/internal/medication/repository"
	"github.com/MMatviiuk/medtrack/internal/medication/service"
	"go.uber.org/fx"
)

var Module = fx.Module("medication.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
