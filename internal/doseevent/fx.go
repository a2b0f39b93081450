package doseevent

import (
	"github.com/MMatviiuk/medtrack/internal/doseevent/repository"
	"github.com/MMatviiuk/medtrack/internal/doseevent/service"
	"go.uber.org/fx"
)

var Module = fx.Module("doseevent.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
