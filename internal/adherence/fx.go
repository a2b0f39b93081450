package adherence

import (
	"github.com/MMatviiuk/medtrack/internal/adherence/service"
	"go.uber.org/fx"
)

var Module = fx.Module("adherence.service",
	fx.Provide(service.New),
)
