package audit

import (
	"github.com/mesaops/mesa/internal/audit/repository"
	"github.com/mesaops/mesa/internal/audit/service"
	"go.uber.org/fx"
)

var Module = fx.Module("audit",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
