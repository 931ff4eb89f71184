package membership

import (
	"github.com/cineclub/membersync/internal/membership/repository"
	"github.com/cineclub/membersync/internal/membership/service"
	"go.uber.org/fx"
)

var Module = fx.Module("membership.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
