package webhook

import (
	"github.com/cineclub/membersync/internal/webhook/adapters"
	"github.com/cineclub/membersync/internal/webhook/adapters/stripe"
	"github.com/cineclub/membersync/internal/webhook/repository"
	"github.com/cineclub/membersync/internal/webhook/service"
	"go.uber.org/fx"
)

var Module = fx.Module("webhook.service",
	fx.Provide(repository.Provide),
	fx.Provide(func() *adapters.Registry {
		return adapters.NewRegistry(
			stripe.NewFactory(),
		)
	}),
	fx.Provide(service.NewService),
)
