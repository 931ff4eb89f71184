package stripeapi

import (
	membershipdomain "github.com/cineclub/membersync/internal/membership/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("stripeapi",
	fx.Provide(
		fx.Annotate(NewClient, fx.As(new(membershipdomain.Resolver))),
	),
)
