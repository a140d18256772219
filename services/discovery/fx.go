package discovery

import (
	"go.uber.org/fx"
)

var Module = fx.Module("discovery",
	fx.Provide(
		NewService,
		NewScheduler,
	),
)
