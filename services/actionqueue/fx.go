package actionqueue

import (
	"context"

	"go.uber.org/fx"
)

var Module = fx.Module("actionqueue",
	fx.Provide(
		NewRepository,
		NewRegistry,
	),
)

// StartRegistry runs the polling loop for the process lifetime.
func StartRegistry(lc fx.Lifecycle, r *Registry) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go r.Run(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}
