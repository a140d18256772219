package eventqueue

import (
	"context"

	"go.uber.org/fx"
)

var Module = fx.Module("eventqueue",
	fx.Provide(
		NewRepository,
		NewManager,
		NewProcessor,
	),
)

// StartProcessor runs the polling loop for the process lifetime.
func StartProcessor(lc fx.Lifecycle, p *Processor) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go p.Run(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}
