package events

import "go.uber.org/fx"

var Module = fx.Module("events",
	fx.Provide(NewOutbox),
	fx.Provide(func(o *Outbox) Publisher { return o }),
	fx.Provide(
		fx.Annotate(NewMetricsObserver, fx.ResultTags(`group:"event_observers"`)),
		fx.Annotate(NewRedisSubscriber, fx.ResultTags(`group:"event_subscribers"`)),
	),
	fx.Provide(NewRelay),
)
