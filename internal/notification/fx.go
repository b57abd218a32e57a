package notification

import (
	"github.com/smallbiznis/partnerledger/internal/events"
	"github.com/smallbiznis/partnerledger/internal/notification/repository"
	"github.com/smallbiznis/partnerledger/internal/notification/service"
	"go.uber.org/fx"
)

var Module = fx.Module("notification",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
	fx.Provide(service.NewReporter),
	fx.Provide(
		fx.Annotate(
			func(r *service.Reporter) events.Subscriber { return r },
			fx.ResultTags(`group:"event_subscribers"`),
		),
	),
)
