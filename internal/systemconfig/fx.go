package systemconfig

import (
	"github.com/smallbiznis/partnerledger/internal/systemconfig/service"
	"go.uber.org/fx"
)

var Module = fx.Module("systemconfig.service",
	fx.Provide(service.NewService),
)
