package payment

import (
	"github.com/smallbiznis/partnerledger/internal/payment/repository"
	"github.com/smallbiznis/partnerledger/internal/payment/service"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.ingest",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
