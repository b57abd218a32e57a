package payout

import (
	"github.com/smallbiznis/partnerledger/internal/config"
	"github.com/smallbiznis/partnerledger/internal/payout/channel"
	payoutdomain "github.com/smallbiznis/partnerledger/internal/payout/domain"
	"github.com/smallbiznis/partnerledger/internal/payout/repository"
	"github.com/smallbiznis/partnerledger/internal/payout/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("payout",
	fx.Provide(repository.Provide),
	fx.Provide(NewTransferChannel),
	fx.Provide(service.NewService),
)

// NewTransferChannel picks the payout channel named in config.
func NewTransferChannel(cfg config.Config, log *zap.Logger) payoutdomain.TransferChannel {
	if cfg.Payout.Channel == "http" {
		log.Info("payout channel configured", zap.String("channel", "http"))
		return channel.NewHTTP(cfg.Payout.HTTPEndpoint, cfg.Payout.HTTPTimeout)
	}
	log.Info("payout channel configured", zap.String("channel", "manual"))
	return channel.NewManual()
}
