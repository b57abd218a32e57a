package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type CreateRequest struct {
	Name              string           `json:"name"`
	Email             string           `json:"email"`
	PayoutMethod      string           `json:"payout_method"`
	PayoutDestination string           `json:"payout_destination"`
	CommissionRate    *decimal.Decimal `json:"commission_rate"`
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, p *Partner) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Partner, error)
	LockByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Partner, error)
	Update(ctx context.Context, db *gorm.DB, id snowflake.ID, fields map[string]any) error
	ListFraudActive(ctx context.Context, db *gorm.DB) ([]Partner, error)
}

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Partner, error)
	Get(ctx context.Context, id snowflake.ID) (*Partner, error)
	GetTx(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*Partner, error)
	Activate(ctx context.Context, id snowflake.ID, actor string) (*Partner, error)
	Suspend(ctx context.Context, id snowflake.ID, reason, actor string) (*Partner, error)
	SetFraudFlag(ctx context.Context, id snowflake.ID, flagged bool, reason, actor string) (*Partner, error)
	AssessRisk(ctx context.Context, id snowflake.ID, score int, actor string) (*Partner, error)
}
