package domain

import (
	"context"
	"errors"
	"time"
)

// Flag keys.
const (
	KeyPayoutsEnabled = "PARTNER_PAYOUTS_ENABLED"
)

var ErrInvalidKey = errors.New("invalid_config_key")

// Setting is an operator-controlled runtime switch.
type Setting struct {
	Key       string    `gorm:"primaryKey;type:text" json:"key"`
	Value     string    `gorm:"type:text;not null" json:"value"`
	UpdatedBy *string   `gorm:"type:text" json:"updated_by,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Setting) TableName() string { return "system_config" }

type Service interface {
	Bool(ctx context.Context, key string, fallback bool) (bool, error)
	Set(ctx context.Context, key, value, actor string) (*Setting, error)
}
