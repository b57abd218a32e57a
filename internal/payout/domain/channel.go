package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

// ErrTransferRejected marks a definitive rejection by the payout channel.
// Any other channel error is treated as transient.
var ErrTransferRejected = errors.New("transfer_rejected")

type TransferRequest struct {
	PayoutID       snowflake.ID
	PartnerID      snowflake.ID
	Amount         int64
	Currency       string
	Method         string
	Destination    string
	IdempotencyKey string
	Livemode       bool
}

type TransferResult struct {
	Reference string
}

// TransferChannel initiates money movement to a partner.
type TransferChannel interface {
	Name() string
	Initiate(ctx context.Context, req TransferRequest) (TransferResult, error)
}
