package channel

import (
	"context"

	payoutdomain "github.com/smallbiznis/partnerledger/internal/payout/domain"
)

// Manual records the transfer for an operator to send out of band. The
// operator confirms settlement with mark paid.
type Manual struct{}

func NewManual() *Manual { return &Manual{} }

func (Manual) Name() string { return "manual" }

func (Manual) Initiate(_ context.Context, req payoutdomain.TransferRequest) (payoutdomain.TransferResult, error) {
	return payoutdomain.TransferResult{Reference: "manual_" + req.PayoutID.String()}, nil
}
