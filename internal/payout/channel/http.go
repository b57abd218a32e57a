package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/smallbiznis/partnerledger/internal/observability/tracing"
	payoutdomain "github.com/smallbiznis/partnerledger/internal/payout/domain"
)

// HTTP posts transfers to an external payout provider. A 4xx answer is a
// definitive rejection; anything else that is not 2xx is transient.
type HTTP struct {
	endpoint string
	client   *http.Client
}

func NewHTTP(endpoint string, timeout time.Duration) *HTTP {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTP{
		endpoint: endpoint,
		client:   tracing.TransferClient(&http.Client{Timeout: timeout}, "http"),
	}
}

func (h *HTTP) Name() string { return "http" }

type transferBody struct {
	PayoutID    string `json:"payout_id"`
	PartnerID   string `json:"partner_id"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	Method      string `json:"method"`
	Destination string `json:"destination"`
	Livemode    bool   `json:"livemode"`
}

type transferReply struct {
	Reference string `json:"reference"`
	Error     string `json:"error"`
}

func (h *HTTP) Initiate(ctx context.Context, req payoutdomain.TransferRequest) (payoutdomain.TransferResult, error) {
	body, err := json.Marshal(transferBody{
		PayoutID:    req.PayoutID.String(),
		PartnerID:   req.PartnerID.String(),
		Amount:      req.Amount,
		Currency:    req.Currency,
		Method:      req.Method,
		Destination: req.Destination,
		Livemode:    req.Livemode,
	})
	if err != nil {
		return payoutdomain.TransferResult{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return payoutdomain.TransferResult{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(tracing.IdempotencyKeyHeader, req.IdempotencyKey)

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return payoutdomain.TransferResult{}, fmt.Errorf("payout provider request: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var reply transferReply
	_ = json.Unmarshal(raw, &reply)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return payoutdomain.TransferResult{Reference: reply.Reference}, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		msg := reply.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return payoutdomain.TransferResult{}, fmt.Errorf("%w: provider returned %d: %s", payoutdomain.ErrTransferRejected, resp.StatusCode, msg)
	default:
		return payoutdomain.TransferResult{}, fmt.Errorf("payout provider returned %d", resp.StatusCode)
	}
}
