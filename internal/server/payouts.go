package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/partnerledger/internal/config"
	payoutdomain "github.com/smallbiznis/partnerledger/internal/payout/domain"
)

type createPayoutRequest struct {
	PartnerID   string    `json:"partner_id"`
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
	Mode        string    `json:"mode"`
}

type markPaidRequest struct {
	Reference string `json:"reference"`
}

type payoutReasonRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) CreatePayout(c *gin.Context) {
	var req createPayoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	partnerID, err := parseOptionalID(req.PartnerID)
	if err != nil || partnerID == 0 {
		AbortWithError(c, newValidationError("partner_id", "required", "partner_id is required"))
		return
	}
	livemode, err := parseMode(req.Mode)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.payoutSvc.CreateBatch(c.Request.Context(), payoutdomain.CreateBatchRequest{
		PartnerID:   partnerID,
		PeriodStart: req.PeriodStart,
		PeriodEnd:   req.PeriodEnd,
		Livemode:    livemode,
		Actor:       actorFrom(c),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) ListPayouts(c *gin.Context) {
	partnerID, err := parseOptionalID(c.Query("partner_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	livemode, err := parseMode(c.Query("mode"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	limit, offset, err := parsePage(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	filter := payoutdomain.ListFilter{PartnerID: partnerID, Livemode: livemode, Limit: limit, Offset: offset}
	for _, status := range splitCSV(c.Query("status")) {
		filter.Statuses = append(filter.Statuses, payoutdomain.Status(status))
	}
	resp, err := s.payoutSvc.List(c.Request.Context(), filter)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetPayout(c *gin.Context) {
	id, err := parseID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	resp, err := s.payoutSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListPayoutCommissions(c *gin.Context) {
	id, err := parseID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	resp, err := s.payoutSvc.ReservedCommissions(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) MarkPayoutReady(c *gin.Context) {
	s.payoutAction(c, func(c *gin.Context, p payoutActionArgs) (*payoutdomain.Payout, error) {
		return s.payoutSvc.MarkReady(c.Request.Context(), p.id, p.actor)
	})
}

func (s *Server) ExecutePayout(c *gin.Context) {
	s.payoutAction(c, func(c *gin.Context, p payoutActionArgs) (*payoutdomain.Payout, error) {
		return s.payoutSvc.Execute(c.Request.Context(), p.id, p.actor)
	})
}

func (s *Server) MarkPayoutPaid(c *gin.Context) {
	s.payoutAction(c, func(c *gin.Context, p payoutActionArgs) (*payoutdomain.Payout, error) {
		var req markPaidRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			return nil, invalidRequestError()
		}
		return s.payoutSvc.MarkPaid(c.Request.Context(), p.id, strings.TrimSpace(req.Reference), p.actor)
	})
}

func (s *Server) MarkPayoutFailed(c *gin.Context) {
	s.payoutAction(c, func(c *gin.Context, p payoutActionArgs) (*payoutdomain.Payout, error) {
		var req payoutReasonRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			return nil, invalidRequestError()
		}
		return s.payoutSvc.MarkFailed(c.Request.Context(), p.id, strings.TrimSpace(req.Reason), p.actor)
	})
}

func (s *Server) CancelPayout(c *gin.Context) {
	s.payoutAction(c, func(c *gin.Context, p payoutActionArgs) (*payoutdomain.Payout, error) {
		var req payoutReasonRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			return nil, invalidRequestError()
		}
		return s.payoutSvc.Cancel(c.Request.Context(), p.id, strings.TrimSpace(req.Reason), p.actor)
	})
}

func (s *Server) ReconcilePayout(c *gin.Context) {
	s.payoutAction(c, func(c *gin.Context, p payoutActionArgs) (*payoutdomain.Payout, error) {
		return s.payoutSvc.Reconcile(c.Request.Context(), p.id, p.actor)
	})
}

func (s *Server) ReleasePayoutHold(c *gin.Context) {
	s.payoutAction(c, func(c *gin.Context, p payoutActionArgs) (*payoutdomain.Payout, error) {
		return s.payoutSvc.ReleaseHold(c.Request.Context(), p.id, p.actor)
	})
}

func (s *Server) CheckIntegrity(c *gin.Context) {
	report, err := s.payoutSvc.CheckConsistency(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": report, "mode": modeName(s.cfg)})
}

type payoutActionArgs struct {
	id    snowflake.ID
	actor string
}

func (s *Server) payoutAction(c *gin.Context, fn func(*gin.Context, payoutActionArgs) (*payoutdomain.Payout, error)) {
	id, err := parseID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	resp, err := fn(c, payoutActionArgs{id: id, actor: actorFrom(c)})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func modeName(cfg config.Config) string {
	if cfg.Livemode() {
		return config.ModeLive
	}
	return config.ModeTest
}
