package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	partnerdomain "github.com/smallbiznis/partnerledger/internal/partner/domain"
)

type createPartnerRequest struct {
	Name              string           `json:"name"`
	Email             string           `json:"email"`
	PayoutMethod      string           `json:"payout_method"`
	PayoutDestination string           `json:"payout_destination"`
	CommissionRate    *decimal.Decimal `json:"commission_rate"`
}

type suspendPartnerRequest struct {
	Reason string `json:"reason"`
}

type fraudFlagRequest struct {
	Flagged *bool  `json:"flagged"`
	Reason  string `json:"reason"`
}

type riskRequest struct {
	Score *int `json:"score"`
}

func (s *Server) CreatePartner(c *gin.Context) {
	var req createPartnerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	resp, err := s.partnerSvc.Create(c.Request.Context(), partnerdomain.CreateRequest{
		Name:              strings.TrimSpace(req.Name),
		Email:             strings.TrimSpace(req.Email),
		PayoutMethod:      strings.TrimSpace(req.PayoutMethod),
		PayoutDestination: strings.TrimSpace(req.PayoutDestination),
		CommissionRate:    req.CommissionRate,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) GetPartner(c *gin.Context) {
	id, err := parseID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	resp, err := s.partnerSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListPayableCommissions(c *gin.Context) {
	id, err := parseID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if _, err := s.partnerSvc.Get(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}
	resp, err := s.commissionSvc.ListPayable(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ActivatePartner(c *gin.Context) {
	id, err := parseID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	resp, err := s.partnerSvc.Activate(c.Request.Context(), id, actorFrom(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) SuspendPartner(c *gin.Context) {
	id, err := parseID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var req suspendPartnerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	resp, err := s.partnerSvc.Suspend(c.Request.Context(), id, strings.TrimSpace(req.Reason), actorFrom(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) SetPartnerFraudFlag(c *gin.Context) {
	id, err := parseID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var req fraudFlagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if req.Flagged == nil {
		AbortWithError(c, newValidationError("flagged", "required", "flagged is required"))
		return
	}
	resp, err := s.partnerSvc.SetFraudFlag(c.Request.Context(), id, *req.Flagged, strings.TrimSpace(req.Reason), actorFrom(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) AssessPartnerRisk(c *gin.Context) {
	id, err := parseID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var req riskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if req.Score == nil {
		AbortWithError(c, newValidationError("score", "required", "score is required"))
		return
	}
	resp, err := s.partnerSvc.AssessRisk(c.Request.Context(), id, *req.Score, actorFrom(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}
