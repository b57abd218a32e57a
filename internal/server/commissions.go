package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	commissiondomain "github.com/smallbiznis/partnerledger/internal/commission/domain"
)

type disputeCommissionRequest struct {
	Reason string `json:"reason"`
}

type resolveDisputeRequest struct {
	// Target is payable or clawed_back.
	Target     string `json:"target"`
	Resolution string `json:"resolution"`
}

type commissionNoteRequest struct {
	Text string `json:"text"`
}

type reverseCommissionRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) ListCommissions(c *gin.Context) {
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

	filter := commissiondomain.ListFilter{
		PartnerID: partnerID,
		Livemode:  livemode,
		Limit:     limit,
		Offset:    offset,
	}
	for _, status := range splitCSV(c.Query("status")) {
		filter.Statuses = append(filter.Statuses, commissiondomain.Status(status))
	}
	if filter.From, err = parseTimeQuery(c, "from"); err != nil {
		AbortWithError(c, err)
		return
	}
	if filter.To, err = parseTimeQuery(c, "to"); err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.commissionSvc.List(c.Request.Context(), filter)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetCommission(c *gin.Context) {
	id, err := parseID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	resp, err := s.commissionSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) DisputeCommission(c *gin.Context) {
	id, err := parseID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var req disputeCommissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	resp, err := s.commissionSvc.Dispute(c.Request.Context(), id, strings.TrimSpace(req.Reason), actorFrom(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ResolveCommissionDispute(c *gin.Context) {
	id, err := parseID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var req resolveDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	target := commissiondomain.Status(strings.TrimSpace(req.Target))
	if target == "" {
		AbortWithError(c, newValidationError("target", "required", "target is required"))
		return
	}
	resp, err := s.commissionSvc.ResolveDispute(c.Request.Context(), id, target, strings.TrimSpace(req.Resolution), actorFrom(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) AddCommissionNote(c *gin.Context) {
	id, err := parseID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var req commissionNoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	resp, err := s.commissionSvc.AddNote(c.Request.Context(), id, req.Text, actorFrom(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ReverseCommission(c *gin.Context) {
	id, err := parseID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var req reverseCommissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	resp, err := s.commissionSvc.ReversePaid(c.Request.Context(), id, strings.TrimSpace(req.Reason), actorFrom(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ReleaseCommissionHold(c *gin.Context) {
	id, err := parseID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	resp, err := s.commissionSvc.ReleaseHold(c.Request.Context(), id, actorFrom(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func parseTimeQuery(c *gin.Context, name string) (*time.Time, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, newValidationError(name, "invalid", name+" must be an RFC3339 timestamp")
	}
	t = t.UTC()
	return &t, nil
}
