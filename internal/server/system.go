package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/partnerledger/internal/audit/domain"
)

type setConfigRequest struct {
	Value string `json:"value"`
}

// SetSystemConfig updates a runtime flag such as PARTNER_PAYOUTS_ENABLED.
func (s *Server) SetSystemConfig(c *gin.Context) {
	var req setConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	resp, err := s.flags.Set(c.Request.Context(), strings.TrimSpace(c.Param("key")), strings.TrimSpace(req.Value), actorFrom(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// ListAuditLogs returns the newest audit entries, optionally narrowed to one
// action or target such as ?target_type=payout&target_id=123.
func (s *Server) ListAuditLogs(c *gin.Context) {
	limit, _, err := parsePage(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	resp, err := s.auditSvc.List(c.Request.Context(), auditdomain.ListFilter{
		Action:     strings.TrimSpace(c.Query("action")),
		TargetType: strings.TrimSpace(c.Query("target_type")),
		TargetID:   strings.TrimSpace(c.Query("target_id")),
		Limit:      limit,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}
