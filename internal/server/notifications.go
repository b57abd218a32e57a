package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	notificationdomain "github.com/smallbiznis/partnerledger/internal/notification/domain"
)

type resolveNotificationRequest struct {
	Notes string `json:"notes"`
}

func (s *Server) ListNotifications(c *gin.Context) {
	partnerID, err := parseOptionalID(c.Query("partner_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	limit, offset, err := parsePage(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	filter := notificationdomain.ListFilter{
		Severity:  notificationdomain.Severity(strings.TrimSpace(c.Query("severity"))),
		Category:  notificationdomain.Category(strings.TrimSpace(c.Query("category"))),
		PartnerID: partnerID,
		Limit:     limit,
		Offset:    offset,
	}
	if raw := strings.TrimSpace(c.Query("unresolved")); raw != "" {
		unresolved, err := strconv.ParseBool(raw)
		if err != nil {
			AbortWithError(c, newValidationError("unresolved", "invalid", "unresolved must be a boolean"))
			return
		}
		filter.Unresolved = unresolved
	}

	resp, err := s.notificationSvc.List(c.Request.Context(), filter)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ResolveNotification(c *gin.Context) {
	id, err := parseID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var req resolveNotificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	resp, err := s.notificationSvc.Resolve(c.Request.Context(), id, strings.TrimSpace(req.Notes), actorFrom(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}
