package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	paymentdomain "github.com/smallbiznis/partnerledger/internal/payment/domain"
)

// IngestPaymentEvent accepts an authenticated provider notification.
// Re-deliveries answer 200 with outcome duplicate_ignored.
func (s *Server) IngestPaymentEvent(c *gin.Context) {
	var req paymentdomain.IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.paymentSvc.Ingest(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	status := http.StatusCreated
	if result.Outcome == paymentdomain.OutcomeDuplicateIgnored {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{"data": result})
}
