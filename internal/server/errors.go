package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	commissiondomain "github.com/smallbiznis/partnerledger/internal/commission/domain"
	notificationdomain "github.com/smallbiznis/partnerledger/internal/notification/domain"
	"github.com/smallbiznis/partnerledger/internal/observability/logger"
	partnerdomain "github.com/smallbiznis/partnerledger/internal/partner/domain"
	paymentdomain "github.com/smallbiznis/partnerledger/internal/payment/domain"
	payoutdomain "github.com/smallbiznis/partnerledger/internal/payout/domain"
	sysdomain "github.com/smallbiznis/partnerledger/internal/systemconfig/domain"
	"go.uber.org/zap"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("not_found")
	ErrRateLimited  = errors.New("rate_limited")
	ErrInvalidID    = errors.New("invalid_id")
)

type validationError struct {
	Field   string
	Code    string
	Message string
}

func (e *validationError) Error() string { return e.Message }

func newValidationError(field, code, message string) error {
	return &validationError{Field: field, Code: code, Message: message}
}

func invalidRequestError() error {
	return newValidationError("", "invalid_request", "request body or query is malformed")
}

// errorStatus maps domain sentinels to HTTP status codes. The first match
// wins; the sentinel text becomes the error code.
var errorStatus = []struct {
	err    error
	status int
}{
	{ErrUnauthorized, http.StatusUnauthorized},
	{ErrRateLimited, http.StatusTooManyRequests},
	{ErrNotFound, http.StatusNotFound},
	{ErrInvalidID, http.StatusBadRequest},

	{paymentdomain.ErrInvalidEvent, http.StatusBadRequest},
	{paymentdomain.ErrModeOverride, http.StatusForbidden},

	{partnerdomain.ErrNotFound, http.StatusNotFound},
	{commissiondomain.ErrNotFound, http.StatusNotFound},
	{payoutdomain.ErrNotFound, http.StatusNotFound},
	{notificationdomain.ErrNotFound, http.StatusNotFound},

	{payoutdomain.ErrExternalTransferFailure, http.StatusBadGateway},
	{payoutdomain.ErrTransferUnavailable, http.StatusServiceUnavailable},
	{payoutdomain.ErrConsistencyViolation, http.StatusConflict},
	{payoutdomain.ErrReservationConflict, http.StatusConflict},
	{payoutdomain.ErrEmptyBatch, http.StatusUnprocessableEntity},
	{payoutdomain.ErrPartnerNotEligible, http.StatusUnprocessableEntity},
	{payoutdomain.ErrInvalidPeriod, http.StatusBadRequest},
	{payoutdomain.ErrPayoutsDisabled, http.StatusConflict},
	{payoutdomain.ErrOnHold, http.StatusConflict},
	{payoutdomain.ErrNotOnHold, http.StatusConflict},
	{payoutdomain.ErrConcurrentUpdate, http.StatusConflict},
	{payoutdomain.ErrReasonRequired, http.StatusBadRequest},
	{payoutdomain.ErrInvalidStateTransition, http.StatusConflict},

	{commissiondomain.ErrInvalidStateTransition, http.StatusConflict},
	{commissiondomain.ErrInvalidRate, http.StatusUnprocessableEntity},
	{commissiondomain.ErrConcurrentUpdate, http.StatusConflict},
	{commissiondomain.ErrNotOnHold, http.StatusConflict},
	{commissiondomain.ErrAlreadyReversed, http.StatusConflict},
	{commissiondomain.ErrInvalidAmount, http.StatusBadRequest},
	{commissiondomain.ErrInvalidNote, http.StatusBadRequest},
	{commissiondomain.ErrInvalidResolution, http.StatusBadRequest},
	{commissiondomain.ErrReasonRequired, http.StatusBadRequest},

	{partnerdomain.ErrInvalidRate, http.StatusUnprocessableEntity},
	{partnerdomain.ErrFraudFlagged, http.StatusConflict},
	{partnerdomain.ErrInvalidTransition, http.StatusConflict},
	{partnerdomain.ErrEmailAlreadyExists, http.StatusConflict},
	{partnerdomain.ErrInvalidPartner, http.StatusBadRequest},
	{partnerdomain.ErrInvalidRiskScore, http.StatusBadRequest},

	{notificationdomain.ErrAlreadyResolved, http.StatusConflict},
	{sysdomain.ErrInvalidKey, http.StatusBadRequest},
}

// AbortWithError writes {"error":{"code","message"}} and stops the chain.
func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)

	var verr *validationError
	if errors.As(err, &verr) {
		body := gin.H{"code": verr.Code, "message": verr.Message}
		if verr.Field != "" {
			body["field"] = verr.Field
		}
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": body})
		return
	}

	for _, entry := range errorStatus {
		if errors.Is(err, entry.err) {
			c.AbortWithStatusJSON(entry.status, gin.H{"error": gin.H{
				"code":    entry.err.Error(),
				"message": err.Error(),
			}})
			return
		}
	}

	logger.FromContext(c.Request.Context()).Error("unhandled request error", zap.Error(err))
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": gin.H{
		"code":    "internal_error",
		"message": "internal server error",
	}})
}
