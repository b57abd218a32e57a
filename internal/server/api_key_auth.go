package server

import (
	"crypto/subtle"
	"strings"

	"github.com/gin-gonic/gin"
	obsctx "github.com/smallbiznis/partnerledger/internal/observability/context"
)

// OperatorAuth requires the configured bearer token on operator routes and
// stores the X-Actor header as the acting operator. With no token
// configured every request passes.
func (s *Server) OperatorAuth() gin.HandlerFunc {
	token := strings.TrimSpace(s.cfg.APIToken)
	return func(c *gin.Context) {
		if token != "" {
			parts := strings.Fields(strings.TrimSpace(c.GetHeader("Authorization")))
			if len(parts) != 2 || parts[0] != "Bearer" ||
				subtle.ConstantTimeCompare([]byte(parts[1]), []byte(token)) != 1 {
				AbortWithError(c, ErrUnauthorized)
				return
			}
		}

		ctx := c.Request.Context()
		if actor := strings.TrimSpace(c.GetHeader("X-Actor")); actor != "" {
			ctx = obsctx.WithActor(ctx, actor)
		}
		ctx = obsctx.WithClientIP(ctx, c.ClientIP())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// WebhookRateLimit bounds ingest calls per client address.
func (s *Server) WebhookRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if ok, wait := s.webhookLimiter.take(c.ClientIP()); !ok {
			c.Header("Retry-After", retryAfterSeconds(wait))
			AbortWithError(c, ErrRateLimited)
			return
		}
		c.Next()
	}
}

func actorFrom(c *gin.Context) string {
	if actor := obsctx.ActorFromGin(c); actor != "" {
		return actor
	}
	return "operator"
}
