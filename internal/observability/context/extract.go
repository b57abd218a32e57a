package context

import (
	"strings"

	"github.com/gin-gonic/gin"
)

// ActorFromGin prefers the context actor, then the X-Actor header.
func ActorFromGin(c *gin.Context) string {
	if c == nil {
		return ""
	}
	if value := ActorFromContext(c.Request.Context()); value != "" {
		return value
	}
	return strings.TrimSpace(c.GetHeader("X-Actor"))
}
