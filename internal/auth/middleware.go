package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RequireAdmin is the gin middleware internal/gateway mounts in front of
// DELETE /schedules/clear-all, the only route it guards. It rejects
// anything without a valid admin token before the handler runs.
func (s *Service) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing Authorization header"})
			return
		}
		if _, err := s.VerifyToken(header); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Next()
	}
}
