package auth

import (
	"crypto/subtle"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// ValidBearer reports whether an Authorization header carries secret as its bearer token.
// An empty secret matches nothing.
func ValidBearer(header, secret string) bool {
	if secret == "" || !strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return false
	}
	presented := strings.TrimSpace(header[len("bearer "):])
	return subtle.ConstantTimeCompare([]byte(presented), []byte(secret)) == 1
}

// BearerSecret only lets through requests whose bearer token equals secret exactly.
// Rejected requests are aborted after reject writes the response.
func BearerSecret(secret, realm string, reject gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if ValidBearer(c.GetHeader("Authorization"), secret) {
			c.Next()
			return
		}
		log.Warn().Str("realm", realm).Str("path", c.FullPath()).Str("ip", c.ClientIP()).Msg("Rejected unauthorized request")
		reject(c)
		c.Abort()
	}
}
