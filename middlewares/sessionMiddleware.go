package middlewares

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/routesync_backend/config"
	"github.com/mmdatafocus/routesync_backend/utils"
	"github.com/sirupsen/logrus"
)

const revokedTokenPrefix = "RevokedToken:"

// SessionMiddleware rejects tokens revoked through /logout. Without Redis there is
// no revocation list and every valid token is accepted.
func SessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := utils.GetTokenFromContext(c.Request.Context())
		if !ok || token == "" {
			c.Next()
			return
		}
		_, revoked, err := config.GetRedisValue(revokedTokenPrefix + token)
		if err != nil {
			config.GetLogger().WithFields(logrus.Fields{
				"field": "SessionMiddleware",
			}).Warn("revocation lookup failed; accepting token: " + err.Error())
			c.Next()
			return
		}
		if revoked {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// RevokeToken records token as logged out until it would have expired anyway.
func RevokeToken(token string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return config.SetRedisValue(revokedTokenPrefix+token, "1", ttl)
}
