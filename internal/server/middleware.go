package server

import (
	"net/http"
	"strings"

	"github.com/clinchain/clinledger/internal/policy"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// actorKey is the gin context key under which the authenticated actor is stored.
const actorKey = "clinledger.actor"

// AuthMiddleware verifies the bearer token and stores the embedded actor in
// the request context. Every authenticated route depends on it; policy checks
// downstream read the actor it stored.
func AuthMiddleware(tokens *policy.TokenIssuer, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		actor, err := tokens.Verify(strings.TrimPrefix(auth, "Bearer "))
		if err != nil {
			logger.Warn("token rejected", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(actorKey, *actor)
		c.Next()
	}
}

// currentActor returns the actor stored by AuthMiddleware.
func currentActor(c *gin.Context) (policy.Actor, bool) {
	v, ok := c.Get(actorKey)
	if !ok {
		return policy.Actor{}, false
	}
	actor, ok := v.(policy.Actor)
	return actor, ok
}
