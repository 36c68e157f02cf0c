package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/rajinweb/contract-esign/internal/services"
)

type AuthMiddleware struct {
	tokens *services.TokenService
}

func NewAuthMiddleware(tokens *services.TokenService) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens}
}

// RequireOwner verifies the bearer session token and stores the owner
// identity on the request context.
func (am *AuthMiddleware) RequireOwner() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		ownerID, err := am.tokens.VerifySession(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired session"})
			return
		}

		c.Set("ownerID", ownerID)
		c.Next()
	}
}
