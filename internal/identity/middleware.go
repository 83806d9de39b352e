package identity

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const ctxAdminClaims = "steelwatch_admin_claims"

// RequireAdmin returns a Gin middleware that enforces a valid admin Bearer
// token and injects its claims into the context.
func RequireAdmin(tokens *AdminTokens) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "admin Bearer token required",
			})
			return
		}

		claims, err := tokens.Verify(strings.TrimPrefix(authHeader, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid token",
			})
			return
		}

		c.Set(ctxAdminClaims, claims)
		c.Next()
	}
}

// ClaimsFromCtx retrieves the claims injected by RequireAdmin.
func ClaimsFromCtx(c *gin.Context) *AdminClaims {
	v, _ := c.Get(ctxAdminClaims)
	claims, _ := v.(*AdminClaims)
	return claims
}
