package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/jmerrifield20/SteelWatch/internal/identity"
)

// adminGuard returns RequireAdmin when tokens are configured, or a no-op
// middleware for development/open mode.
func adminGuard(tokens *identity.AdminTokens) gin.HandlerFunc {
	if tokens == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return identity.RequireAdmin(tokens)
}
