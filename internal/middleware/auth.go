package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/farellandr/enrollhub/internal/auth"
	"github.com/farellandr/enrollhub/internal/helpers"
)

// RequireRole accepts only bearer tokens issued for role.
func RequireRole(issuer *auth.Issuer, role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, found := strings.CutPrefix(header, "Bearer ")
		if !found || token == "" {
			helpers.RespondWithError(c, http.StatusUnauthorized, "Missing bearer token.")
			return
		}

		claims, err := issuer.Parse(token)
		if err != nil {
			helpers.RespondWithError(c, http.StatusUnauthorized, "Invalid or expired token.")
			return
		}
		if claims.Role != role {
			helpers.RespondWithError(c, http.StatusForbidden, "Insufficient role.")
			return
		}

		c.Set("subject", claims.Subject)
		c.Next()
	}
}
