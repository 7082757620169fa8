package middlewares

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/retail_backend/policy"
	"github.com/mmdatafocus/retail_backend/utils"
)

// AuthMiddleware resolves the bearer token into a policy.Identity. Requests
// without a token pass through anonymous; RequireIdentity rejects them.
func AuthMiddleware(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.Request.Header.Get("Authorization")
		if auth == "" {
			c.Next()
			return
		}

		const bearer = "Bearer "
		if len(auth) <= len(bearer) || !strings.EqualFold(auth[:len(bearer)], bearer) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		claim, err := utils.JwtValidate(secret, strings.TrimSpace(auth[len(bearer):]))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		identity := policy.NewIdentity(claim.BusinessId, claim.UserId, claim.UserName, policy.Role(claim.Role), claim.Grants...)
		if err := identity.Validate(); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Request = c.Request.WithContext(policy.WithIdentity(c.Request.Context(), identity))
		c.Next()
	}
}

// RequireIdentity aborts with 401 unless AuthMiddleware resolved a caller.
func RequireIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := policy.IdentityFromContext(c.Request.Context()); !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

// CtxIdentity returns the caller resolved for this request.
func CtxIdentity(c *gin.Context) (policy.Identity, bool) {
	return policy.IdentityFromContext(c.Request.Context())
}
