package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// Role values carried in token claims. Staff start and close sessions;
// students mark themselves present.
const (
	RoleStaff   = "staff"
	RoleStudent = "student"
)

// Bearer enforces bearer JWT tokens signed with HS256 and stores the parsed
// claims on the request context.
func Bearer(signingKey, issuer string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authz := c.GetHeader("Authorization")
		if authz == "" || !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		tokenStr := strings.TrimSpace(authz[len("bearer "):])
		claims, err := Parse(tokenStr, signingKey, issuer)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set("claims", claims)
		c.Next()
	}
}

// RequireRole rejects requests whose token does not carry the given role.
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := FromContext(c)
		if !ok || claims.Role != role {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient role"})
			return
		}
		c.Next()
	}
}

// FromContext extracts the claims stored by Bearer.
func FromContext(c *gin.Context) (Claims, bool) {
	claimsAny, exists := c.Get("claims")
	if !exists {
		return Claims{}, false
	}
	claims, ok := claimsAny.(Claims)
	return claims, ok
}
