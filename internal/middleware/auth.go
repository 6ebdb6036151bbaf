package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	iauth "github.com/charlesng35/dentaldesk/internal/auth"
	"github.com/charlesng35/dentaldesk/pkg/errors"
	"github.com/charlesng35/dentaldesk/pkg/response"
)

const (
	CtxIdentityKey = "authIdentity"
	CtxOwnerIDKey  = "ownerID"
)

// Auth requires a valid bearer token and records the caller's owner ID.
// Browsers cannot set headers on websocket upgrades, so the token may also
// arrive as the access_token query parameter.
func Auth(tokens *iauth.TokenService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			c.Header("WWW-Authenticate", "Bearer")
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		identity, err := tokens.Verify(token)
		if err != nil {
			// Normalise all validation failures to 401
			c.Header("WWW-Authenticate", "Bearer")
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		c.Set(CtxIdentityKey, identity)
		c.Set(CtxOwnerIDKey, identity.OwnerID)
		c.Next()
	}
}

// OwnerID returns the authenticated owner, or "" outside Auth.
func OwnerID(c *gin.Context) string {
	return c.GetString(CtxOwnerIDKey)
}

func bearerToken(c *gin.Context) string {
	authz := c.GetHeader("Authorization")
	if len(authz) > 7 && strings.EqualFold(authz[:7], "Bearer ") {
		return strings.TrimSpace(authz[7:])
	}
	return strings.TrimSpace(c.Query("access_token"))
}
