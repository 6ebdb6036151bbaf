package handlers

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/dentaldesk/internal/middleware"
	apperrors "github.com/charlesng35/dentaldesk/pkg/errors"
	"github.com/charlesng35/dentaldesk/pkg/response"
)

// requestContext safely returns the request context with a background fallback for tests.
func requestContext(c *gin.Context) context.Context {
	if c == nil {
		return context.Background()
	}
	if req := c.Request; req != nil {
		return req.Context()
	}
	return context.Background()
}

// requireOwner returns the authenticated owner or writes 401.
func requireOwner(c *gin.Context) (string, bool) {
	owner := strings.TrimSpace(middleware.OwnerID(c))
	if owner == "" {
		response.Error(c, apperrors.ErrUnauthorized)
		return "", false
	}
	return owner, true
}
