// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file guards the operator surface with a static shared token. The token
// is accepted from X-Admin-Token or as an Authorization bearer credential and
// compared in constant time.
package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// HeaderAdminToken carries the operator token.
const HeaderAdminToken = "X-Admin-Token"

// AdminToken rejects requests that do not present token. An empty token
// disables the check (local development).
func AdminToken(token string) gin.HandlerFunc {
	want := []byte(token)
	return func(c *gin.Context) {
		if len(want) == 0 {
			c.Next()
			return
		}
		got := presentedToken(c)
		if got == "" || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			log.Warn().
				Str("path", c.Request.URL.Path).
				Str("remote_ip", c.ClientIP()).
				Msg("admin request rejected")
			abortJSON(c, http.StatusUnauthorized, "unauthorized", "admin token required")
			return
		}
		c.Set("userID", "admin")
		c.Next()
	}
}

func presentedToken(c *gin.Context) string {
	if v := strings.TrimSpace(c.GetHeader(HeaderAdminToken)); v != "" {
		return v
	}
	auth := c.GetHeader("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}
