// Package auth provides caller identity middleware for the escrow API.
//
// The escrow service has two kinds of privileged callers: the engagement
// oracle registered per escrow (matched against the escrow's oracle key),
// and platform operators holding the admin secret. This package extracts
// the caller's key and admin status into the gin context; per-escrow
// oracle checks happen in the handlers where the escrow is loaded.
package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	// ContextKeyCallerKey is the key for storing the caller's key in gin context
	ContextKeyCallerKey = "callerKey"
	// ContextKeyIsAdmin marks requests that presented the admin secret
	ContextKeyIsAdmin = "isAdmin"
)

// Middleware extracts the caller key from the request. It accepts
/// "Authorization: Bearer 0x..." or the X-Caller-Key header, and checks
// X-Admin-Secret against the configured secret. It never rejects; use
// RequireCaller or RequireAdmin on routes that need a caller.
func Middleware(adminSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader("X-Caller-Key")
		if key == "" {
			if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
				key = strings.TrimPrefix(auth, "Bearer ")
			}
		}
		if key != "" {
			c.Set(ContextKeyCallerKey, strings.ToLower(key))
		}

		if adminSecret != "" {
			secret := c.GetHeader("X-Admin-Secret")
			if secret != "" && subtle.ConstantTimeCompare([]byte(secret), []byte(adminSecret)) == 1 {
				c.Set(ContextKeyIsAdmin, true)
			}
		}

		c.Next()
	}
}

// RequireCaller rejects requests that carry no caller key and no admin secret
func RequireCaller() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !IsAdmin(c) && CallerKey(c) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Caller key required. Include 'Authorization: Bearer 0x...' header.",
			})
			return
		}
		c.Next()
	}
}

// RequireAdmin rejects requests without a valid admin secret
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !IsAdmin(c) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "Admin secret required.",
			})
			return
		}
		c.Next()
	}
}

// CallerKey returns the caller's key from context, or "" if unauthenticated
func CallerKey(c *gin.Context) string {
	key, exists := c.Get(ContextKeyCallerKey)
	if !exists {
		return ""
	}
	return key.(string)
}

// IsAdmin reports whether the request presented the admin secret
func IsAdmin(c *gin.Context) bool {
	v, exists := c.Get(ContextKeyIsAdmin)
	return exists && v.(bool)
}
