package main

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/mermaidchart/confluence-connect/pkg/core"
	"github.com/mermaidchart/confluence-connect/pkg/installation"
)

// requestIDMiddleware attaches a request ID to the request context for
// structured logging.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request = c.Request.WithContext(core.WithRequestID(c.Request.Context()))
		c.Next()
	}
}

// corsMiddleware is an optimized CORS handler for Gin.
// It merges allowed headers with defaults, sets standard options, and can be further customized.
func corsMiddleware(allowedHeaders ...string) gin.HandlerFunc {
	defaultHeaders := []string{"Authorization", "Content-Type"}
	var headersList []string
	if len(allowedHeaders) > 0 {
		headers := []string{}
		headers = append(headers, defaultHeaders...)
		for _, h := range allowedHeaders {
			hNorm := strings.TrimSpace(h)
			if hNorm != "" && hNorm != "*" && !containsCI(defaultHeaders, hNorm) {
				headers = append(headers, hNorm)
			}
		}
		headersList = headers
	} else {
		headersList = defaultHeaders
	}

	allowedMethods := []string{"GET", "POST", "OPTIONS"}
	return func(c *gin.Context) {
		// For production, set allowlist for origins here; fallback is *
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Vary", "Origin")
		c.Header("Access-Control-Allow-Methods", strings.Join(allowedMethods, ", "))
		c.Header("Access-Control-Allow-Headers", strings.Join(headersList, ", "))
		c.Header("Access-Control-Max-Age", "86400")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}

// authMiddleware checks the HTTP Authorization header, aborts if missing
func authMiddleware(c *gin.Context) {
	if c.GetHeader("Authorization") == "" {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	c.Next()
}

// tenantAuth validates the host-signed identity assertion: a JWT whose issuer
// is the tenant key and whose signature verifies against that tenant's stored
// shared secret. The subject is the host account acting in the request. There
// is no session layer; every request proves its identity this way.
func tenantAuth(h *installation.Handshake) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearerToken(c.GetHeader("Authorization"))
		if raw == "" {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}

		var inst *core.Installation
		token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
			iss, err := t.Claims.GetIssuer()
			if err != nil || iss == "" {
				return nil, errors.New("token has no issuer")
			}
			inst, err = h.ClientInfo(c.Request.Context(), iss)
			if err != nil {
				return nil, err
			}
			if inst == nil {
				return nil, errors.New("unknown tenant")
			}
			return []byte(inst.SharedSecret), nil
		}, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))
		if err != nil || !token.Valid {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}

		sub, err := token.Claims.GetSubject()
		if err != nil || sub == "" {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}

		identity := &core.Identity{
			ClientKey:    inst.ClientKey,
			AccountID:    sub,
			Installation: inst,
		}
		c.Request = c.Request.WithContext(core.WithIdentity(c.Request.Context(), identity))
		c.Next()
	}
}

// bearerToken strips the JWT or Bearer scheme prefix from an Authorization
// header value.
func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	for _, scheme := range []string{"JWT ", "Bearer "} {
		if len(header) > len(scheme) && strings.EqualFold(header[:len(scheme)], scheme) {
			return strings.TrimSpace(header[len(scheme):])
		}
	}
	return ""
}

// containsCI checks if slice contains item (case-insensitive).
func containsCI(slice []string, item string) bool {
	item = strings.ToLower(item)
	for _, s := range slice {
		if strings.ToLower(s) == item {
			return true
		}
	}
	return false
}
