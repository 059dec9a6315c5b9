package main

import (
	"errors"
	"html"
	"net/http"
	"time"

	sloggin "github.com/gin-contrib/slog"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"

	"github.com/mermaidchart/confluence-connect/pkg/core"
	"github.com/mermaidchart/confluence-connect/pkg/hostclient"
	"github.com/mermaidchart/confluence-connect/pkg/installation"
	"github.com/mermaidchart/confluence-connect/pkg/ledger"
	"github.com/mermaidchart/confluence-connect/pkg/oauth"
)

// serverConfig carries the startup settings the routes depend on.
type serverConfig struct {
	Addr        string
	MCBaseURL   string
	ClientID    string
	RedirectURI string
}

// appServer wires the credential store, the OAuth flow manager, and the
// installation handshake behind the HTTP surface. The store is injected
// explicitly; there is no ambient singleton.
type appServer struct {
	cfg       serverConfig
	store     core.Store
	oauth     *oauth.Client
	handshake *installation.Handshake

	// hostClientFor builds the property-store client for one tenant's host
	// instance. Swappable so tests can point it at a fake host.
	hostClientFor func(inst *core.Installation) *hostclient.Client
}

func newAppServer(cfg serverConfig, st core.Store) *appServer {
	return &appServer{
		cfg:       cfg,
		store:     st,
		oauth:     oauth.NewClient(cfg.ClientID, cfg.MCBaseURL, cfg.RedirectURI, ledger.New(st)),
		handshake: installation.New(st),
		hostClientFor: func(inst *core.Installation) *hostclient.Client {
			return hostclient.New(inst.BaseURL, nil)
		},
	}
}

func (s *appServer) setupRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(sloggin.SetLogger())
	router.Use(requestIDMiddleware())
	router.Use(corsMiddleware())

	router.GET("/health", s.handleHealth)
	router.POST("/installed", s.handleInstalled)
	router.GET("/callback", s.handleCallback)

	authed := router.Group("/", tenantAuth(s.handshake))
	authed.GET("/check_token", s.handleCheckToken)
	authed.POST("/logout", s.handleLogout)
	authed.GET("/editor", s.handleEditor)

	// Admin MCP surface; the store travels to the tool handlers via context.
	mcpServer := NewMCPServer()
	mcpHandler := gin.WrapH(mcpServer.ServeHTTP(s.store))
	for _, method := range []string{"POST", "GET", "DELETE"} {
		router.Handle(method, "/mcp", authMiddleware, mcpHandler)
	}

	return router
}

func (s *appServer) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	})
}

// handleInstalled is the host installation webhook. A validation failure is a
// bad request; a store failure must not acknowledge the webhook so the host
// retries it.
func (s *appServer) handleInstalled(c *gin.Context) {
	ctx := c.Request.Context()
	logger := core.LoggerFromCtx(ctx)

	var payload installation.Payload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	record, err := s.handshake.SaveInstallation(ctx, &payload, payload.ClientKey)
	if err != nil {
		var vErr *core.ValidationError
		if errors.As(err, &vErr) {
			c.JSON(http.StatusBadRequest, gin.H{"error": vErr.Error()})
			return
		}
		logger.Error("Failed to store installation", "client_key", payload.ClientKey, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store installation"})
		return
	}

	addRequestAttributes(ctx,
		attribute.String("tenant.client_key", record.ClientKey),
		attribute.String("tenant.product_type", record.ProductType),
	)
	logger.Info("Installation stored",
		"client_key", record.ClientKey,
		"base_url", record.BaseURL,
		"event_type", record.EventType,
	)
	c.Status(http.StatusNoContent)
}

// handleCheckToken is the poll endpoint of the login handshake. The token is
// claimed at most once: a hit deletes the state record before responding, so
// the next poll for the same state sees not-found.
func (s *appServer) handleCheckToken(c *gin.Context) {
	ctx := c.Request.Context()
	logger := core.LoggerFromCtx(ctx)

	state := c.Query("state")
	if state == "" {
		c.Status(http.StatusNotFound)
		return
	}

	token, err := s.oauth.Token(ctx, state)
	if err != nil {
		logger.Error("Failed to read token record", "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}
	if token == "" {
		c.Status(http.StatusNotFound)
		return
	}
	if err := s.oauth.DeleteToken(ctx, state); err != nil {
		logger.Error("Failed to delete claimed token record", "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}

	user, err := s.oauth.User(ctx, token)
	if err != nil {
		var oErr *core.OAuthError
		if errors.As(err, &oErr) {
			c.Status(http.StatusUnauthorized)
			return
		}
		logger.Error("Failed to fetch user profile", "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}

	identity, err := core.IdentityFromContext(ctx)
	if err != nil {
		c.Status(http.StatusUnauthorized)
		return
	}
	host := s.hostClientFor(identity.Installation)
	if err := host.SaveToken(ctx, identity.AccountID, token); err != nil {
		logger.Error("Failed to persist user token", "account_id", identity.AccountID, "error", err)
		c.Status(http.StatusServiceUnavailable)
		return
	}

	addRequestAttributes(ctx,
		attribute.String("tenant.client_key", identity.ClientKey),
		attribute.String("login.state", state),
	)
	c.JSON(http.StatusOK, gin.H{"token": token, "user": user})
}

// handleLogout clears the durable per-user token. An empty value means
// "logged out".
func (s *appServer) handleLogout(c *gin.Context) {
	ctx := c.Request.Context()
	identity, err := core.IdentityFromContext(ctx)
	if err != nil {
		c.Status(http.StatusUnauthorized)
		return
	}

	host := s.hostClientFor(identity.Installation)
	if err := host.SaveToken(ctx, identity.AccountID, ""); err != nil {
		core.LoggerFromCtx(ctx).Error("Failed to clear user token", "account_id", identity.AccountID, "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}

	c.Status(http.StatusOK)
}

// handleCallback receives the provider redirect and completes the exchange.
// The popup gets a small page either way; the polling side of the handshake
// picks the token up separately.
func (s *appServer) handleCallback(c *gin.Context) {
	ctx := c.Request.Context()

	var errorMessage string
	if err := s.oauth.HandleAuthorizationResponse(ctx, c.Request.URL.Query()); err != nil {
		var vErr *core.ValidationError
		var oErr *core.OAuthError
		if errors.As(err, &vErr) || errors.As(err, &oErr) {
			errorMessage = err.Error()
		} else {
			core.LoggerFromCtx(ctx).Error("Authorization response failed", "error", err)
			errorMessage = "login failed, please try again"
		}
	}

	c.Header("Content-Type", "text/html; charset=utf-8")
	if errorMessage != "" {
		c.String(http.StatusOK, `<html><body><h1>Login failed</h1><p>%s</p></body></html>`,
			html.EscapeString(errorMessage))
		return
	}
	c.String(http.StatusOK, `<html><body><h1>Login complete</h1><p>You can now close this window and return to the editor.</p><script>window.close();</script></body></html>`)
}

// handleEditor returns the bootstrap payload for the editor page: the durable
// token and profile when the user is already connected, otherwise a fresh
// authorization URL and state for the login popup.
func (s *appServer) handleEditor(c *gin.Context) {
	ctx := c.Request.Context()
	logger := core.LoggerFromCtx(ctx)

	identity, err := core.IdentityFromContext(ctx)
	if err != nil {
		c.Status(http.StatusUnauthorized)
		return
	}

	host := s.hostClientFor(identity.Installation)
	token, err := host.FetchToken(ctx, identity.AccountID)
	if err != nil {
		logger.Warn("Failed to read user token property", "account_id", identity.AccountID, "error", err)
		token = ""
	}

	var user *core.UserProfile
	if token != "" {
		user, err = s.oauth.User(ctx, token)
		if err != nil {
			// Stale or revoked token; fall back to a fresh login.
			user = nil
		}
	}

	if user != nil {
		c.JSON(http.StatusOK, gin.H{
			"baseUrl":     s.oauth.BaseURL(),
			"accessToken": token,
			"user":        user,
		})
		return
	}

	auth, err := s.oauth.AuthorizationData(ctx, "", "")
	if err != nil {
		logger.Error("Failed to create authorization data", "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"baseUrl":     s.oauth.BaseURL(),
		"accessToken": "",
		"loginUrl":    auth.URL,
		"loginState":  auth.State,
	})
}
