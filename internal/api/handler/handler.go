// Package handler exposes the matching, relay and lifecycle services over
// HTTP and WebSocket.
package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"pairchat/backend/internal/apperr"
	"pairchat/backend/internal/blob"
	"pairchat/backend/internal/chathub"
	"pairchat/backend/internal/config"
	"pairchat/backend/internal/lifecycle"
	"pairchat/backend/internal/logger"
	"pairchat/backend/internal/matcher"
	"pairchat/backend/internal/ratelimit"
	"pairchat/backend/internal/relay"
)

// Handler holds the services behind the HTTP routes.
type Handler struct {
	Hub       *chathub.ManagerService
	Matcher   *matcher.Service
	Relay     *relay.Service
	Lifecycle *lifecycle.Service
	Blobs     *blob.Store
	Limiter   *ratelimit.Limiter
	Auth      *Authenticator
	Config    *config.Config
	log       *slog.Logger
}

func NewHandler(
	cfg *config.Config,
	hub *chathub.ManagerService,
	m *matcher.Service,
	r *relay.Service,
	lc *lifecycle.Service,
	blobs *blob.Store,
	limiter *ratelimit.Limiter,
) *Handler {
	return &Handler{
		Hub:       hub,
		Matcher:   m,
		Relay:     r,
		Lifecycle: lc,
		Blobs:     blobs,
		Limiter:   limiter,
		Auth:      NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL),
		Config:    cfg,
		log:       logger.With("component", "http"),
	}
}

// Router builds the gin engine with every route registered.
func (h *Handler) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), h.requestLogger())

	r.GET("/anonid", h.GetAnonID)
	r.GET("/blobs/*key", h.ServeBlob)

	authed := r.Group("/", h.RequireAuth())
	{
		matchLimit := h.RateLimit("match", h.Config.RateLimit.MatchPerMinute)
		authed.POST("/match", matchLimit, h.PostMatch)
		authed.GET("/match", h.GetMatch)
		authed.DELETE("/match", h.DeleteMatch)

		authed.GET("/sessions/:id", h.GetSession)
		authed.POST("/sessions/:id/end", h.EndSession)
		authed.POST("/sessions/:id/report", h.ReportSession)

		msgLimit := h.RateLimit("message", h.Config.RateLimit.MessagePerMinute)
		authed.GET("/sessions/:id/messages", h.ListMessages)
		authed.POST("/sessions/:id/messages", msgLimit, h.PostMessage)
		authed.GET("/sessions/:id/attachments", h.ListAttachments)
		authed.POST("/sessions/:id/attachments", msgLimit, h.PostAttachment)

		authed.GET("/ws", h.ServeWebSocket)
	}
	return r
}

func (h *Handler) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		h.log.Debug("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
		)
	}
}

// renderError writes the error envelope for err.
func (h *Handler) renderError(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	status := apperr.HTTPStatus(kind)
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed", "path", c.FullPath(), "err", err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": gin.H{
		"code":    kind,
		"message": apperr.Message(err),
	}})
}

func badRequest(msg string) error {
	return apperr.New(apperr.Validation, msg)
}

func queryInt(c *gin.Context, name string) (int, error) {
	v := c.Query(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, badRequest("invalid " + name)
	}
	return n, nil
}
