// Package api assembles the HTTP surface: REST, WebSocket and SSE handlers
// behind the shared middleware chain.
package api

import (
	"github.com/gin-gonic/gin"
	"github.com/ideahub/server/api/rest"
	"github.com/ideahub/server/api/sse"
	apiws "github.com/ideahub/server/api/ws"
	"github.com/ideahub/server/config"
	mw "github.com/ideahub/server/middleware"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Handlers are the endpoint groups mounted by NewEngine.
type Handlers struct {
	Health  *rest.HealthHandler
	Users   *rest.UserHandler
	Friends *rest.FriendHandler
	Status  *rest.StatusHandler
	Admin   *rest.AdminHandler
	WS      *apiws.Handler
	SSE     *sse.Handler
}

// NewEngine builds the gin engine with middleware and every route.
func NewEngine(cfg *config.Config, h Handlers, logger *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(mw.TraceID(), mw.Logger(logger), mw.Recovery(logger))
	if sec := cfg.Security; sec.RateLimitRPS > 0 {
		r.Use(mw.RateLimit(rate.Limit(sec.RateLimitRPS), sec.RateLimitBurst))
	}
	Mount(r, cfg, h)
	return r
}

// Mount registers the routes on r.
func Mount(r gin.IRouter, cfg *config.Config, h Handlers) {
	r.GET("/health", h.Health.Health)

	// The WebSocket handler checks its own token so it can answer before
	// the upgrade with the userId rules.
	r.GET("/ws", h.WS.ServeWS)

	r.POST("/users", h.Users.Create)

	authed := r.Group("", mw.Auth(cfg.Security))
	{
		authed.GET("/events", h.SSE.ServeEvents)

		authed.GET("/users/:id", h.Users.Get)
		authed.GET("/users/:id/friends", h.Users.Friends)

		fr := authed.Group("/friend-requests")
		fr.POST("", h.Friends.Create)
		fr.DELETE("", h.Friends.Cancel)
		fr.GET("", h.Friends.ListPending)
		fr.PATCH("", h.Friends.Respond)
		fr.DELETE("/remove", h.Friends.Remove)

		st := authed.Group("/status")
		st.POST("/update", h.Status.Update)
		st.POST("/offline", h.Status.Offline)
		st.POST("/check", h.Status.Check)
	}

	admin := r.Group("/admin", mw.IPWhitelist(cfg.Security.AdminIPs), rest.AdminAuth(cfg.Server.AdminKey))
	{
		admin.GET("/metrics", h.Admin.Metrics)
		admin.GET("/online", h.Admin.Online)
		admin.POST("/kick/:userId", h.Admin.Kick)
		admin.GET("/scheduler", h.Admin.ListSchedulerTasks)
		admin.GET("/audit", h.Admin.RecentAudit)
	}
}
