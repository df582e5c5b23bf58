package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/ideahub/server/apperr"
	"github.com/ideahub/server/broadcast"
	"github.com/ideahub/server/config"
	"github.com/ideahub/server/presence"
	mw "github.com/ideahub/server/middleware"
	"go.uber.org/zap"
)

// Handler is the Gin handler for GET /ws.
type Handler struct {
	sec      config.SecurityConfig
	tracker  *presence.Tracker
	hub      *Hub
	presence *PresenceHandlers
	router   *Router
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewHandler creates a WebSocket Handler. sec.AllowedOrigins controls which
// origins may connect; an empty slice permits all (development only).
func NewHandler(sec config.SecurityConfig, tracker *presence.Tracker, hub *Hub, ph *PresenceHandlers, router *Router, logger *zap.Logger) *Handler {
	h := &Handler{
		sec:      sec,
		tracker:  tracker,
		hub:      hub,
		presence: ph,
		router:   router,
		logger:   logger,
	}
	allowed := sec.AllowedOrigins
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowed) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, o := range allowed {
				if o == origin {
					return true
				}
			}
			return false
		},
	}
	return h
}

// identify resolves the connecting user from the query and, when a JWT
// secret is configured, the bearer token. It writes the error response
// itself and returns "" on failure.
func (h *Handler) identify(c *gin.Context) string {
	userID := c.Query("userId")
	if h.sec.JWTSecret != "" {
		tokenStr := mw.BearerToken(c)
		if tokenStr == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": gin.H{"code": "unauthorized", "message": "missing token"}})
			return ""
		}
		claims, err := mw.ParseToken(tokenStr, h.sec.JWTSecret)
		if err != nil || claims.Subject == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": gin.H{"code": "unauthorized", "message": "invalid token"}})
			return ""
		}
		if userID == "" {
			userID = claims.Subject
		} else if userID != claims.Subject {
			mw.AbortWithError(c, apperr.ErrForbidden)
			return ""
		}
	}
	if userID == "" {
		mw.AbortWithError(c, apperr.ErrEmptyUserID)
		return ""
	}
	return userID
}

// ServeWS handles GET /ws?userId=<id>[&token=<jwt>].
func (h *Handler) ServeWS(c *gin.Context) {
	userID := h.identify(c)
	if userID == "" {
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", zap.String("user_id", userID), zap.Error(err))
		return
	}

	ctx := c.Request.Context()
	handle, err := h.tracker.Connect(ctx, userID)
	if err != nil {
		h.logger.Error("presence connect failed", zap.String("user_id", userID), zap.Error(err))
		_ = conn.Close()
		return
	}

	client := NewClient(handle, userID, conn, h.logger)
	client.IP = c.ClientIP()
	h.hub.Register(client)
	h.logger.Info("client connected",
		zap.String("user_id", userID),
		zap.String("handle", string(handle)))

	client.Send(broadcast.TypeUsersOnline, h.presence.onlineSet(ctx))

	h.readPump(client)
}

// readPump reads until the connection fails or is closed, then disconnects.
func (h *Handler) readPump(cl *Client) {
	defer h.handleDisconnect(cl)

	cl.SetReadDeadline()
	cl.Conn.SetPongHandler(func(string) error {
		cl.SetReadDeadline()
		return nil
	})

	for {
		_, raw, err := cl.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseNoStatusReceived) {
				h.logger.Warn("ws unexpected close",
					zap.String("user_id", cl.UserID),
					zap.Error(err))
			}
			return
		}
		cl.SetReadDeadline()
		h.router.Dispatch(cl, raw)
	}
}

func (h *Handler) handleDisconnect(cl *Client) {
	cl.Close()
	h.hub.Unregister(cl.Handle)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, offline := h.tracker.Disconnect(ctx, cl.Handle)
	h.logger.Info("client disconnected",
		zap.String("user_id", cl.UserID),
		zap.Bool("went_offline", offline))
}
