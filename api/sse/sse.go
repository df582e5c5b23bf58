package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ideahub/server/apperr"
	"github.com/ideahub/server/broadcast"
	"github.com/ideahub/server/cache"
	mw "github.com/ideahub/server/middleware"
	"go.uber.org/zap"
)

const defaultKeepalive = 30 * time.Second

// Handler streams the shared broadcast channel as Server-Sent Events.
type Handler struct {
	pubsub    cache.PubSub
	keepalive time.Duration
	logger    *zap.Logger
}

// NewHandler creates a new SSE Handler. keepalive <= 0 uses 30s.
func NewHandler(pubsub cache.PubSub, keepalive time.Duration, logger *zap.Logger) *Handler {
	if keepalive <= 0 {
		keepalive = defaultKeepalive
	}
	return &Handler{pubsub: pubsub, keepalive: keepalive, logger: logger}
}

// ServeEvents handles GET /events?userId=X. Mount it behind mw.Auth; with a
// token the subject is used when userId is omitted and must match otherwise.
func (h *Handler) ServeEvents(c *gin.Context) {
	userID := c.Query("userId")
	if userID == "" {
		userID = mw.ActorID(c)
	}
	if userID == "" {
		mw.AbortWithError(c, apperr.ErrEmptyUserID)
		return
	}
	if !mw.RequireActor(c, userID) {
		return
	}

	subCtx, subCancel := context.WithCancel(c.Request.Context())
	defer subCancel()

	msgCh, unsub, err := h.pubsub.Subscribe(subCtx, broadcast.Channel)
	if err != nil {
		h.logger.Error("sse subscribe failed", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{"code": "internal", "message": "internal error"}})
		return
	}
	defer unsub()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	fmt.Fprintf(c.Writer, "event: connected\ndata: {}\n\n")
	c.Writer.Flush()

	ticker := time.NewTicker(h.keepalive)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-msgCh:
			if !ok {
				return
			}
			var env struct {
				Type string `json:"type"`
			}
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil || env.Type == "" {
				h.logger.Warn("sse dropped malformed event", zap.Error(err))
				continue
			}
			fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", env.Type, msg.Payload)
			c.Writer.Flush()

		case <-ticker.C:
			// Keepalive comment to prevent proxy timeouts.
			fmt.Fprintf(c.Writer, ": keepalive\n\n")
			c.Writer.Flush()

		case <-c.Request.Context().Done():
			return
		}
	}
}
