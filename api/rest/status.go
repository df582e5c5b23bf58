package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
	mw "github.com/ideahub/server/middleware"
	"github.com/ideahub/server/presence"
	"go.uber.org/zap"
)

// StatusHandler serves the heartbeat presence endpoints.
type StatusHandler struct {
	hb       *presence.Heartbeat
	resolver *presence.Resolver
	logger   *zap.Logger
}

func NewStatusHandler(hb *presence.Heartbeat, resolver *presence.Resolver, logger *zap.Logger) *StatusHandler {
	RegisterValidators()
	return &StatusHandler{hb: hb, resolver: resolver, logger: logger}
}

type statusRequest struct {
	UserID string `json:"userId" binding:"userid"`
}

// Update handles POST /status/update.
func (h *StatusHandler) Update(c *gin.Context) {
	var req statusRequest
	if !bindJSON(c, &req) || !mw.RequireActor(c, req.UserID) {
		return
	}
	if err := h.hb.Touch(c.Request.Context(), req.UserID); err != nil {
		respondError(c, h.logger, err)
		return
	}
	success(c, http.StatusOK)
}

// Offline handles POST /status/offline.
func (h *StatusHandler) Offline(c *gin.Context) {
	var req statusRequest
	if !bindJSON(c, &req) || !mw.RequireActor(c, req.UserID) {
		return
	}
	if err := h.hb.SetOffline(c.Request.Context(), req.UserID); err != nil {
		respondError(c, h.logger, err)
		return
	}
	success(c, http.StatusOK)
}

// Check handles POST /status/check. Any user's status may be read.
func (h *StatusHandler) Check(c *gin.Context) {
	var req statusRequest
	if !bindJSON(c, &req) {
		return
	}
	st, err := h.resolver.Status(c.Request.Context(), req.UserID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, st)
}
