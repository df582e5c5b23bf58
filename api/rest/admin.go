package rest

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ideahub/server/apperr"
	"github.com/ideahub/server/audit"
	mw "github.com/ideahub/server/middleware"
	"github.com/ideahub/server/presence"
	"github.com/ideahub/server/scheduler"
	"go.uber.org/zap"
)

// Kicker closes live connections; satisfied by the WebSocket hub.
type Kicker interface {
	CloseUser(userID string) int
	Count() int
}

// AdminHandler handles admin-only REST endpoints.
// Routes should be protected by AdminAuth middleware.
type AdminHandler struct {
	tracker *presence.Tracker
	kicker  Kicker
	sched   *scheduler.Scheduler
	audit   *audit.Service
	logger  *zap.Logger
}

func NewAdminHandler(tracker *presence.Tracker, kicker Kicker, sched *scheduler.Scheduler, auditSvc *audit.Service, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{tracker: tracker, kicker: kicker, sched: sched, audit: auditSvc, logger: logger}
}

// Metrics returns server health metrics.
// GET /admin/metrics
func (h *AdminHandler) Metrics(c *gin.Context) {
	body := gin.H{
		"online_users":    h.tracker.Count(),
		"connections":     h.tracker.Connections(),
		"ws_clients":      h.kicker.Count(),
		"scheduler_tasks": len(h.sched.List()),
		"mirror_enabled":  h.tracker.Mirror() != nil,
	}
	if m := h.tracker.Mirror(); m != nil {
		body["node_id"] = m.NodeID()
	}
	c.JSON(http.StatusOK, body)
}

// Online returns this instance's online set.
// GET /admin/online
func (h *AdminHandler) Online(c *gin.Context) {
	users := h.tracker.Snapshot()
	c.JSON(http.StatusOK, gin.H{"users": users, "count": len(users)})
}

// Kick closes every live connection of a user on this instance.
// POST /admin/kick/:userId
func (h *AdminHandler) Kick(c *gin.Context) {
	start := time.Now()
	userID := c.Param("userId")
	n := h.kicker.CloseUser(userID)

	var err error
	if n == 0 {
		err = apperr.Missing("not_connected", "user has no live connection")
	}
	if h.audit != nil {
		traceID, ip := audit.RequestFrom(c.Request.Context())
		h.audit.Log(audit.Entry{
			TraceID:   traceID,
			ActorID:   "admin",
			SubjectID: userID,
			Action:    audit.ActionAdminKick,
			Request:   gin.H{"userId": userID},
			Err:       err,
			IP:        ip,
			Duration:  time.Since(start),
		})
	}
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	h.logger.Info("admin kicked user",
		zap.String("user_id", userID),
		zap.Int("connections", n),
		zap.String("trace_id", mw.GetTraceID(c)))
	c.JSON(http.StatusOK, gin.H{"success": true, "closed": n})
}

// ListSchedulerTasks returns the registered background tasks.
// GET /admin/scheduler
func (h *AdminHandler) ListSchedulerTasks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tasks": h.sched.List()})
}

// RecentAudit returns the newest audit entries.
// GET /admin/audit?actorId=&limit=
func (h *AdminHandler) RecentAudit(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	logs, err := h.audit.Recent(c.Request.Context(), c.Query("actorId"), limit)
	if err != nil {
		respondError(c, h.logger, apperr.Wrap(err, "load audit log"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": logs})
}

// AdminAuth returns a middleware that checks the X-Admin-Key header.
// With an empty adminKey every admin endpoint answers 503, so the server
// cannot be deployed with the admin surface unprotected.
func AdminAuth(adminKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if adminKey == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable,
				errorBody("admin_disabled", "admin endpoints disabled: set server.admin_key in config"))
			return
		}
		if c.GetHeader("X-Admin-Key") != adminKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody("unauthorized", "unauthorized"))
			return
		}
		c.Next()
	}
}
