package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/ideahub/server/friend"
	mw "github.com/ideahub/server/middleware"
	"go.uber.org/zap"
)

// FriendHandler serves the friend-request endpoints.
type FriendHandler struct {
	svc    *friend.Service
	logger *zap.Logger
}

func NewFriendHandler(svc *friend.Service, logger *zap.Logger) *FriendHandler {
	RegisterValidators()
	return &FriendHandler{svc: svc, logger: logger}
}

type pairRequest struct {
	Requester string `json:"requester" binding:"userid"`
	Recipient string `json:"recipient" binding:"userid"`
}

type respondRequest struct {
	Requester string `json:"requester" binding:"userid"`
	Recipient string `json:"recipient" binding:"userid"`
	Accept    *bool  `json:"accept" binding:"required"`
}

type removeRequest struct {
	UserID   string `json:"userId" binding:"userid"`
	FriendID string `json:"friendId" binding:"userid"`
}

// Create handles POST /friend-requests.
func (h *FriendHandler) Create(c *gin.Context) {
	var req pairRequest
	if !bindJSON(c, &req) || !mw.RequireActor(c, req.Requester) {
		return
	}
	if _, err := h.svc.Create(c.Request.Context(), req.Requester, req.Recipient); err != nil {
		respondError(c, h.logger, err)
		return
	}
	success(c, http.StatusCreated)
}

// Cancel handles DELETE /friend-requests.
func (h *FriendHandler) Cancel(c *gin.Context) {
	var req pairRequest
	if !bindJSON(c, &req) || !mw.RequireActor(c, req.Requester) {
		return
	}
	if err := h.svc.Cancel(c.Request.Context(), req.Requester, req.Recipient); err != nil {
		respondError(c, h.logger, err)
		return
	}
	success(c, http.StatusOK)
}

// ListPending handles GET /friend-requests?userId=X. With a token the
// subject is used when userId is omitted.
func (h *FriendHandler) ListPending(c *gin.Context) {
	userID := c.Query("userId")
	if userID == "" {
		userID = mw.ActorID(c)
	}
	if !mw.RequireActor(c, userID) {
		return
	}
	p, err := h.svc.ListPending(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"incoming": p.Incoming, "outgoing": p.Outgoing})
}

// Respond handles PATCH /friend-requests. Only the recipient may answer.
func (h *FriendHandler) Respond(c *gin.Context) {
	var req respondRequest
	if !bindJSON(c, &req) || !mw.RequireActor(c, req.Recipient) {
		return
	}
	if err := h.svc.Respond(c.Request.Context(), req.Requester, req.Recipient, *req.Accept); err != nil {
		respondError(c, h.logger, err)
		return
	}
	success(c, http.StatusOK)
}

// Remove handles DELETE /friend-requests/remove.
func (h *FriendHandler) Remove(c *gin.Context) {
	var req removeRequest
	if !bindJSON(c, &req) || !mw.RequireActor(c, req.UserID) {
		return
	}
	if err := h.svc.Remove(c.Request.Context(), req.UserID, req.FriendID); err != nil {
		respondError(c, h.logger, err)
		return
	}
	success(c, http.StatusOK)
}
