package rest

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/ideahub/server/apperr"
	"github.com/ideahub/server/friend"
	"github.com/ideahub/server/model"
	"github.com/ideahub/server/presence"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// UserHandler serves user creation and public profile reads.
type UserHandler struct {
	db       *gorm.DB
	friends  *friend.Service
	resolver *presence.Resolver
	logger   *zap.Logger
}

func NewUserHandler(db *gorm.DB, friends *friend.Service, resolver *presence.Resolver, logger *zap.Logger) *UserHandler {
	RegisterValidators()
	return &UserHandler{db: db, friends: friends, resolver: resolver, logger: logger}
}

type createUserRequest struct {
	Username    string `json:"username" binding:"required,username"`
	Password    string `json:"password" binding:"required,min=4,max=64"`
	DisplayName string `json:"displayName" binding:"max=64"`
	Email       string `json:"email" binding:"omitempty,email"`
	AvatarURL   string `json:"avatarUrl" binding:"omitempty,url"`
	Bio         string `json:"bio" binding:"max=500"`
}

// profileView is a public profile with its resolved presence.
type profileView struct {
	model.Profile
	Online bool `json:"online"`
}

// Create handles POST /users.
func (h *UserHandler) Create(c *gin.Context) {
	var req createUserRequest
	if !bindJSON(c, &req) {
		return
	}
	req.Username = strings.TrimSpace(req.Username)

	ctx := c.Request.Context()
	var taken int64
	if err := h.db.WithContext(ctx).Model(&model.User{}).Where("username = ?", req.Username).Count(&taken).Error; err != nil {
		respondError(c, h.logger, apperr.Wrap(err, "check username"))
		return
	}
	if taken > 0 {
		respondError(c, h.logger, apperr.ErrUsernameTaken)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		respondError(c, h.logger, apperr.Wrap(err, "hash password"))
		return
	}
	display := req.DisplayName
	if display == "" {
		display = req.Username
	}
	u := &model.User{
		ID:           uuid.NewString(),
		Username:     req.Username,
		DisplayName:  display,
		Email:        req.Email,
		AvatarURL:    req.AvatarURL,
		Bio:          req.Bio,
		PasswordHash: string(hash),
	}
	if err := h.db.WithContext(ctx).Create(u).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			respondError(c, h.logger, apperr.ErrUsernameTaken)
			return
		}
		respondError(c, h.logger, apperr.Wrap(err, "create user"))
		return
	}
	c.JSON(http.StatusCreated, u.Profile())
}

// Get handles GET /users/:id.
func (h *UserHandler) Get(c *gin.Context) {
	ctx := c.Request.Context()
	var u model.User
	err := h.db.WithContext(ctx).Where("id = ?", c.Param("id")).Take(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		respondError(c, h.logger, apperr.ErrUserNotFound)
		return
	}
	if err != nil {
		respondError(c, h.logger, apperr.Wrap(err, "load user"))
		return
	}
	st, err := h.resolver.Status(ctx, u.ID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, profileView{Profile: u.Profile(), Online: st.IsOnline})
}

// Friends handles GET /users/:id/friends.
func (h *UserHandler) Friends(c *gin.Context) {
	ctx := c.Request.Context()
	profiles, err := h.friends.ListFriends(ctx, c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	ids := make([]string, len(profiles))
	for i, p := range profiles {
		ids[i] = p.ID
	}
	online, err := h.resolver.OnlineAmong(ctx, ids)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	out := make([]profileView, len(profiles))
	for i, p := range profiles {
		out[i] = profileView{Profile: p, Online: online[p.ID]}
	}
	c.JSON(http.StatusOK, gin.H{"friends": out})
}
