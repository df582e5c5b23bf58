package rest_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ideahub/server/api/rest"
	"github.com/ideahub/server/audit"
	"github.com/ideahub/server/config"
	"github.com/ideahub/server/friend"
	mw "github.com/ideahub/server/middleware"
	"github.com/ideahub/server/presence"
	"github.com/ideahub/server/scheduler"
	"github.com/ideahub/server/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const testSecret = "rest-test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

type restEnv struct {
	r       *gin.Engine
	db      *gorm.DB
	tracker *presence.Tracker
	audit   *audit.Service
	sched   *scheduler.Scheduler
	kicker  *fakeKicker
	friends *friend.Service
}

// fakeKicker stands in for the WebSocket hub.
type fakeKicker struct {
	conns map[string]int
}

func (k *fakeKicker) CloseUser(userID string) int {
	n := k.conns[userID]
	delete(k.conns, userID)
	return n
}

func (k *fakeKicker) Count() int {
	total := 0
	for _, n := range k.conns {
		total += n
	}
	return total
}

func newRestEnv(t *testing.T, sec config.SecurityConfig, adminKey string) *restEnv {
	t.Helper()
	db := testutil.SetupTestDB(t)
	c, _ := testutil.SetupTestCache(t)
	logger := zap.NewNop()

	tracker := presence.NewTracker(nil, nil, logger)
	hb := presence.NewHeartbeat(db, 5*time.Minute)
	resolver := presence.NewResolver(tracker, hb, logger)
	auditSvc := audit.New(db, logger, audit.Options{FlushInterval: 10 * time.Millisecond})
	t.Cleanup(func() { auditSvc.Stop(context.Background()) })
	sched := scheduler.New(logger)
	t.Cleanup(sched.Stop)
	friends := friend.NewService(db, c, nil, auditSvc, logger)
	kicker := &fakeKicker{conns: map[string]int{}}

	userH := rest.NewUserHandler(db, friends, resolver, logger)
	friendH := rest.NewFriendHandler(friends, logger)
	statusH := rest.NewStatusHandler(hb, resolver, logger)
	adminH := rest.NewAdminHandler(tracker, kicker, sched, auditSvc, logger)

	r := gin.New()
	r.Use(mw.TraceID())
	r.GET("/health", rest.NewHealthHandler(db).Health)
	r.POST("/users", userH.Create)

	authed := r.Group("", mw.Auth(sec))
	authed.GET("/users/:id", userH.Get)
	authed.GET("/users/:id/friends", userH.Friends)
	authed.POST("/friend-requests", friendH.Create)
	authed.DELETE("/friend-requests", friendH.Cancel)
	authed.GET("/friend-requests", friendH.ListPending)
	authed.PATCH("/friend-requests", friendH.Respond)
	authed.DELETE("/friend-requests/remove", friendH.Remove)
	authed.POST("/status/update", statusH.Update)
	authed.POST("/status/offline", statusH.Offline)
	authed.POST("/status/check", statusH.Check)

	admin := r.Group("/admin", rest.AdminAuth(adminKey))
	admin.GET("/metrics", adminH.Metrics)
	admin.GET("/online", adminH.Online)
	admin.POST("/kick/:userId", adminH.Kick)
	admin.GET("/scheduler", adminH.ListSchedulerTasks)
	admin.GET("/audit", adminH.RecentAudit)

	return &restEnv{r: r, db: db, tracker: tracker, audit: auditSvc, sched: sched, kicker: kicker, friends: friends}
}

// do sends a request with an optional JSON body. headers are key/value pairs.
func (e *restEnv) do(method, path string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	e.r.ServeHTTP(w, req)
	return w
}

func bearer(t *testing.T, userID string) []string {
	t.Helper()
	tok, err := mw.GenerateToken(userID, testSecret, time.Hour)
	require.NoError(t, err)
	return []string{"Authorization", "Bearer " + tok}
}

func decode(t *testing.T, w *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), dst), "body: %s", w.Body.String())
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	decode(t, w, &body)
	return body.Error.Code
}
