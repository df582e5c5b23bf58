package rest_test

import (
	"net/http"
	"testing"

	"github.com/ideahub/server/config"
	"github.com/ideahub/server/model"
	"github.com/ideahub/server/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pendingBody struct {
	Incoming []model.FriendRequest `json:"incoming"`
	Outgoing []model.FriendRequest `json:"outgoing"`
}

func pair(req, rec string) map[string]string {
	return map[string]string{"requester": req, "recipient": rec}
}

func TestFriendRequest_Create(t *testing.T) {
	e := newRestEnv(t, config.SecurityConfig{}, "")

	w := e.do(http.MethodPost, "/friend-requests", pair("alice", "bob"))
	require.Equal(t, http.StatusCreated, w.Code)
	assert.JSONEq(t, `{"success":true}`, w.Body.String())

	w = e.do(http.MethodPost, "/friend-requests", pair("alice", "bob"))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "request_pending", errorCode(t, w))

	// The reverse direction is a different ordered pair.
	w = e.do(http.MethodPost, "/friend-requests", pair("bob", "alice"))
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestFriendRequest_CreateInvalid(t *testing.T) {
	e := newRestEnv(t, config.SecurityConfig{}, "")

	w := e.do(http.MethodPost, "/friend-requests", pair("alice", "alice"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "self_request", errorCode(t, w))

	w = e.do(http.MethodPost, "/friend-requests", pair("", "bob"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "empty_user_id", errorCode(t, w))

	w = e.do(http.MethodPost, "/friend-requests", pair("al ice", "bob"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_request", errorCode(t, w))
}

func TestFriendRequest_ListPending(t *testing.T) {
	e := newRestEnv(t, config.SecurityConfig{}, "")

	w := e.do(http.MethodGet, "/friend-requests?userId=alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"incoming":[],"outgoing":[]}`, w.Body.String())

	require.Equal(t, http.StatusCreated, e.do(http.MethodPost, "/friend-requests", pair("alice", "bob")).Code)
	require.Equal(t, http.StatusCreated, e.do(http.MethodPost, "/friend-requests", pair("carol", "alice")).Code)

	var body pendingBody
	decode(t, e.do(http.MethodGet, "/friend-requests?userId=alice", nil), &body)
	require.Len(t, body.Outgoing, 1)
	require.Len(t, body.Incoming, 1)
	assert.Equal(t, "bob", body.Outgoing[0].Recipient)
	assert.Equal(t, "carol", body.Incoming[0].Requester)
	assert.Equal(t, model.RequestPending, body.Incoming[0].Status)
}

func TestFriendRequest_Cancel(t *testing.T) {
	e := newRestEnv(t, config.SecurityConfig{}, "")
	require.Equal(t, http.StatusCreated, e.do(http.MethodPost, "/friend-requests", pair("alice", "bob")).Code)

	w := e.do(http.MethodDelete, "/friend-requests", pair("alice", "bob"))
	require.Equal(t, http.StatusOK, w.Code)

	// Cancelling again still succeeds.
	w = e.do(http.MethodDelete, "/friend-requests", pair("alice", "bob"))
	assert.Equal(t, http.StatusOK, w.Code)

	var body pendingBody
	decode(t, e.do(http.MethodGet, "/friend-requests?userId=bob", nil), &body)
	assert.Empty(t, body.Incoming)
}

func TestFriendRequest_CancelSelfPair(t *testing.T) {
	e := newRestEnv(t, config.SecurityConfig{}, "")
	w := e.do(http.MethodDelete, "/friend-requests", pair("alice", "alice"))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestFriendRequest_AcceptAndRemove(t *testing.T) {
	e := newRestEnv(t, config.SecurityConfig{}, "")
	testutil.CreateUser(t, e.db, "alice", "alice")
	testutil.CreateUser(t, e.db, "bob", "bob")
	require.Equal(t, http.StatusCreated, e.do(http.MethodPost, "/friend-requests", pair("alice", "bob")).Code)

	w := e.do(http.MethodPatch, "/friend-requests", map[string]interface{}{
		"requester": "alice", "recipient": "bob", "accept": true,
	})
	require.Equal(t, http.StatusOK, w.Code)

	var friends struct {
		Friends []struct {
			ID       string `json:"id"`
			Username string `json:"username"`
			Online   bool   `json:"online"`
		} `json:"friends"`
	}
	decode(t, e.do(http.MethodGet, "/users/alice/friends", nil), &friends)
	require.Len(t, friends.Friends, 1)
	assert.Equal(t, "bob", friends.Friends[0].ID)
	assert.False(t, friends.Friends[0].Online)

	decode(t, e.do(http.MethodGet, "/users/bob/friends", nil), &friends)
	require.Len(t, friends.Friends, 1)
	assert.Equal(t, "alice", friends.Friends[0].ID)

	w = e.do(http.MethodDelete, "/friend-requests/remove", map[string]string{"userId": "bob", "friendId": "alice"})
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, e.do(http.MethodGet, "/users/alice/friends", nil), &friends)
	assert.Empty(t, friends.Friends)
}

func TestFriendRequest_Reject(t *testing.T) {
	e := newRestEnv(t, config.SecurityConfig{}, "")
	require.Equal(t, http.StatusCreated, e.do(http.MethodPost, "/friend-requests", pair("alice", "bob")).Code)

	w := e.do(http.MethodPatch, "/friend-requests", map[string]interface{}{
		"requester": "alice", "recipient": "bob", "accept": false,
	})
	require.Equal(t, http.StatusOK, w.Code)

	var fr model.FriendRequest
	require.NoError(t, e.db.Where("requester = ? AND recipient = ?", "alice", "bob").First(&fr).Error)
	assert.Equal(t, model.RequestRejected, fr.Status)
}

func TestFriendRequest_RespondWithoutAcceptKeepsPending(t *testing.T) {
	e := newRestEnv(t, config.SecurityConfig{}, "")
	require.Equal(t, http.StatusCreated, e.do(http.MethodPost, "/friend-requests", pair("alice", "bob")).Code)

	w := e.do(http.MethodPatch, "/friend-requests", pair("alice", "bob"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_request", errorCode(t, w))

	var fr model.FriendRequest
	require.NoError(t, e.db.Where("requester = ? AND recipient = ?", "alice", "bob").First(&fr).Error)
	assert.Equal(t, model.RequestPending, fr.Status)
}

func TestFriendRequest_RespondMissing(t *testing.T) {
	e := newRestEnv(t, config.SecurityConfig{}, "")
	w := e.do(http.MethodPatch, "/friend-requests", map[string]interface{}{
		"requester": "alice", "recipient": "bob", "accept": true,
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "request_not_found", errorCode(t, w))
}

func TestFriendRequest_RemoveSelf(t *testing.T) {
	e := newRestEnv(t, config.SecurityConfig{}, "")
	w := e.do(http.MethodDelete, "/friend-requests/remove", map[string]string{"userId": "alice", "friendId": "alice"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestFriendRequest_AuthContract(t *testing.T) {
	e := newRestEnv(t, config.SecurityConfig{JWTSecret: testSecret}, "")

	w := e.do(http.MethodPost, "/friend-requests", pair("alice", "bob"))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = e.do(http.MethodPost, "/friend-requests", pair("alice", "bob"), bearer(t, "mallory")...)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = e.do(http.MethodPost, "/friend-requests", pair("alice", "bob"), bearer(t, "alice")...)
	require.Equal(t, http.StatusCreated, w.Code)

	// Only the recipient may answer.
	respond := map[string]interface{}{"requester": "alice", "recipient": "bob", "accept": false}
	w = e.do(http.MethodPatch, "/friend-requests", respond, bearer(t, "alice")...)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = e.do(http.MethodPatch, "/friend-requests", respond, bearer(t, "bob")...)
	assert.Equal(t, http.StatusOK, w.Code)

	w = e.do(http.MethodGet, "/friend-requests?userId=bob", nil, bearer(t, "alice")...)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestFriendRequest_ListPendingDefaultsToTokenSubject(t *testing.T) {
	e := newRestEnv(t, config.SecurityConfig{JWTSecret: testSecret}, "")
	w := e.do(http.MethodPost, "/friend-requests", pair("alice", "bob"), bearer(t, "alice")...)
	require.Equal(t, http.StatusCreated, w.Code)

	var body pendingBody
	decode(t, e.do(http.MethodGet, "/friend-requests", nil, bearer(t, "bob")...), &body)
	require.Len(t, body.Incoming, 1)
	assert.Equal(t, "alice", body.Incoming[0].Requester)
}

func TestFriendRequest_ListPendingWithoutUserID(t *testing.T) {
	e := newRestEnv(t, config.SecurityConfig{}, "")
	w := e.do(http.MethodGet, "/friend-requests", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "empty_user_id", errorCode(t, w))
}
