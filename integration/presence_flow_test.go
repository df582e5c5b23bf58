package integration

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/ideahub/server/broadcast"
	"github.com/ideahub/server/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const recvTimeout = 3 * time.Second

func offlineOf(userID string) func(*Packet) bool {
	return func(p *Packet) bool {
		var body broadcast.OfflinePayload
		return json.Unmarshal(p.Payload, &body) == nil && body.UserID == userID
	}
}

func checkStatus(t *testing.T, ts *TestServer, userID string) bool {
	t.Helper()
	resp := ts.PostJSON(t, "/status/check", map[string]string{"userId": userID}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var st struct {
		IsOnline bool `json:"isOnline"`
	}
	ReadJSON(t, resp, &st)
	return st.IsOnline
}

func TestPresence_OnlineAndOfflineBroadcast(t *testing.T) {
	ts := NewTestServer(t)

	alice := ts.ConnectWS(t, "alice", "")
	got := alice.RecvOnline(recvTimeout, "alice")
	assert.Equal(t, []string{"alice"}, got)

	bob := ts.ConnectWS(t, "bob", "")
	bob.RecvOnline(recvTimeout, "alice", "bob")
	got = alice.RecvOnline(recvTimeout, "alice", "bob")
	assert.Equal(t, []string{"alice", "bob"}, got)

	bob.Close()
	alice.RecvMatch(broadcast.TypeUserOffline, recvTimeout, offlineOf("bob"))
	assert.Eventually(t, func() bool { return !ts.Tracker.IsOnline("bob") }, recvTimeout, 10*time.Millisecond)
	assert.True(t, ts.Tracker.IsOnline("alice"))
}

func TestPresence_SecondTabDoesNotGoOffline(t *testing.T) {
	ts := NewTestServer(t)

	watcher := ts.ConnectWS(t, "watcher", "")
	watcher.RecvOnline(recvTimeout, "watcher")

	tab1 := ts.ConnectWS(t, "carol", "")
	tab2 := ts.ConnectWS(t, "carol", "")
	tab1.RecvOnline(recvTimeout, "carol")
	tab2.RecvOnline(recvTimeout, "carol")
	watcher.RecvOnline(recvTimeout, "carol")

	tab1.Close()
	watcher.NoMessage(broadcast.TypeUserOffline, 300*time.Millisecond)
	assert.True(t, ts.Tracker.IsOnline("carol"))

	tab2.Close()
	watcher.RecvMatch(broadcast.TypeUserOffline, recvTimeout, offlineOf("carol"))
}

func TestPresence_SnapshotRequest(t *testing.T) {
	ts := NewTestServer(t)

	ws := ts.ConnectWS(t, "dave", "")
	ws.RecvOnline(recvTimeout, "dave")

	ws.Send("snapshot", map[string]interface{}{})
	got := ws.RecvOnline(recvTimeout, "dave")
	assert.Equal(t, []string{"dave"}, got)
}

func TestPresence_StatusFollowsConnection(t *testing.T) {
	ts := NewTestServer(t)
	id := ts.CreateUser(t, UniqueID("erin"))

	assert.False(t, checkStatus(t, ts, id))

	ws := ts.ConnectWS(t, id, "")
	ws.RecvOnline(recvTimeout, id)
	assert.True(t, checkStatus(t, ts, id))

	ws.Close()
	assert.Eventually(t, func() bool { return !checkStatus(t, ts, id) }, recvTimeout, 20*time.Millisecond)
}

func TestPresence_HeartbeatFallback(t *testing.T) {
	ts := NewTestServer(t)
	id := ts.CreateUser(t, UniqueID("frank"))

	ts.Expect(t, http.StatusOK, http.MethodPost, "/status/update", map[string]string{"userId": id}, "")
	assert.True(t, checkStatus(t, ts, id))

	ts.Expect(t, http.StatusOK, http.MethodPost, "/status/offline", map[string]string{"userId": id}, "")
	assert.False(t, checkStatus(t, ts, id))

	ts.Expect(t, http.StatusNotFound, http.MethodPost, "/status/update", map[string]string{"userId": "nobody"}, "")
}

func TestPresence_WSHeartbeatTouchesRecord(t *testing.T) {
	ts := NewTestServer(t)
	testutil.CreateUser(t, ts.DB, "gina", "gina")

	ws := ts.ConnectWS(t, "gina", "")
	ws.RecvOnline(recvTimeout, "gina")

	ws.Send("heartbeat", map[string]int64{"ts": 42})
	pong := ws.RecvType("pong", recvTimeout)
	var body map[string]int64
	require.NoError(t, json.Unmarshal(pong.Payload, &body))
	assert.Equal(t, int64(42), body["client_ts"])
	assert.NotZero(t, body["server_ts"])

	ws.Close()
	assert.Eventually(t, func() bool { return !ts.Tracker.IsOnline("gina") }, recvTimeout, 10*time.Millisecond)
	// The heartbeat keeps the user online after the socket is gone.
	assert.True(t, checkStatus(t, ts, "gina"))
}

func TestPresence_WSHeartbeatWithoutRecord(t *testing.T) {
	ts := NewTestServer(t)

	ws := ts.ConnectWS(t, "guest", "")
	ws.RecvOnline(recvTimeout, "guest")

	ws.Send("heartbeat", map[string]int64{"ts": 1})
	pkt := ws.RecvType("error", recvTimeout)
	var body struct {
		Type string `json:"type"`
		Code string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(pkt.Payload, &body))
	assert.Equal(t, "heartbeat", body.Type)
	assert.Equal(t, "user_not_found", body.Code)
	// The connection itself still counts.
	assert.True(t, ts.Tracker.IsOnline("guest"))
}

func TestPresence_EmptyUserIDRejected(t *testing.T) {
	ts := NewTestServer(t)
	resp := ts.Get(t, "/ws", "")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAdmin_KickClosesConnections(t *testing.T) {
	ts := NewTestServer(t)

	watcher := ts.ConnectWS(t, "watcher", "")
	watcher.RecvOnline(recvTimeout, "watcher")
	target := ts.ConnectWS(t, "target", "")
	target.RecvOnline(recvTimeout, "target")

	resp := ts.Admin(t, http.MethodPost, "/kick/target")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var kicked struct {
		Closed int `json:"closed"`
	}
	ReadJSON(t, resp, &kicked)
	assert.Equal(t, 1, kicked.Closed)

	watcher.RecvMatch(broadcast.TypeUserOffline, recvTimeout, offlineOf("target"))

	resp = ts.Admin(t, http.MethodPost, "/kick/target")
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = ts.Admin(t, http.MethodGet, "/online")
	var online struct {
		Users []string `json:"users"`
		Count int      `json:"count"`
	}
	ReadJSON(t, resp, &online)
	assert.Equal(t, []string{"watcher"}, online.Users)
	assert.Equal(t, 1, online.Count)

	assert.Eventually(t, func() bool {
		resp := ts.Admin(t, http.MethodGet, "/audit?actorId=admin")
		var body struct {
			Entries []json.RawMessage `json:"entries"`
		}
		ReadJSON(t, resp, &body)
		return len(body.Entries) == 2
	}, recvTimeout, 50*time.Millisecond)
}

func TestAdmin_RequiresKey(t *testing.T) {
	ts := NewTestServer(t)
	resp := ts.Get(t, "/admin/metrics", "")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCluster_MirrorSharesOnlineSet(t *testing.T) {
	db := testutil.SetupTestDB(t)
	c, ps := testutil.SetupTestCache(t)
	nodeA := NewTestServerWith(t, Options{DB: db, Cache: c, PubSub: ps, NodeID: "node-a"})
	nodeB := NewTestServerWith(t, Options{DB: db, Cache: c, PubSub: ps, NodeID: "node-b"})

	alice := nodeA.ConnectWS(t, "alice", "")
	alice.RecvOnline(recvTimeout, "alice")

	// Bob's first snapshot on B already includes alice from A.
	bob := nodeB.ConnectWS(t, "bob", "")
	got := bob.RecvOnline(recvTimeout, "alice", "bob")
	assert.Equal(t, []string{"alice", "bob"}, got)
	alice.RecvOnline(recvTimeout, "alice", "bob")

	// Alice opens a second tab on B, then closes the one on A.
	aliceB := nodeB.ConnectWS(t, "alice", "")
	aliceB.RecvOnline(recvTimeout, "alice", "bob")
	alice.Close()
	bob.NoMessage(broadcast.TypeUserOffline, 300*time.Millisecond)
	assert.False(t, nodeA.Tracker.IsOnline("alice"))
	assert.True(t, checkStatus(t, nodeA, "alice"))

	aliceB.Close()
	bob.RecvMatch(broadcast.TypeUserOffline, recvTimeout, offlineOf("alice"))
}
