package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/ideahub/server/api"
	"github.com/ideahub/server/api/rest"
	"github.com/ideahub/server/api/sse"
	apiws "github.com/ideahub/server/api/ws"
	"github.com/ideahub/server/audit"
	"github.com/ideahub/server/broadcast"
	"github.com/ideahub/server/cache"
	"github.com/ideahub/server/config"
	"github.com/ideahub/server/friend"
	"github.com/ideahub/server/presence"
	"github.com/ideahub/server/scheduler"
	"github.com/ideahub/server/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const AdminKey = "integration-admin-key"

// Options customise a TestServer. Zero values give a standalone anonymous
// instance with its own database and local cache.
type Options struct {
	Security config.SecurityConfig
	// Shared infrastructure for multi-instance tests.
	DB     *gorm.DB
	Cache  cache.Cache
	PubSub cache.PubSub
	// NodeID enables the presence mirror under that id.
	NodeID string
}

// TestServer wraps a real HTTP server with every subsystem wired together.
// It mirrors the dependency wiring in main.go.
type TestServer struct {
	DB      *gorm.DB
	Cache   cache.Cache
	PubSub  cache.PubSub
	Tracker *presence.Tracker
	Hub     *apiws.Hub
	Audit   *audit.Service
	Server  *httptest.Server
	URL     string // http://127.0.0.1:<port>
	WSURL   string // ws://127.0.0.1:<port>/ws
	Sec     config.SecurityConfig

	mirror    *presence.Mirror
	sched     *scheduler.Scheduler
	cancel    context.CancelFunc
	relayDone chan struct{}
	closeOnce sync.Once
}

func NewTestServer(t *testing.T) *TestServer {
	return NewTestServerWith(t, Options{})
}

func NewTestServerWith(t *testing.T, opts Options) *TestServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()

	db := opts.DB
	if db == nil {
		db = testutil.SetupTestDB(t)
	}
	c, pubsub := opts.Cache, opts.PubSub
	if c == nil || pubsub == nil {
		c, pubsub = testutil.SetupTestCache(t)
	}

	sec := opts.Security
	sec.RateLimitRPS = 1000
	sec.RateLimitBurst = 2000
	cfg := &config.Config{
		Server:   config.ServerConfig{AdminKey: AdminKey},
		Security: sec,
	}

	ctx, cancel := context.WithCancel(context.Background())

	var mirror *presence.Mirror
	if opts.NodeID != "" {
		mirror = presence.NewMirror(c, opts.NodeID, time.Minute, logger)
		require.NoError(t, mirror.Join(ctx))
	}
	b := broadcast.New(pubsub, mirror, logger)
	tracker := presence.NewTracker(b, mirror, logger)
	hb := presence.NewHeartbeat(db, presence.DefaultOnlineThreshold)
	resolver := presence.NewResolver(tracker, hb, logger)
	auditSvc := audit.New(db, logger, audit.Options{FlushInterval: 20 * time.Millisecond})
	friends := friend.NewService(db, c, b, auditSvc, logger)
	sched := scheduler.New(logger)

	hub := apiws.NewHub(logger)
	relay, err := broadcast.NewRelay(ctx, pubsub, hub, logger)
	require.NoError(t, err)
	relayDone := make(chan struct{})
	go func() {
		_ = relay.Run(ctx)
		close(relayDone)
	}()

	wsRouter := apiws.NewRouter(logger)
	ph := apiws.NewPresenceHandlers(hb, tracker, b, logger)
	ph.RegisterHandlers(wsRouter)

	engine := api.NewEngine(cfg, api.Handlers{
		Health:  rest.NewHealthHandler(db),
		Users:   rest.NewUserHandler(db, friends, resolver, logger),
		Friends: rest.NewFriendHandler(friends, logger),
		Status:  rest.NewStatusHandler(hb, resolver, logger),
		Admin:   rest.NewAdminHandler(tracker, hub, sched, auditSvc, logger),
		WS:      apiws.NewHandler(sec, tracker, hub, ph, wsRouter, logger),
		SSE:     sse.NewHandler(pubsub, 0, logger),
	}, logger)

	server := httptest.NewServer(engine)
	ts := &TestServer{
		DB:        db,
		Cache:     c,
		PubSub:    pubsub,
		Tracker:   tracker,
		Hub:       hub,
		Audit:     auditSvc,
		Server:    server,
		URL:       server.URL,
		WSURL:     "ws" + server.URL[len("http"):] + "/ws",
		Sec:       sec,
		mirror:    mirror,
		sched:     sched,
		cancel:    cancel,
		relayDone: relayDone,
	}
	t.Cleanup(ts.Close)
	return ts
}

// Close shuts down the test server and its background workers.
func (ts *TestServer) Close() {
	ts.closeOnce.Do(func() {
		ts.Hub.CloseAll()
		ts.Server.Close()
		ts.cancel()
		<-ts.relayDone
		ts.sched.Stop()
		ts.Audit.Stop(context.Background())
		if ts.mirror != nil {
			_ = ts.mirror.Leave(context.Background())
		}
	})
}

// --- HTTP helpers ---

// Do sends a request with an optional JSON body and Bearer token.
func (ts *TestServer) Do(t *testing.T, method, path string, body interface{}, token string) *http.Response {
	t.Helper()
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		bodyReader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, ts.URL+path, bodyReader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

// Admin sends a request to an admin endpoint with the admin key.
func (ts *TestServer) Admin(t *testing.T, method, path string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, ts.URL+"/admin"+path, nil)
	require.NoError(t, err)
	req.Header.Set("X-Admin-Key", AdminKey)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func (ts *TestServer) PostJSON(t *testing.T, path string, body interface{}, token string) *http.Response {
	t.Helper()
	return ts.Do(t, http.MethodPost, path, body, token)
}

func (ts *TestServer) Get(t *testing.T, path string, token string) *http.Response {
	t.Helper()
	return ts.Do(t, http.MethodGet, path, nil, token)
}

// Expect sends a request, asserts the status and closes the body.
func (ts *TestServer) Expect(t *testing.T, status int, method, path string, body interface{}, token string) {
	t.Helper()
	resp := ts.Do(t, method, path, body, token)
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	require.Equal(t, status, resp.StatusCode, "%s %s: %s", method, path, string(data))
}

// ReadJSON reads and decodes a JSON response body into the given target.
func ReadJSON(t *testing.T, resp *http.Response, target interface{}) {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, target), "body: %s", string(data))
}

// CreateUser registers a user through the API and returns its id.
func (ts *TestServer) CreateUser(t *testing.T, username string) string {
	t.Helper()
	resp := ts.PostJSON(t, "/users", map[string]string{
		"username": username,
		"password": username + "-pass",
	}, "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var result map[string]interface{}
	ReadJSON(t, resp, &result)
	return result["id"].(string)
}

// --- WebSocket client ---

// WSClient wraps a gorilla/websocket connection for integration testing.
// A background readLoop feeds a channel so waits can time out without
// touching the connection's read deadline.
type WSClient struct {
	Conn   *websocket.Conn
	t      *testing.T
	seq    uint64
	readCh chan readResult
}

type readResult struct {
	data []byte
	err  error
}

// Packet is a decoded server message.
type Packet struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// ConnectWS dials /ws for userID, with an optional token.
func (ts *TestServer) ConnectWS(t *testing.T, userID, token string) *WSClient {
	t.Helper()
	url := ts.WSURL + "?userId=" + userID
	if token != "" {
		url += "&token=" + token
	}
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	require.NoError(t, err, "WS dial failed")
	wc := &WSClient{Conn: conn, t: t, readCh: make(chan readResult, 256)}
	go wc.readLoop()
	t.Cleanup(wc.Close)
	return wc
}

func (wc *WSClient) readLoop() {
	for {
		_, data, err := wc.Conn.ReadMessage()
		wc.readCh <- readResult{data, err}
		if err != nil {
			return
		}
	}
}

// Send writes a sequenced packet.
func (wc *WSClient) Send(msgType string, payload interface{}) {
	wc.t.Helper()
	seq := atomic.AddUint64(&wc.seq, 1)
	payloadJSON, err := json.Marshal(payload)
	require.NoError(wc.t, err)
	data, err := json.Marshal(map[string]interface{}{
		"seq":     seq,
		"type":    msgType,
		"payload": json.RawMessage(payloadJSON),
	})
	require.NoError(wc.t, err)
	require.NoError(wc.t, wc.Conn.WriteMessage(websocket.TextMessage, data))
}

// RecvAny returns the next packet or an error on timeout or read failure.
func (wc *WSClient) RecvAny(timeout time.Duration) (*Packet, error) {
	select {
	case res := <-wc.readCh:
		if res.err != nil {
			return nil, res.err
		}
		var pkt Packet
		if err := json.Unmarshal(res.data, &pkt); err != nil {
			return nil, err
		}
		return &pkt, nil
	case <-time.After(timeout):
		return nil, fmt.Errorf("read timeout after %s", timeout)
	}
}

// RecvMatch reads until a packet of msgType satisfies match.
func (wc *WSClient) RecvMatch(msgType string, timeout time.Duration, match func(*Packet) bool) *Packet {
	wc.t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			wc.t.Fatalf("timed out waiting for message type %q", msgType)
		}
		pkt, err := wc.RecvAny(remaining)
		if err != nil {
			wc.t.Fatalf("WS recv failed while waiting for %q: %v", msgType, err)
		}
		if pkt.Type == msgType && (match == nil || match(pkt)) {
			return pkt
		}
	}
}

// RecvType reads messages until one with the given type arrives.
func (wc *WSClient) RecvType(msgType string, timeout time.Duration) *Packet {
	wc.t.Helper()
	return wc.RecvMatch(msgType, timeout, nil)
}

// RecvOnline waits for a users-online message that contains every id.
func (wc *WSClient) RecvOnline(timeout time.Duration, ids ...string) []string {
	wc.t.Helper()
	var got []string
	wc.RecvMatch(broadcast.TypeUsersOnline, timeout, func(p *Packet) bool {
		got = nil
		if json.Unmarshal(p.Payload, &got) != nil {
			return false
		}
		set := make(map[string]bool, len(got))
		for _, id := range got {
			set[id] = true
		}
		for _, id := range ids {
			if !set[id] {
				return false
			}
		}
		return true
	})
	return got
}

// NoMessage asserts that no message of msgType arrives within d.
func (wc *WSClient) NoMessage(msgType string, d time.Duration) {
	wc.t.Helper()
	deadline := time.Now().Add(d)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return
		}
		pkt, err := wc.RecvAny(remaining)
		if err != nil {
			return
		}
		if pkt.Type == msgType {
			wc.t.Fatalf("unexpected %q message: %s", msgType, string(pkt.Payload))
		}
	}
}

func (wc *WSClient) Close() {
	_ = wc.Conn.Close()
}

var testCounter uint64

// UniqueID returns a short unique string suitable for usernames.
func UniqueID(prefix string) string {
	n := atomic.AddUint64(&testCounter, 1)
	return fmt.Sprintf("%s_%d", prefix, n)
}
