package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ideahub/server/broadcast"
	"github.com/ideahub/server/presence"
	"go.uber.org/zap"
)

const (
	sendChanBuf   = 256
	writeDeadline = 10 * time.Second
	readDeadline  = 60 * time.Second
	pingInterval  = 30 * time.Second
)

// Packet is the client → server envelope. Seq 0 disables replay checks.
type Packet struct {
	Seq     uint64          `json:"seq"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Client is one live WebSocket connection.
type Client struct {
	Handle presence.Handle
	UserID string
	IP     string
	Conn   *websocket.Conn

	SendChan chan []byte
	Done     chan struct{}
	TraceID  string
	LastSeq  uint64 // highest accepted seq; touched only by the read goroutine

	closeOnce sync.Once
	logger    *zap.Logger
}

// NewClient wraps conn and starts its write goroutine.
func NewClient(h presence.Handle, userID string, conn *websocket.Conn, logger *zap.Logger) *Client {
	c := newClient(h, userID, logger)
	c.Conn = conn
	go c.writePump()
	return c
}

func newClient(h presence.Handle, userID string, logger *zap.Logger) *Client {
	return &Client{
		Handle:   h,
		UserID:   userID,
		SendChan: make(chan []byte, sendChanBuf),
		Done:     make(chan struct{}),
		logger:   logger,
	}
}

// writePump drains SendChan and pings periodically so dead peers are noticed.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer c.Conn.Close()
	for {
		select {
		case data := <-c.SendChan:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Warn("ws write error",
					zap.String("user_id", c.UserID),
					zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.Done:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			_ = c.Conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// Send encodes a server message and queues it without blocking.
func (c *Client) Send(typ string, payload interface{}) {
	data, err := broadcast.Encode(typ, payload)
	if err != nil {
		c.logger.Error("ws encode failed", zap.String("type", typ), zap.Error(err))
		return
	}
	c.SendRaw(data)
}

// SendRaw queues pre-encoded bytes. Drops when the buffer is full or the
// client is closed.
func (c *Client) SendRaw(data []byte) {
	if c.IsClosed() {
		return
	}
	select {
	case c.SendChan <- data:
	case <-c.Done:
	default:
		c.logger.Warn("send channel full, dropping message",
			zap.String("user_id", c.UserID))
	}
}

// Close signals the write goroutine to send a close frame and stop.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.Done) })
}

func (c *Client) IsClosed() bool {
	select {
	case <-c.Done:
		return true
	default:
		return false
	}
}

// acceptSeq applies the anti-replay rule: seq 0 is always accepted,
// otherwise seq must exceed the last accepted one.
func (c *Client) acceptSeq(seq uint64) bool {
	if seq == 0 {
		return true
	}
	if seq <= c.LastSeq {
		return false
	}
	c.LastSeq = seq
	return true
}

// SetReadDeadline pushes the read deadline readDeadline into the future.
func (c *Client) SetReadDeadline() {
	_ = c.Conn.SetReadDeadline(time.Now().Add(readDeadline))
}
