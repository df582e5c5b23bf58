package ws

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/ideahub/server/apperr"
	"github.com/ideahub/server/audit"
	"go.uber.org/zap"
)

// TypeError is sent back when a client message cannot be served.
const TypeError = "error"

// ErrorPayload is the body of an error message. Type echoes the request.
type ErrorPayload struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HandlerFunc serves one client message type.
type HandlerFunc func(ctx context.Context, c *Client, payload json.RawMessage) error

// Router maps client message types to handlers. Registration happens at
// start-up; Dispatch runs on each client's read goroutine.
type Router struct {
	handlers map[string]HandlerFunc
	logger   *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{handlers: make(map[string]HandlerFunc), logger: logger}
}

// On registers fn for msgType, replacing any earlier handler.
func (r *Router) On(msgType string, fn HandlerFunc) {
	r.handlers[msgType] = fn
}

// Dispatch decodes raw and runs the matching handler. Malformed, replayed
// and unknown packets are dropped. A handler error is answered with an
// error message carrying the client-safe code.
func (r *Router) Dispatch(c *Client, raw []byte) {
	var pkt Packet
	if err := json.Unmarshal(raw, &pkt); err != nil {
		r.logger.Warn("malformed packet", zap.String("user_id", c.UserID), zap.Error(err))
		return
	}
	if !c.acceptSeq(pkt.Seq) {
		r.logger.Warn("replayed or out-of-order packet",
			zap.String("user_id", c.UserID),
			zap.Uint64("seq", pkt.Seq),
			zap.Uint64("last_seq", c.LastSeq))
		return
	}

	fn, ok := r.handlers[pkt.Type]
	if !ok {
		r.logger.Debug("unhandled message type", zap.String("type", pkt.Type), zap.String("user_id", c.UserID))
		return
	}

	ctx := r.requestContext(c)
	err := fn(ctx, c, pkt.Payload)
	if err == nil {
		return
	}
	fields := []zap.Field{
		zap.String("type", pkt.Type),
		zap.String("user_id", c.UserID),
		zap.String("trace_id", TraceIDFromCtx(ctx)),
		zap.Error(err),
	}
	if apperr.KindOf(err) == apperr.Internal {
		r.logger.Error("ws handler failed", fields...)
	} else {
		r.logger.Debug("ws handler refused", fields...)
	}
	code, msg := apperr.Public(err)
	c.Send(TypeError, ErrorPayload{Type: pkt.Type, Code: code, Message: msg})
}

// requestContext starts a fresh trace for one message.
func (r *Router) requestContext(c *Client) context.Context {
	c.TraceID = uuid.NewString()
	ctx := context.WithValue(context.Background(), ctxKeyTraceID{}, c.TraceID)
	return audit.WithRequest(ctx, c.TraceID, c.IP)
}

type ctxKeyTraceID struct{}

// TraceIDFromCtx returns the trace id of a handler context.
func TraceIDFromCtx(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyTraceID{}).(string)
	return v
}
