package audit

import "context"

type requestInfoKey struct{}

type requestInfo struct {
	traceID string
	ip      string
}

// WithRequest attaches the trace id and client IP of the current request so
// that services deeper in the call chain can stamp audit entries.
func WithRequest(ctx context.Context, traceID, ip string) context.Context {
	return context.WithValue(ctx, requestInfoKey{}, requestInfo{traceID: traceID, ip: ip})
}

// RequestFrom returns the values stored by WithRequest, or empty strings.
func RequestFrom(ctx context.Context) (traceID, ip string) {
	if ri, ok := ctx.Value(requestInfoKey{}).(requestInfo); ok {
		return ri.traceID, ri.ip
	}
	return "", ""
}
