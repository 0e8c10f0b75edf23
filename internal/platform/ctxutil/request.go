// Package ctxutil carries per-request identifiers through a context so the
// HTTP layer and the orchestrators log the same ids.
package ctxutil

import (
	"context"
	"sync"
)

type requestDataKey struct{}

// RequestData is attached once per inbound request and shared by pointer, so
// the orchestrator can record the correlation id it picks for the request log.
type RequestData struct {
	TraceID   string
	RequestID string

	mu            sync.Mutex
	operation     string
	correlationID string
}

func WithRequestData(ctx context.Context, rd *RequestData) context.Context {
	return context.WithValue(ctx, requestDataKey{}, rd)
}

func GetRequestData(ctx context.Context) *RequestData {
	if ctx == nil {
		return nil
	}
	rd, _ := ctx.Value(requestDataKey{}).(*RequestData)
	return rd
}

// SetCorrelation records the operation and correlation id serving ctx. It is a
// no-op when ctx carries no request data.
func SetCorrelation(ctx context.Context, operation, correlationID string) {
	rd := GetRequestData(ctx)
	if rd == nil {
		return
	}
	rd.mu.Lock()
	rd.operation = operation
	rd.correlationID = correlationID
	rd.mu.Unlock()
}

func (rd *RequestData) Correlation() (operation, correlationID string) {
	if rd == nil {
		return "", ""
	}
	rd.mu.Lock()
	defer rd.mu.Unlock()
	return rd.operation, rd.correlationID
}

// LogFields returns the trace and request ids of ctx as logger key/value pairs.
func LogFields(ctx context.Context) []interface{} {
	rd := GetRequestData(ctx)
	if rd == nil {
		return nil
	}
	var out []interface{}
	if rd.TraceID != "" {
		out = append(out, "trace_id", rd.TraceID)
	}
	if rd.RequestID != "" {
		out = append(out, "request_id", rd.RequestID)
	}
	return out
}
