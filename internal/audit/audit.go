// Package audit defines the append-only denial record and the sink interface
// the auth core writes it to. Sinks are best-effort collaborators: a sink
// failure is logged and counted by the caller but never changes an
// authorization outcome.
package audit

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"time"
)

// Outcome values recorded per denied authorization attempt.
const OutcomeDenied = "denied"

// Record is written exactly once per denied authorization attempt and never
// mutated afterwards.
type Record struct {
	Timestamp          time.Time `json:"ts"`
	ActorID            string    `json:"actor_id"`
	Path               string    `json:"path"`
	Method             string    `json:"method"`
	RequiredPermission string    `json:"required_permission"`
	UserRole           string    `json:"user_role"`
	Outcome            string    `json:"outcome"`
	RequestID          string    `json:"request_id,omitempty"`
}

// Sink receives audit records.
type Sink interface {
	Write(ctx context.Context, rec Record) error
}

// LogSink emits audit records as JSON lines through the given logger.
type LogSink struct {
	logger *log.Logger
}

func NewLogSink(logger *log.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Write(ctx context.Context, rec Record) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	if rec.RequestID == "" {
		rec.RequestID = RequestIDFromContext(ctx)
	}
	entry := map[string]any{
		"ts":                  rec.Timestamp.Format(time.RFC3339Nano),
		"type":                "audit",
		"actor_id":            rec.ActorID,
		"path":                rec.Path,
		"method":              rec.Method,
		"required_permission": rec.RequiredPermission,
		"user_role":           rec.UserRole,
		"outcome":             rec.Outcome,
	}
	if rec.RequestID != "" {
		entry["request_id"] = rec.RequestID
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	s.logger.Println(string(data))
	return nil
}

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit
// correlation.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the request id from context if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}
