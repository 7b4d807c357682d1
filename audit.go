package authcore

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// AuditEvent is a structured security record emitted by the engine. Token
// material never appears in an event; identifying fields are user id, email,
// and caller IP only.
type AuditEvent struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType string            `json:"event_type"`
	UserID    string            `json:"user_id,omitempty"`
	Email     string            `json:"email,omitempty"`
	IP        string            `json:"ip,omitempty"`
	Success   bool              `json:"success"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Event types emitted by the engine.
const (
	auditEventSessionIssue      = "session.issue"
	auditEventSessionRotate     = "session.rotate"
	auditEventSessionRevoke     = "session.revoke"
	auditEventSessionRevokeAll  = "session.revoke_all"
	auditEventSessionReuse      = "session.reuse_detected"
	auditEventAccountCreate     = "account.create"
	auditEventVerificationIssue = "verification.issue"
	auditEventVerificationDone  = "verification.consume"
	auditEventResetRequest      = "reset.request"
	auditEventResetConsume      = "reset.consume"
	auditEventNotifyFailure     = "notify.failure"
	auditEventRateLimited       = "ratelimit.rejected"
	auditEventLimiterDegraded   = "ratelimit.degraded"
	auditEventReaperSweep       = "reaper.sweep"
)

// AuditSink receives [AuditEvent] values from the engine's dispatcher.
type AuditSink interface {
	Emit(ctx context.Context, event AuditEvent)
}

// NoOpSink is an [AuditSink] that silently discards all events.
type NoOpSink struct{}

// Emit discards the event.
func (NoOpSink) Emit(context.Context, AuditEvent) {}

// ChannelSink is a buffered channel-based [AuditSink] for consumers that
// drain events on their own goroutine.
type ChannelSink struct {
	events chan AuditEvent
}

// NewChannelSink returns a ChannelSink with the given buffer capacity.
func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{
		events: make(chan AuditEvent, buffer),
	}
}

// Emit delivers the event unless the context is cancelled first.
func (s *ChannelSink) Emit(ctx context.Context, event AuditEvent) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

// Events exposes the receive side of the sink.
func (s *ChannelSink) Events() <-chan AuditEvent {
	return s.events
}

// JSONWriterSink writes one JSON object per line to the wrapped writer.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

// NewJSONWriterSink returns a JSONWriterSink over w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{
		writer: w,
	}
}

// Emit marshals and writes the event. Marshal or write failures are dropped;
// audit output must never fail a request.
func (s *JSONWriterSink) Emit(ctx context.Context, event AuditEvent) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.writer.Write(data)
	_, _ = s.writer.Write([]byte("\n"))
}
