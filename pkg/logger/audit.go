package logger

import (
	"context"
	"log/slog"
	"time"
)

// AuditEvent represents a security audit event. It never carries secret material.
type AuditEvent struct {
	EventType     string
	Actor         string
	AccountID     string
	PhoneNumber   string // masked before logging
	Action        string
	Success       bool
	FailureReason string
	Metadata      map[string]string
}

// AuditLogger provides audit logging functionality
type AuditLogger struct {
	logger *slog.Logger
}

// NewAuditLogger creates a new audit logger
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return &AuditLogger{
		logger: logger,
	}
}

// Log writes an audit record at info on success and warn on failure
func (al *AuditLogger) Log(ctx context.Context, auditType string, event AuditEvent) {
	attrs := []slog.Attr{
		slog.String("audit_type", auditType),
		slog.String("event_type", event.EventType),
		slog.Bool("success", event.Success),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}

	if event.Actor != "" {
		attrs = append(attrs, slog.String("actor", event.Actor))
	}
	if event.AccountID != "" {
		attrs = append(attrs, slog.String("account_id", event.AccountID))
	}
	if event.PhoneNumber != "" {
		attrs = append(attrs, slog.String("phone", MaskPhone(event.PhoneNumber)))
	}
	if event.Action != "" {
		attrs = append(attrs, slog.String("action", event.Action))
	}
	if event.FailureReason != "" {
		attrs = append(attrs, slog.String("failure_reason", event.FailureReason))
	}
	for key, val := range event.Metadata {
		attrs = append(attrs, slog.String(key, val))
	}

	level := slog.LevelInfo
	if !event.Success {
		level = slog.LevelWarn
	}
	al.logger.LogAttrs(ctx, level, "audit", attrs...)
}

// LogSessionAccess records a plaintext session secret access
func (al *AuditLogger) LogSessionAccess(ctx context.Context, actor, accountID, phone, purpose string) {
	al.Log(ctx, "session", AuditEvent{
		EventType:   "session_access",
		Actor:       actor,
		AccountID:   accountID,
		PhoneNumber: phone,
		Action:      purpose,
		Success:     true,
	})
}

// LogOTPRequest records an OTP monitoring request
func (al *AuditLogger) LogOTPRequest(ctx context.Context, actor, phone string, success bool) {
	al.Log(ctx, "otp", AuditEvent{
		EventType:   "otp_request",
		Actor:       actor,
		PhoneNumber: phone,
		Success:     success,
	})
}

// LogSecurityEvent records a security-relevant condition such as a rate-limit hit
func (al *AuditLogger) LogSecurityEvent(ctx context.Context, eventType, actor, details string) {
	al.Log(ctx, "security", AuditEvent{
		EventType:     eventType,
		Actor:         actor,
		Success:       false,
		FailureReason: details,
	})
}
