// Package logger provides structured security-audit logging on top of slog.
package logger

import (
	"context"
	"log/slog"
	"time"
)

// AuditEvent is one security-relevant occurrence.
type AuditEvent struct {
	EventType     string // login_failed, login_success, lockout, token_granted, ...
	UserID        string
	ClientID      string
	GrantType     string
	FactorKind    string
	IPAddress     string
	Success       bool
	FailureReason string
}

// AuditLogger emits audit events as structured log records. Identifiers on
// failure paths go through Sanitize helpers, never verbatim.
type AuditLogger struct {
	logger *slog.Logger
}

// NewAuditLogger wraps a slog.Logger for audit output.
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return &AuditLogger{logger: logger}
}

// LogLoginAttempt records a primary or second-factor sign-in outcome.
func (al *AuditLogger) LogLoginAttempt(event AuditEvent) {
	al.emit("login", event)
}

// LogTokenGrant records a token-endpoint outcome.
func (al *AuditLogger) LogTokenGrant(event AuditEvent) {
	al.emit("token", event)
}

// LogSecurityEvent records lockouts, refresh-token reuse and other events
// that warrant operator attention regardless of request outcome.
func (al *AuditLogger) LogSecurityEvent(event AuditEvent) {
	al.emit("security", event)
}

func (al *AuditLogger) emit(auditType string, event AuditEvent) {
	attrs := []slog.Attr{
		slog.String("audit_type", auditType),
		slog.String("event_type", event.EventType),
		slog.Bool("success", event.Success),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}
	if event.UserID != "" {
		attrs = append(attrs, slog.String("user_id", event.UserID))
	}
	if event.ClientID != "" {
		attrs = append(attrs, slog.String("client_id", event.ClientID))
	}
	if event.GrantType != "" {
		attrs = append(attrs, slog.String("grant_type", event.GrantType))
	}
	if event.FactorKind != "" {
		attrs = append(attrs, slog.String("factor_kind", event.FactorKind))
	}
	if event.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", event.IPAddress))
	}
	if event.FailureReason != "" {
		attrs = append(attrs, slog.String("failure_reason", event.FailureReason))
	}

	level := slog.LevelInfo
	if !event.Success {
		level = slog.LevelWarn
	}
	al.logger.LogAttrs(context.Background(), level, "audit", attrs...)
}
