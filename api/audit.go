package api

import (
	"log/slog"
	"net/http"
	"time"
)

// AuditEvent identifies a security-relevant server action.
type AuditEvent string

const (
	AuditRegister              AuditEvent = "register"
	AuditLoginSuccess          AuditEvent = "login_success"
	AuditLoginFailure          AuditEvent = "login_failure"
	AuditLoginRateLimited      AuditEvent = "login_rate_limited"
	AuditMasterPasswordChanged AuditEvent = "master_password_changed"
	AuditEntriesListed         AuditEvent = "entries_listed"
	AuditEntryCreated          AuditEvent = "entry_created"
	AuditEntryUpdated          AuditEvent = "entry_updated"
	AuditEntryDeleted          AuditEvent = "entry_deleted"
)

// auditLogger writes audit records through slog and feeds the alert monitor.
// Records carry usernames and entry ids only, never request bodies.
type auditLogger struct {
	logger *slog.Logger
	alerts *alertMonitor
	now    func() time.Time
}

func newAuditLogger(logger *slog.Logger, alerts *alertMonitor) *auditLogger {
	return &auditLogger{
		logger: logger.With("component", "audit"),
		alerts: alerts,
		now:    time.Now,
	}
}

func (al *auditLogger) log(event AuditEvent, r *http.Request, username string, attrs ...slog.Attr) {
	base := []slog.Attr{
		slog.String("event", string(event)),
		slog.String("username", username),
		slog.String("remote_addr", r.RemoteAddr),
		slog.String("timestamp", al.now().UTC().Format(time.RFC3339)),
	}
	al.logger.LogAttrs(r.Context(), slog.LevelInfo, "audit", append(base, attrs...)...)

	switch event {
	case AuditLoginFailure:
		al.alerts.loginFailed()
	case AuditEntriesListed:
		al.alerts.entriesListed()
	}
}
