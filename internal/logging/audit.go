package logging

// AuditEvent represents a security-relevant operation that should be logged for review
type AuditEvent struct {
	Operation string // e.g., "auth_succeeded", "auth_failed", "session_closed"
	Actor     string // Who performed the action (client id, remote address)
	Target    string // What was affected (session id, command name)
	Result    string // "success" or "failure"
	Details   string // Additional context
}

// Audit logs a security-relevant operation with structured fields.
// Audit events are logged at Info level with a special "audit" attribute
// to distinguish them from regular application logs.
func Audit(event AuditEvent) {
	Logger().Info("audit",
		"audit", true,
		"operation", event.Operation,
		"actor", event.Actor,
		"target", event.Target,
		"result", event.Result,
		"details", event.Details,
	)
}
