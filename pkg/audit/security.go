// Package audit provides security audit logging for SIEM consumption.
// It logs security-relevant events in structured JSON format for easy parsing
// and integration with security information and event management systems.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-sqlguard/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-sqlguard/pkg/auth"
	"github.com/ekaya-inc/ekaya-sqlguard/pkg/logging"
	"github.com/ekaya-inc/ekaya-sqlguard/pkg/models"
	"github.com/ekaya-inc/ekaya-sqlguard/pkg/sql"
)

// SecurityEventType categorizes security-relevant events for filtering and alerting.
type SecurityEventType string

const (
	// EventSQLInjectionAttempt is logged when libinjection flags a filter or grant value.
	EventSQLInjectionAttempt SecurityEventType = "sql_injection_attempt"
	// EventAccessDenied is logged when the permission stage refuses a query.
	EventAccessDenied SecurityEventType = "access_denied"
	// EventPermissionChange is logged when an admin creates, updates or deletes a permission record.
	EventPermissionChange SecurityEventType = "permission_change"
)

// Injection sources.
const (
	SourceGlobalFilter    = "global_filter"
	SourcePermissionGrant = "permission_grant"
)

// maxAuditValueLength bounds user-supplied values copied into events.
const maxAuditValueLength = 100

// SecurityEvent represents an auditable security event with all relevant context
// for SIEM ingestion and analysis.
type SecurityEvent struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType SecurityEventType `json:"event_type"`
	UserID    string            `json:"user_id,omitempty"`
	ClientIP  string            `json:"client_ip,omitempty"`
	Details   any               `json:"details"`
	Severity  string            `json:"severity"` // info, warning, critical
}

// SQLInjectionDetails contains specifics of a detected SQL injection attempt.
type SQLInjectionDetails struct {
	Source      string `json:"source"`
	Dimension   string `json:"dimension"`
	Value       string `json:"value"`
	Fingerprint string `json:"fingerprint"` // libinjection fingerprint for pattern analysis
}

// SecurityAuditor logs security events for SIEM consumption.
// A nil *SecurityAuditor is valid and logs nothing.
type SecurityAuditor struct {
	logger *zap.Logger
}

// NewSecurityAuditor creates a new security auditor with a dedicated logger namespace.
// The logger is configured with the "security_audit" name for easy filtering in SIEM systems.
func NewSecurityAuditor(logger *zap.Logger) *SecurityAuditor {
	return &SecurityAuditor{logger: logger.Named("security_audit")}
}

// LogInjectionAttempt records a value that libinjection flagged.
// This is logged at ERROR level with "critical" severity for immediate alerting.
func (a *SecurityAuditor) LogInjectionAttempt(ctx context.Context, details SQLInjectionDetails, clientIP string) {
	if a == nil {
		return
	}
	details.Value = logging.TruncateString(details.Value, maxAuditValueLength)
	userID := auth.GetUserIDFromContext(ctx)
	eventJSON := a.encode(EventSQLInjectionAttempt, userID, clientIP, details, "critical")

	a.logger.Error("SQL injection attempt detected",
		zap.String("event_json", eventJSON),
		zap.String("source", details.Source),
		zap.String("dimension", details.Dimension),
		zap.String("fingerprint", details.Fingerprint),
		zap.String("client_ip", clientIP),
		zap.String("user_id", userID),
		zap.String("severity", "critical"),
	)
}

// LogAccessDenied records a query refused by the permission stage.
// The message is the one shown to the caller; it never names the table.
func (a *SecurityAuditor) LogAccessDenied(ctx context.Context, message, clientIP string) {
	if a == nil {
		return
	}
	userID := auth.GetUserIDFromContext(ctx)
	eventJSON := a.encode(EventAccessDenied, userID, clientIP, map[string]string{"message": message}, "warning")

	a.logger.Warn("Query access denied",
		zap.String("event_json", eventJSON),
		zap.String("client_ip", clientIP),
		zap.String("user_id", userID),
		zap.String("severity", "warning"),
	)
}

// LogPermissionChange records an admin change to a user's permission record.
func (a *SecurityAuditor) LogPermissionChange(ctx context.Context, targetUserID, action, clientIP string) {
	if a == nil {
		return
	}
	userID := auth.GetUserIDFromContext(ctx)
	details := map[string]string{"target_user_id": targetUserID, "action": action}
	eventJSON := a.encode(EventPermissionChange, userID, clientIP, details, "info")

	a.logger.Info("Permissions changed",
		zap.String("event_json", eventJSON),
		zap.String("target_user_id", targetUserID),
		zap.String("action", action),
		zap.String("client_ip", clientIP),
		zap.String("user_id", userID),
		zap.String("severity", "info"),
	)
}

// LogPipelineRejection audits the security-relevant pipeline failures: permission
// denials, and invalid filters whose values libinjection flags. Other errors are ignored.
func (a *SecurityAuditor) LogPipelineRejection(ctx context.Context, err error, filters []models.GlobalFilter, clientIP string) {
	if a == nil || err == nil {
		return
	}
	se, ok := apperrors.AsStageError(err)
	if !ok {
		return
	}
	switch se.Kind {
	case apperrors.KindPermissionDenied:
		a.LogAccessDenied(ctx, se.Message, clientIP)
	case apperrors.KindInvalidFilter:
		for _, f := range filters {
			for _, hit := range sql.CheckValuesForInjection(f.Dimension, f.Values) {
				a.LogInjectionAttempt(ctx, SQLInjectionDetails{
					Source:      SourceGlobalFilter,
					Dimension:   hit.Dimension,
					Value:       hit.Value,
					Fingerprint: hit.Fingerprint,
				}, clientIP)
			}
		}
	}
}

func (a *SecurityAuditor) encode(eventType SecurityEventType, userID, clientIP string, details any, severity string) string {
	// Marshaling known types does not fail.
	eventJSON, _ := json.Marshal(SecurityEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		UserID:    userID,
		ClientIP:  clientIP,
		Details:   details,
		Severity:  severity,
	})
	return string(eventJSON)
}
