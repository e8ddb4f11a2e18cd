package audit

import (
	"context"
	"maps"
)

// LogAuthentication records a credential or MFA attempt. Failures log at
// warning and carry the failure reason; method names the mechanism, such
// as "password" or "mfa".
func (l *Logger) LogAuthentication(ctx context.Context, userID, method string, success bool, failureReason, ipAddress, deviceID string) (Event, error) {
	details := map[string]any{"method": method}
	if !success && failureReason != "" {
		details["failure_reason"] = failureReason
	}
	outcome := "failure"
	severity := SeverityWarning
	if success {
		outcome = "success"
		severity = SeverityInfo
	}
	return l.LogEvent(ctx, Event{
		Type:      TypeAuthentication,
		Severity:  severity,
		UserID:    userID,
		Action:    "authentication_" + method + "_" + outcome,
		Details:   details,
		IPAddress: ipAddress,
		DeviceID:  deviceID,
		Success:   success,
	})
}

// LogAuthorization records an access decision. Denials log at warning.
func (l *Logger) LogAuthorization(ctx context.Context, userID, resource, action string, allowed bool, reason string, riskScore int) (Event, error) {
	outcome := "denied"
	severity := SeverityWarning
	if allowed {
		outcome = "granted"
		severity = SeverityInfo
	}
	return l.LogEvent(ctx, Event{
		Type:     TypeAuthorization,
		Severity: severity,
		UserID:   userID,
		Action:   "authorization_" + outcome,
		Resource: resource,
		Details: map[string]any{
			"reason":     reason,
			"risk_score": riskScore,
		},
		Success: allowed,
	})
}

// LogTransaction records a financial transaction. Extra attributes merge
// into the details and win over the standard keys on collision.
func (l *Logger) LogTransaction(ctx context.Context, userID, transactionType string, amount float64, accountID string, success bool, transactionID string, extra map[string]any) (Event, error) {
	details := map[string]any{
		"transaction_type": transactionType,
		"amount":           amount,
		"account_id":       accountID,
	}
	if transactionID != "" {
		details["transaction_id"] = transactionID
	}
	maps.Copy(details, extra)
	severity := SeverityError
	if success {
		severity = SeverityInfo
	}
	return l.LogEvent(ctx, Event{
		Type:     TypeTransaction,
		Severity: severity,
		UserID:   userID,
		Action:   "transaction_" + transactionType,
		Resource: "transaction",
		Details:  details,
		Success:  success,
	})
}

// LogDataAccess records a read against a resource. Always informational.
func (l *Logger) LogDataAccess(ctx context.Context, userID, resource, action string, recordCount int, query string) (Event, error) {
	details := map[string]any{"record_count": recordCount}
	if query != "" {
		details["query"] = query
	}
	return l.LogEvent(ctx, Event{
		Type:     TypeDataAccess,
		Severity: SeverityInfo,
		UserID:   userID,
		Action:   action,
		Resource: resource,
		Details:  details,
		Success:  true,
	})
}

// LogSecurityEvent records a named security occurrence, such as a lockout
// or a session anomaly, at the caller's severity.
func (l *Logger) LogSecurityEvent(ctx context.Context, name string, severity Severity, userID string, details map[string]any, ipAddress string) (Event, error) {
	return l.LogEvent(ctx, Event{
		Type:      TypeSecurityEvent,
		Severity:  severity,
		UserID:    userID,
		Action:    name,
		Details:   details,
		IPAddress: ipAddress,
		Success:   true,
	})
}
