package util

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/ariebrainware/incident-watch/model"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// UserAction is the action column of a user log row.
type UserAction string

const (
	ActionLoginSuccess       UserAction = "LOGIN_SUCCESS"
	ActionLoginFailure       UserAction = "LOGIN_FAILURE"
	ActionSignup             UserAction = "SIGNUP"
	ActionLogout             UserAction = "LOGOUT"
	ActionAccountLocked      UserAction = "ACCOUNT_LOCKED"
	ActionPasswordChanged    UserAction = "PASSWORD_CHANGED"
	ActionUnauthorizedAccess UserAction = "UNAUTHORIZED_ACCESS"
	ActionRateLimitExceeded  UserAction = "RATE_LIMIT_EXCEEDED"
	ActionEndpointCall       UserAction = "ENDPOINT_CALL"
	ActionProfileUpdated     UserAction = "PROFILE_UPDATED"
	ActionReportCreated      UserAction = "REPORT_CREATED"
	ActionReportUpdated      UserAction = "REPORT_UPDATED"
	ActionReportDeleted      UserAction = "REPORT_DELETED"
	ActionReportStatus       UserAction = "REPORT_STATUS_CHANGED"
	ActionUserRoleChanged    UserAction = "USER_ROLE_CHANGED"
	ActionUserStatusChanged  UserAction = "USER_STATUS_CHANGED"
	ActionUserCompanyChanged UserAction = "USER_COMPANY_CHANGED"
	ActionUserDeleted        UserAction = "USER_DELETED"
	ActionCompanyChanged     UserAction = "COMPANY_CHANGED"
)

// UserEvent is one audited action.
type UserEvent struct {
	Action    UserAction
	UserID    uint
	Email     string
	IP        string
	UserAgent string
	Message   string
	Details   map[string]interface{}
}

var auditLogger *log.Logger
var auditDB *gorm.DB

// SetAuditLoggerDB sets the DB user log rows are written to.
// Call this during application startup after DB initialization.
func SetAuditLoggerDB(db *gorm.DB) {
	auditDB = db
}

func init() {
	auditLogger = log.New(os.Stdout, "[AUDIT] ", log.LstdFlags|log.Lmsgprefix)
}

// sanitizeLogValue removes newlines and other characters that could break log parsing
func sanitizeLogValue(value string) string {
	value = strings.ReplaceAll(value, "\n", " ")
	value = strings.ReplaceAll(value, "\r", " ")
	value = strings.ReplaceAll(value, "\t", " ")
	if len(value) > 200 {
		value = value[:200] + "..."
	}
	return value
}

// LogUserAction prints the event and persists it to user_logs when a DB is set.
// Persistence is best-effort and never fails the caller.
func LogUserAction(event UserEvent) {
	msg := fmt.Sprintf("Action=%s UserID=%d Email=%s IP=%s UserAgent=%s Message=%s",
		sanitizeLogValue(string(event.Action)),
		event.UserID,
		sanitizeLogValue(event.Email),
		sanitizeLogValue(event.IP),
		sanitizeLogValue(event.UserAgent),
		sanitizeLogValue(event.Message),
	)
	if len(event.Details) > 0 {
		msg = fmt.Sprintf("%s DetailsCount=%d", msg, len(event.Details))
	}
	auditLogger.Println(msg)

	if auditDB == nil {
		return
	}

	var details datatypes.JSON
	if event.Details != nil {
		if b, err := json.Marshal(event.Details); err == nil {
			details = datatypes.JSON(b)
		}
	}

	entry := model.UserLog{
		Action:    string(event.Action),
		Email:     sanitizeLogValue(event.Email),
		IPAddress: sanitizeLogValue(event.IP),
		Location:  sanitizeLogValue(GetIPLocation(event.IP).String()),
		UserAgent: sanitizeLogValue(event.UserAgent),
		Message:   sanitizeLogValue(event.Message),
		Details:   details,
	}
	if event.UserID != 0 {
		id := event.UserID
		entry.UserID = &id
	}
	if err := auditDB.Create(&entry).Error; err != nil {
		auditLogger.Printf("Failed to persist user log: %v", err)
	}
}

// LogLoginSuccess logs a successful login event
func LogLoginSuccess(userID uint, email, ip, userAgent string) {
	LogUserAction(UserEvent{
		Action:    ActionLoginSuccess,
		UserID:    userID,
		Email:     email,
		IP:        ip,
		UserAgent: userAgent,
		Message:   "User logged in successfully",
	})
}

// LogLoginFailure logs a failed login attempt
func LogLoginFailure(email, ip, userAgent, reason string) {
	LogUserAction(UserEvent{
		Action:    ActionLoginFailure,
		Email:     email,
		IP:        ip,
		UserAgent: userAgent,
		Message:   fmt.Sprintf("Login failed: %s", reason),
	})
}

// LogLogout logs a logout event
func LogLogout(userID uint, email, ip, userAgent string) {
	LogUserAction(UserEvent{
		Action:    ActionLogout,
		UserID:    userID,
		Email:     email,
		IP:        ip,
		UserAgent: userAgent,
		Message:   "User logged out",
	})
}

// LogAccountLocked logs when an account is locked
func LogAccountLocked(userID uint, email, ip string, reason string) {
	LogUserAction(UserEvent{
		Action:  ActionAccountLocked,
		UserID:  userID,
		Email:   email,
		IP:      ip,
		Message: fmt.Sprintf("Account locked: %s", reason),
	})
}

// LogUnauthorizedAccess logs requests refused by the permission layer
func LogUnauthorizedAccess(userID uint, ip, resource, reason string) {
	LogUserAction(UserEvent{
		Action:  ActionUnauthorizedAccess,
		UserID:  userID,
		IP:      ip,
		Message: fmt.Sprintf("Unauthorized access to %s: %s", resource, reason),
	})
}

// LogRateLimitExceeded logs when rate limit is exceeded
func LogRateLimitExceeded(ip, endpoint string) {
	LogUserAction(UserEvent{
		Action:  ActionRateLimitExceeded,
		IP:      ip,
		Message: fmt.Sprintf("Rate limit exceeded for endpoint: %s", endpoint),
	})
}

// SetAuditLoggerForTest swaps the audit logger and returns the previous one.
func SetAuditLoggerForTest(logger *log.Logger) *log.Logger {
	prev := auditLogger
	auditLogger = logger
	return prev
}
