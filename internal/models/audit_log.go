package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types for audit logging
const (
	AuditEventTypeSessionAccess = "session_access"
	AuditEventTypeOTPRequest    = "otp_request"
	AuditEventTypeLogin         = "login_flow"
	AuditEventTypeDeviceOp      = "device_operation"
	AuditEventTypeSecurity      = "security"
	AuditEventTypeKeyRotation   = "key_rotation"
)

// Resource types
const (
	AuditResourceTypeCredential = "credential"
	AuditResourceTypeDevice     = "device_session"
)

type AuditLog struct {
	ID            uuid.UUID     `db:"id"`
	EventType     string        `db:"event_type"`
	Actor         string        `db:"actor"`
	AccountID     *uuid.UUID    `db:"account_id"`
	PhoneSuffix   *string       `db:"phone_suffix"`
	ResourceType  *string       `db:"resource_type"`
	Action        string        `db:"action"`
	Success       bool          `db:"success"`
	FailureReason *string       `db:"failure_reason"`
	Metadata      AuditMetadata `db:"metadata"`
	CreatedAt     time.Time     `db:"created_at"`
}

// AuditMetadata holds additional context for audit events
type AuditMetadata map[string]interface{}

// Scan implements sql.Scanner for JSONB
func (am *AuditMetadata) Scan(value interface{}) error {
	if value == nil {
		*am = make(AuditMetadata)
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return ErrBadRequest
	}

	var m map[string]interface{}
	if err := json.Unmarshal(bytes, &m); err != nil {
		return err
	}
	*am = AuditMetadata(m)
	return nil
}

// Value implements driver.Valuer for JSONB
func (am AuditMetadata) Value() (driver.Value, error) {
	if am == nil {
		return nil, nil
	}
	return json.Marshal(map[string]interface{}(am))
}
