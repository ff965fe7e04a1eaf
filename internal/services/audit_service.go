package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/otpdesk/internal/models"
	"github.com/BradenHooton/otpdesk/pkg/logger"
	"github.com/google/uuid"
)

// AuditLogRepository defines the persistence needed by AuditService
type AuditLogRepository interface {
	Create(ctx context.Context, log *models.AuditLog) (*models.AuditLog, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// AuditService handles audit logging with dual-write pattern (slog + database).
// Records never contain secrets; phone numbers are reduced to their last four digits.
type AuditService struct {
	repo   AuditLogRepository
	audit  *logger.AuditLogger
	logger *slog.Logger
}

// NewAuditService creates a new AuditService; repo may be nil for log-only auditing
func NewAuditService(repo AuditLogRepository, log *slog.Logger) *AuditService {
	return &AuditService{
		repo:   repo,
		audit:  logger.NewAuditLogger(log),
		logger: log,
	}
}

// Record writes one audit event to the log and then to the repository
func (s *AuditService) Record(ctx context.Context, entry *models.AuditLog) {
	var accountID string
	if entry.AccountID != nil {
		accountID = entry.AccountID.String()
	}
	var reason string
	if entry.FailureReason != nil {
		reason = *entry.FailureReason
	}
	meta := make(map[string]string, len(entry.Metadata))
	for k, v := range entry.Metadata {
		meta[k] = fmt.Sprint(v)
	}

	s.audit.Log(ctx, entry.EventType, logger.AuditEvent{
		EventType:     entry.EventType,
		Actor:         entry.Actor,
		AccountID:     accountID,
		Action:        entry.Action,
		Success:       entry.Success,
		FailureReason: reason,
		Metadata:      meta,
	})

	if s.repo == nil {
		return
	}
	if _, err := s.repo.Create(ctx, entry); err != nil {
		// Non-critical: the operation being audited proceeds
		s.logger.ErrorContext(ctx, "failed to persist audit log",
			slog.String("event_type", entry.EventType),
			slog.Any("error", err),
		)
	}
}

// LogSessionAccess records that plaintext session material was handed to a component
func (s *AuditService) LogSessionAccess(ctx context.Context, actor string, accountID uuid.UUID, phone string, purpose models.CredentialAccess) {
	resource := models.AuditResourceTypeCredential
	s.Record(ctx, &models.AuditLog{
		EventType:    models.AuditEventTypeSessionAccess,
		Actor:        actor,
		AccountID:    &accountID,
		PhoneSuffix:  phoneSuffix(phone),
		ResourceType: &resource,
		Action:       string(purpose),
		Success:      true,
		Metadata:     models.AuditMetadata{"secret_present": true},
	})
}

// LogLoginEvent records a Login Flow transition
func (s *AuditService) LogLoginEvent(ctx context.Context, actor, phone, action string, success bool, failure error) {
	s.Record(ctx, &models.AuditLog{
		EventType:     models.AuditEventTypeLogin,
		Actor:         actor,
		PhoneSuffix:   phoneSuffix(phone),
		Action:        action,
		Success:       success,
		FailureReason: failureReason(failure),
	})
}

// LogOTPEvent records a monitor lifecycle event
func (s *AuditService) LogOTPEvent(ctx context.Context, actor, phone, action string, success bool, failure error) {
	s.Record(ctx, &models.AuditLog{
		EventType:     models.AuditEventTypeOTPRequest,
		Actor:         actor,
		PhoneSuffix:   phoneSuffix(phone),
		Action:        action,
		Success:       success,
		FailureReason: failureReason(failure),
	})
}

// LogDeviceEvent records a device listing or termination
func (s *AuditService) LogDeviceEvent(ctx context.Context, actor string, accountID *uuid.UUID, action string, success bool, failure error, metadata models.AuditMetadata) {
	resource := models.AuditResourceTypeDevice
	s.Record(ctx, &models.AuditLog{
		EventType:     models.AuditEventTypeDeviceOp,
		Actor:         actor,
		AccountID:     accountID,
		ResourceType:  &resource,
		Action:        action,
		Success:       success,
		FailureReason: failureReason(failure),
		Metadata:      metadata,
	})
}

// LogSecurityEvent records a security condition such as RATE_LIMIT_EXCEEDED
func (s *AuditService) LogSecurityEvent(ctx context.Context, action, actor, details string) {
	s.Record(ctx, &models.AuditLog{
		EventType:     models.AuditEventTypeSecurity,
		Actor:         actor,
		Action:        action,
		Success:       false,
		FailureReason: &details,
	})
}

// LogKeyRotation records the outcome of re-encrypting stored credentials
func (s *AuditService) LogKeyRotation(ctx context.Context, actor string, rotated, failed int) {
	s.Record(ctx, &models.AuditLog{
		EventType: models.AuditEventTypeKeyRotation,
		Actor:     actor,
		Action:    "reencrypt_all",
		Success:   failed == 0,
		Metadata:  models.AuditMetadata{"rotated": rotated, "failed": failed},
	})
}

// Cleanup deletes persisted audit logs older than retention
func (s *AuditService) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	if s.repo == nil {
		return 0, nil
	}
	n, err := s.repo.DeleteOlderThan(ctx, time.Now().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup audit logs: %w", err)
	}
	return n, nil
}

func phoneSuffix(phone string) *string {
	if phone == "" {
		return nil
	}
	s := logger.PhoneSuffix(phone)
	return &s
}

func failureReason(err error) *string {
	if err == nil {
		return nil
	}
	s := err.Error()
	return &s
}
