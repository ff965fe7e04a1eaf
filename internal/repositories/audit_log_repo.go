package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/otpdesk/internal/database"
	"github.com/BradenHooton/otpdesk/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const auditLogColumns = `id, event_type, actor, account_id, phone_suffix, resource_type,
	action, success, failure_reason, metadata, created_at`

// AuditLogRepository handles audit log data access
type AuditLogRepository struct {
	pool *pgxpool.Pool
}

// NewAuditLogRepository creates a new AuditLogRepository
func NewAuditLogRepository(db *database.DB) *AuditLogRepository {
	return &AuditLogRepository{pool: db.Pool}
}

func scanAuditLogRow(row rowScanner) (*models.AuditLog, error) {
	var log models.AuditLog

	err := row.Scan(
		&log.ID, &log.EventType, &log.Actor, &log.AccountID, &log.PhoneSuffix,
		&log.ResourceType, &log.Action, &log.Success, &log.FailureReason,
		&log.Metadata, &log.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &log, nil
}

func scanAuditLogRows(rows pgx.Rows) ([]*models.AuditLog, error) {
	defer rows.Close()

	logs := make([]*models.AuditLog, 0)
	for rows.Next() {
		log, err := scanAuditLogRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		logs = append(logs, log)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit log rows: %w", err)
	}

	return logs, nil
}

// Create creates a new audit log entry
func (r *AuditLogRepository) Create(ctx context.Context, log *models.AuditLog) (*models.AuditLog, error) {
	if log.ID == uuid.Nil {
		log.ID = uuid.New()
	}

	query := `
		INSERT INTO audit_logs (
			id, event_type, actor, account_id, phone_suffix, resource_type,
			action, success, failure_reason, metadata
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING ` + auditLogColumns

	result, err := scanAuditLogRow(r.pool.QueryRow(
		ctx, query,
		log.ID, log.EventType, log.Actor, log.AccountID, log.PhoneSuffix, log.ResourceType,
		log.Action, log.Success, log.FailureReason, log.Metadata,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create audit log: %w", err)
	}

	return result, nil
}

// GetByAccountID retrieves audit logs for one credential, newest first
func (r *AuditLogRepository) GetByAccountID(ctx context.Context, accountID uuid.UUID, limit int, offset int) ([]*models.AuditLog, error) {
	query := `SELECT ` + auditLogColumns + `
		FROM audit_logs
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.pool.Query(ctx, query, accountID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}

	return scanAuditLogRows(rows)
}

// GetByEventType retrieves audit logs by event type
func (r *AuditLogRepository) GetByEventType(ctx context.Context, eventType string, limit int, offset int) ([]*models.AuditLog, error) {
	query := `SELECT ` + auditLogColumns + `
		FROM audit_logs
		WHERE event_type = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.pool.Query(ctx, query, eventType, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}

	return scanAuditLogRows(rows)
}

// DeleteOlderThan removes audit logs created before cutoff
func (r *AuditLogRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.pool.Exec(ctx, `DELETE FROM audit_logs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup audit logs: %w", err)
	}

	return result.RowsAffected(), nil
}
