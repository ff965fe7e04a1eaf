package repositories

import (
	"context"
	"fmt"

	"github.com/BradenHooton/otpdesk/internal/database"
	"github.com/BradenHooton/otpdesk/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// rowScanner supports both pgx.Row and pgx.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

const credentialColumns = `account_id, phone_number, encrypted_secret, second_factor_encrypted,
	is_assigned, assigned_at, created_at, updated_at`

// CredentialRepository handles credential data access. It only ever sees ciphertext.
type CredentialRepository struct {
	db   *database.DB
	pool *pgxpool.Pool
}

// NewCredentialRepository creates a new CredentialRepository
func NewCredentialRepository(db *database.DB) *CredentialRepository {
	return &CredentialRepository{db: db, pool: db.Pool}
}

func scanCredentialRow(row rowScanner) (*models.Credential, error) {
	var c models.Credential

	err := row.Scan(
		&c.AccountID, &c.PhoneNumber, &c.EncryptedSecret, &c.SecondFactorEncrypted,
		&c.IsAssigned, &c.AssignedAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &c, nil
}

func scanCredentialRows(rows pgx.Rows) ([]*models.Credential, error) {
	defer rows.Close()

	creds := make([]*models.Credential, 0)
	for rows.Next() {
		c, err := scanCredentialRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan credential: %w", err)
		}
		creds = append(creds, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating credential rows: %w", err)
	}

	return creds, nil
}

// GetByID retrieves a credential by account id
func (r *CredentialRepository) GetByID(ctx context.Context, accountID uuid.UUID) (*models.Credential, error) {
	query := `SELECT ` + credentialColumns + ` FROM credentials WHERE account_id = $1`
	return scanCredentialRow(r.pool.QueryRow(ctx, query, accountID))
}

// GetByPhone retrieves the active credential for a phone number
func (r *CredentialRepository) GetByPhone(ctx context.Context, phone string) (*models.Credential, error) {
	query := `SELECT ` + credentialColumns + `
		FROM credentials
		WHERE phone_number = $1 AND encrypted_secret <> ''`
	return scanCredentialRow(r.pool.QueryRow(ctx, query, phone))
}

// Upsert writes the whole credential row in a single statement
func (r *CredentialRepository) Upsert(ctx context.Context, c *models.Credential) (*models.Credential, error) {
	query := `
		INSERT INTO credentials (
			account_id, phone_number, encrypted_secret, second_factor_encrypted,
			is_assigned, assigned_at
		)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (account_id) DO UPDATE SET
			phone_number = EXCLUDED.phone_number,
			encrypted_secret = EXCLUDED.encrypted_secret,
			second_factor_encrypted = EXCLUDED.second_factor_encrypted,
			is_assigned = EXCLUDED.is_assigned,
			assigned_at = EXCLUDED.assigned_at,
			updated_at = CURRENT_TIMESTAMP
		RETURNING ` + credentialColumns

	result, err := scanCredentialRow(r.pool.QueryRow(
		ctx, query,
		c.AccountID, c.PhoneNumber, c.EncryptedSecret, c.SecondFactorEncrypted,
		c.IsAssigned, c.AssignedAt,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert credential: %w", err)
	}
	return result, nil
}

// MarkAssigned flags the credential as sold
func (r *CredentialRepository) MarkAssigned(ctx context.Context, accountID uuid.UUID) error {
	query := `
		UPDATE credentials
		SET is_assigned = TRUE, assigned_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
		WHERE account_id = $1
	`

	result, err := r.pool.Exec(ctx, query, accountID)
	if err != nil {
		return fmt.Errorf("failed to mark credential assigned: %w", database.MapPostgresError(err))
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// RotateCiphertexts reads every credential carrying ciphertext with writers
// locked out, and replaces the ciphertext columns of the rows fn returns in
// the same transaction
func (r *CredentialRepository) RotateCiphertexts(ctx context.Context, fn func([]*models.Credential) ([]*models.Credential, error)) error {
	return r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		// SHARE ROW EXCLUSIVE admits readers and blocks concurrent inserts and updates
		if _, err := tx.Exec(ctx, `LOCK TABLE credentials IN SHARE ROW EXCLUSIVE MODE`); err != nil {
			return fmt.Errorf("failed to lock credentials: %w", err)
		}

		query := `SELECT ` + credentialColumns + `
			FROM credentials
			WHERE encrypted_secret <> ''
			ORDER BY created_at`
		rows, err := tx.Query(ctx, query)
		if err != nil {
			return fmt.Errorf("failed to query credentials: %w", err)
		}
		creds, err := scanCredentialRows(rows)
		if err != nil {
			return err
		}

		updates, err := fn(creds)
		if err != nil {
			return err
		}
		if len(updates) == 0 {
			return nil
		}

		update := `
			UPDATE credentials
			SET encrypted_secret = $2, second_factor_encrypted = $3, updated_at = CURRENT_TIMESTAMP
			WHERE account_id = $1
		`
		batch := &pgx.Batch{}
		for _, c := range updates {
			batch.Queue(update, c.AccountID, c.EncryptedSecret, c.SecondFactorEncrypted)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to update ciphertexts: %w", database.MapPostgresError(err))
		}
		return nil
	})
}
