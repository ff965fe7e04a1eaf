package services

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/otpdesk/internal/cipher"
	"github.com/BradenHooton/otpdesk/internal/models"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestCipher(t *testing.T) (*cipher.Cipher, []byte) {
	t.Helper()
	key, err := cipher.GenerateKey()
	require.NoError(t, err)
	c, err := cipher.New(key)
	require.NoError(t, err)
	return c, key
}

// MockAuditLogRepository implements AuditLogRepository for testing
type MockAuditLogRepository struct {
	CreateFunc          func(ctx context.Context, log *models.AuditLog) (*models.AuditLog, error)
	DeleteOlderThanFunc func(ctx context.Context, cutoff time.Time) (int64, error)

	mu      sync.Mutex
	entries []*models.AuditLog
}

func (m *MockAuditLogRepository) Create(ctx context.Context, log *models.AuditLog) (*models.AuditLog, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, log)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, log)
	return log, nil
}

func (m *MockAuditLogRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	if m.DeleteOlderThanFunc != nil {
		return m.DeleteOlderThanFunc(ctx, cutoff)
	}
	return 0, nil
}

// Entries returns the recorded entries matching eventType, or all when empty
func (m *MockAuditLogRepository) Entries(eventType string) []*models.AuditLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.AuditLog
	for _, e := range m.entries {
		if eventType == "" || e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

// MockCredentialRepository is an in-memory CredentialRepository
type MockCredentialRepository struct {
	UpsertFunc func(ctx context.Context, c *models.Credential) (*models.Credential, error)
	// RotateErr fails RotateCiphertexts after fn ran, as an aborted commit would
	RotateErr error
	// RotateHook runs inside RotateCiphertexts before fn
	RotateHook func()

	mu        sync.Mutex
	creds     map[uuid.UUID]*models.Credential
	rotations int
}

func NewMockCredentialRepository() *MockCredentialRepository {
	return &MockCredentialRepository{creds: make(map[uuid.UUID]*models.Credential)}
}

func (m *MockCredentialRepository) GetByID(ctx context.Context, accountID uuid.UUID) (*models.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.creds[accountID]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *MockCredentialRepository) GetByPhone(ctx context.Context, phone string) (*models.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.creds {
		if c.PhoneNumber == phone && c.HasSecret() {
			cp := *c
			return &cp, nil
		}
	}
	return nil, models.ErrNotFound
}

func (m *MockCredentialRepository) Upsert(ctx context.Context, c *models.Credential) (*models.Credential, error) {
	if m.UpsertFunc != nil {
		return m.UpsertFunc(ctx, c)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	now := time.Now()
	if existing, ok := m.creds[c.AccountID]; ok {
		cp.CreatedAt = existing.CreatedAt
	} else {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	m.creds[c.AccountID] = &cp
	out := cp
	return &out, nil
}

func (m *MockCredentialRepository) MarkAssigned(ctx context.Context, accountID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.creds[accountID]
	if !ok {
		return models.ErrNotFound
	}
	now := time.Now()
	c.IsAssigned = true
	c.AssignedAt = &now
	return nil
}

func (m *MockCredentialRepository) RotateCiphertexts(ctx context.Context, fn func([]*models.Credential) ([]*models.Credential, error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rotations++
	if m.RotateHook != nil {
		m.RotateHook()
	}

	list := make([]*models.Credential, 0, len(m.creds))
	for _, c := range m.creds {
		if c.HasSecret() {
			cp := *c
			list = append(list, &cp)
		}
	}
	updates, err := fn(list)
	if err != nil {
		return err
	}
	if m.RotateErr != nil {
		return m.RotateErr
	}
	for _, c := range updates {
		stored, ok := m.creds[c.AccountID]
		if !ok {
			return models.ErrNotFound
		}
		stored.EncryptedSecret = c.EncryptedSecret
		stored.SecondFactorEncrypted = c.SecondFactorEncrypted
	}
	return nil
}

func (m *MockCredentialRepository) Rotations() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rotations
}

// put stores c directly, bypassing encryption
func (m *MockCredentialRepository) put(c *models.Credential) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.creds[c.AccountID] = &cp
}

// MockAlertNotifier records CredentialInvalid alerts
type MockAlertNotifier struct {
	NotifyFunc func(ctx context.Context, alert CredentialAlert) error

	mu     sync.Mutex
	alerts []CredentialAlert
}

func (m *MockAlertNotifier) NotifyCredentialInvalid(ctx context.Context, alert CredentialAlert) error {
	m.mu.Lock()
	m.alerts = append(m.alerts, alert)
	m.mu.Unlock()
	if m.NotifyFunc != nil {
		return m.NotifyFunc(ctx, alert)
	}
	return nil
}

func (m *MockAlertNotifier) Alerts() []CredentialAlert {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]CredentialAlert, len(m.alerts))
	copy(out, m.alerts)
	return out
}
