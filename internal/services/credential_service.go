package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/BradenHooton/otpdesk/internal/cipher"
	"github.com/BradenHooton/otpdesk/internal/models"
)

// CredentialRepository defines the persistence needed by CredentialService
type CredentialRepository interface {
	GetByID(ctx context.Context, accountID uuid.UUID) (*models.Credential, error)
	GetByPhone(ctx context.Context, phone string) (*models.Credential, error)
	Upsert(ctx context.Context, c *models.Credential) (*models.Credential, error)
	MarkAssigned(ctx context.Context, accountID uuid.UUID) error
	// RotateCiphertexts hands every credential carrying ciphertext to fn with
	// writes to the credential store blocked, then stores what fn returns in
	// the same transaction. Nothing is written when fn fails.
	RotateCiphertexts(ctx context.Context, fn func([]*models.Credential) ([]*models.Credential, error)) error
}

// CredentialInput is plaintext login material about to be stored
type CredentialInput struct {
	PhoneNumber  string
	Secret       string
	SecondFactor string
}

// SecretAccess identifies who decrypts a secret and why; it is written to the audit log
type SecretAccess struct {
	Actor       string
	AccountID   uuid.UUID
	PhoneNumber string
	Purpose     models.CredentialAccess
}

// RotationFailure names a credential whose ciphertext could not be re-encrypted
type RotationFailure struct {
	AccountID uuid.UUID
	Err       error
}

// RotationReport is the outcome of ReencryptAll. NewKey is nil when nothing was rotated.
type RotationReport struct {
	NewKey   []byte
	Rotated  int
	Failures []RotationFailure
}

// CredentialService stores and reveals session secrets. Every value crossing
// the repository boundary is ciphertext; every decryption is audited.
type CredentialService struct {
	// rotateMu keeps Put from encrypting under a key that a rotation is replacing
	rotateMu sync.RWMutex

	repo   CredentialRepository
	cipher *cipher.Cipher
	audit  *AuditService
	logger *slog.Logger
}

// NewCredentialService creates a new CredentialService
func NewCredentialService(repo CredentialRepository, c *cipher.Cipher, audit *AuditService, logger *slog.Logger) *CredentialService {
	return &CredentialService{
		repo:   repo,
		cipher: c,
		audit:  audit,
		logger: logger,
	}
}

// Get returns the stored credential with its secret still encrypted
func (s *CredentialService) Get(ctx context.Context, accountID uuid.UUID) (*models.Credential, error) {
	c, err := s.repo.GetByID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("get credential: %w", err)
	}
	return c, nil
}

// GetByPhone returns the active credential for phone
func (s *CredentialService) GetByPhone(ctx context.Context, phone string) (*models.Credential, error) {
	normalized, err := NormalizePhone(phone)
	if err != nil {
		return nil, err
	}
	c, err := s.repo.GetByPhone(ctx, normalized)
	if err != nil {
		return nil, fmt.Errorf("get credential by phone: %w", err)
	}
	return c, nil
}

// Put encrypts in and writes the whole credential under accountID
func (s *CredentialService) Put(ctx context.Context, accountID uuid.UUID, in CredentialInput) (*models.Credential, error) {
	phone, err := NormalizePhone(in.PhoneNumber)
	if err != nil {
		return nil, err
	}
	if in.Secret == "" {
		return nil, fmt.Errorf("session secret is required: %w", models.ErrBadRequest)
	}

	s.rotateMu.RLock()
	defer s.rotateMu.RUnlock()

	encrypted, err := s.cipher.Encrypt(in.Secret)
	if err != nil {
		return nil, fmt.Errorf("encrypt session secret: %w", err)
	}

	cred := &models.Credential{
		AccountID:       accountID,
		PhoneNumber:     phone,
		EncryptedSecret: encrypted,
	}

	if in.SecondFactor != "" {
		sf, err := s.cipher.Encrypt(in.SecondFactor)
		if err != nil {
			return nil, fmt.Errorf("encrypt second factor: %w", err)
		}
		cred.SecondFactorEncrypted = &sf
	}

	if existing, err := s.repo.GetByID(ctx, accountID); err == nil {
		cred.IsAssigned = existing.IsAssigned
		cred.AssignedAt = existing.AssignedAt
	} else if !errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("load credential: %w", err)
	}

	stored, err := s.repo.Upsert(ctx, cred)
	if err != nil {
		return nil, fmt.Errorf("store credential: %w", err)
	}
	return stored, nil
}

// MarkAssigned flags the credential as sold
func (s *CredentialService) MarkAssigned(ctx context.Context, accountID uuid.UUID) error {
	if err := s.repo.MarkAssigned(ctx, accountID); err != nil {
		return fmt.Errorf("mark assigned: %w", err)
	}
	return nil
}

// Import provisions a credential from an existing plaintext secret
func (s *CredentialService) Import(ctx context.Context, in CredentialInput, actor string) (*models.Credential, error) {
	cred, err := s.Put(ctx, uuid.New(), in)
	if err != nil {
		return nil, err
	}
	s.audit.LogSessionAccess(ctx, actor, cred.AccountID, cred.PhoneNumber, models.AccessImport)
	return cred, nil
}

// StoreFromLogin persists a Login Flow result, reusing the account id when the
// phone already has a credential
func (s *CredentialService) StoreFromLogin(ctx context.Context, in CredentialInput, actor string) (*models.Credential, error) {
	accountID := uuid.New()
	existing, err := s.GetByPhone(ctx, in.PhoneNumber)
	switch {
	case err == nil:
		accountID = existing.AccountID
	case !errors.Is(err, models.ErrNotFound):
		return nil, err
	}

	cred, err := s.Put(ctx, accountID, in)
	if err != nil {
		return nil, err
	}
	s.audit.LogSessionAccess(ctx, actor, cred.AccountID, cred.PhoneNumber, models.AccessLoginExport)
	return cred, nil
}

// Decrypt reveals an encrypted session secret for the audited access
func (s *CredentialService) Decrypt(ctx context.Context, encrypted string, access SecretAccess) (string, error) {
	// Cipher errors are never hidden
	plaintext, err := s.cipher.Decrypt(encrypted)
	if err != nil {
		return "", err
	}
	s.audit.LogSessionAccess(ctx, access.Actor, access.AccountID, access.PhoneNumber, access.Purpose)
	return plaintext, nil
}

// RevealSecret loads and decrypts the session secret of accountID
func (s *CredentialService) RevealSecret(ctx context.Context, accountID uuid.UUID, actor string, purpose models.CredentialAccess) (string, error) {
	cred, err := s.Get(ctx, accountID)
	if err != nil {
		return "", err
	}
	if !cred.HasSecret() {
		return "", fmt.Errorf("credential has no session secret: %w", models.ErrNotFound)
	}
	return s.Decrypt(ctx, cred.EncryptedSecret, SecretAccess{
		Actor:       actor,
		AccountID:   cred.AccountID,
		PhoneNumber: cred.PhoneNumber,
		Purpose:     purpose,
	})
}

// RevealSecondFactor loads and decrypts the stored second factor of accountID
func (s *CredentialService) RevealSecondFactor(ctx context.Context, accountID uuid.UUID, actor string) (string, error) {
	cred, err := s.Get(ctx, accountID)
	if err != nil {
		return "", err
	}
	if !cred.HasSecondFactor() {
		return "", fmt.Errorf("credential has no second factor: %w", models.ErrNotFound)
	}
	return s.Decrypt(ctx, *cred.SecondFactorEncrypted, SecretAccess{
		Actor:       actor,
		AccountID:   cred.AccountID,
		PhoneNumber: cred.PhoneNumber,
		Purpose:     models.AccessSecondFactor,
	})
}

// ReencryptAll rotates every stored ciphertext from oldKey to a new key. A
// credential is rewritten only when all of its fields rotated; the rest are
// reported individually. Rows are read and rewritten in one transaction that
// blocks other writers, and the live cipher switches to the new key before
// writers in this process resume. Other processes holding the old key must be
// restarted with the new one.
func (s *CredentialService) ReencryptAll(ctx context.Context, oldKey []byte, actor string) (*RotationReport, error) {
	if !s.cipher.Uses(oldKey) {
		return nil, fmt.Errorf("old key is not the active key: %w", models.ErrBadRequest)
	}

	s.rotateMu.Lock()
	defer s.rotateMu.Unlock()

	report := &RotationReport{}
	err := s.repo.RotateCiphertexts(ctx, func(creds []*models.Credential) ([]*models.Credential, error) {
		*report = RotationReport{}
		if len(creds) == 0 {
			return nil, nil
		}
		newKey, updates, failures, err := rotateCredentials(oldKey, creds)
		if err != nil {
			return nil, err
		}
		report.Failures = failures
		if len(updates) > 0 {
			report.NewKey = newKey
			report.Rotated = len(updates)
		}
		return updates, nil
	})
	if err != nil {
		return nil, fmt.Errorf("store rotated credentials: %w", err)
	}

	for _, f := range report.Failures {
		s.logger.ErrorContext(ctx, "credential rotation failed",
			slog.String("account_id", f.AccountID.String()),
			slog.Any("error", f.Err),
		)
	}
	if report.NewKey != nil {
		if err := s.cipher.Swap(report.NewKey); err != nil {
			return nil, err
		}
	}
	if report.Rotated > 0 || len(report.Failures) > 0 {
		s.audit.LogKeyRotation(ctx, actor, report.Rotated, len(report.Failures))
	}
	return report, nil
}

// rotateCredentials re-encrypts creds under a fresh key and returns the
// credentials whose every field rotated
func rotateCredentials(oldKey []byte, creds []*models.Credential) ([]byte, []*models.Credential, []RotationFailure, error) {
	// Each credential contributes its secret and, if present, its second factor
	type slot struct {
		cred   int
		second bool
	}
	var (
		cts   []string
		slots []slot
	)
	for i, c := range creds {
		cts = append(cts, c.EncryptedSecret)
		slots = append(slots, slot{cred: i})
		if c.HasSecondFactor() {
			cts = append(cts, *c.SecondFactorEncrypted)
			slots = append(slots, slot{cred: i, second: true})
		}
	}

	newKey, results, err := cipher.Rotate(oldKey, cts)
	if err != nil {
		return nil, nil, nil, err
	}

	failed := make(map[int]error)
	rotated := make([]models.Credential, len(creds))
	for i, c := range creds {
		rotated[i] = *c
	}
	for i, res := range results {
		sl := slots[i]
		if res.Err != nil {
			if _, seen := failed[sl.cred]; !seen {
				failed[sl.cred] = res.Err
			}
			continue
		}
		if sl.second {
			ct := res.Ciphertext
			rotated[sl.cred].SecondFactorEncrypted = &ct
		} else {
			rotated[sl.cred].EncryptedSecret = res.Ciphertext
		}
	}

	var failures []RotationFailure
	updates := make([]*models.Credential, 0, len(creds))
	for i := range rotated {
		if err, bad := failed[i]; bad {
			failures = append(failures, RotationFailure{AccountID: creds[i].AccountID, Err: err})
			continue
		}
		updates = append(updates, &rotated[i])
	}
	return newKey, updates, failures, nil
}
