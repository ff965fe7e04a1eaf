package models

import (
	"time"

	"github.com/google/uuid"
)

// Credential is one rentable account's login material. EncryptedSecret and
// SecondFactorEncrypted only ever hold ciphertext.
type Credential struct {
	AccountID             uuid.UUID  `db:"account_id"`
	PhoneNumber           string     `db:"phone_number"`
	EncryptedSecret       string     `db:"encrypted_secret"`
	SecondFactorEncrypted *string    `db:"second_factor_encrypted"`
	IsAssigned            bool       `db:"is_assigned"`
	AssignedAt            *time.Time `db:"assigned_at"`
	CreatedAt             time.Time  `db:"created_at"`
	UpdatedAt             time.Time  `db:"updated_at"`
}

// HasSecret reports whether the credential carries an encrypted session secret
func (c *Credential) HasSecret() bool {
	return c.EncryptedSecret != ""
}

// HasSecondFactor reports whether a second factor is stored
func (c *Credential) HasSecondFactor() bool {
	return c.SecondFactorEncrypted != nil && *c.SecondFactorEncrypted != ""
}

// CredentialAccess names why plaintext was requested; recorded in the audit log
type CredentialAccess string

const (
	AccessOTPMonitor    CredentialAccess = "otp_monitor"
	AccessDeviceManager CredentialAccess = "device_manager"
	AccessLoginExport   CredentialAccess = "login_export"
	AccessImport        CredentialAccess = "import"
	AccessKeyRotation   CredentialAccess = "key_rotation"
	AccessSecondFactor  CredentialAccess = "second_factor"
	AccessAdminReveal   CredentialAccess = "admin_reveal"
)
