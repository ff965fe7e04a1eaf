package models

import "time"

// LoginStage is the state of an interactive credential issuance
type LoginStage string

const (
	StageAwaitingCode LoginStage = "AWAITING_CODE"
	StageAwaiting2FA  LoginStage = "AWAITING_2FA"
	StageComplete     LoginStage = "COMPLETE"
	StageFailed       LoginStage = "FAILED"
	StageExpired      LoginStage = "EXPIRED"
)

// Terminal reports whether no further transitions are possible
func (s LoginStage) Terminal() bool {
	return s == StageComplete || s == StageFailed || s == StageExpired
}

// LoginStart is returned when a verification code was requested
type LoginStart struct {
	AttemptID string    `json:"attempt_id"`
	Message   string    `json:"message"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CodeResult is the outcome of redeeming a verification code
type CodeResult struct {
	Needs2FA    bool   `json:"needs_2fa"`
	Secret      string `json:"-"`
	PhoneNumber string `json:"-"`
}

// PasswordResult is the outcome of a successful second factor check
type PasswordResult struct {
	Secret      string `json:"-"`
	PhoneNumber string `json:"-"`
}

// LoginAttemptView is a secret-free description of an attempt
type LoginAttemptView struct {
	AttemptID   string     `json:"attempt_id"`
	PhoneNumber string     `json:"phone_number"`
	Stage       LoginStage `json:"stage"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
}
