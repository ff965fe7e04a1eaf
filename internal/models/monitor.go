package models

import "time"

// MonitorOutcome is how a MonitorSession ended
type MonitorOutcome string

const (
	OutcomeRunning           MonitorOutcome = "running"
	OutcomeLoginDetected     MonitorOutcome = "login_detected"
	OutcomeTimeout           MonitorOutcome = "timeout"
	OutcomeStopped           MonitorOutcome = "stopped"
	OutcomeCredentialInvalid MonitorOutcome = "credential_invalid"
)

// PollResult is a single inspection of the account
type PollResult struct {
	Code          string `json:"code,omitempty"`
	LoginDetected bool   `json:"login_detected"`
}

// MonitorSnapshot is the observable state of one MonitorSession
type MonitorSnapshot struct {
	PhoneNumber      string         `json:"phone_number"`
	StartedAt        time.Time      `json:"started_at"`
	AttemptsElapsed  int            `json:"attempts_elapsed"`
	MaxAttempts      int            `json:"max_attempts"`
	LastObservedCode string         `json:"last_observed_code,omitempty"`
	LoginDetected    bool           `json:"login_detected"`
	Outcome          MonitorOutcome `json:"outcome"`
}

// Active reports whether the session is still polling
func (s MonitorSnapshot) Active() bool {
	return s.Outcome == OutcomeRunning
}
