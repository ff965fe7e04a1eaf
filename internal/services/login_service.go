package services

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/otpdesk/internal/clock"
	"github.com/BradenHooton/otpdesk/internal/messaging"
	"github.com/BradenHooton/otpdesk/internal/metrics"
	"github.com/BradenHooton/otpdesk/internal/models"
	"github.com/BradenHooton/otpdesk/internal/registry"
	"github.com/BradenHooton/otpdesk/pkg/logger"
)

// LoginConfig holds configuration for the login flow
type LoginConfig struct {
	AttemptLifetime time.Duration
}

// loginAttempt is guarded by its attempt id lock in LoginService.attempts
type loginAttempt struct {
	id        string
	phone     string
	codeHash  string
	stage     models.LoginStage
	client    messaging.Client
	createdAt time.Time
	expiresAt time.Time
}

func (a *loginAttempt) view() *models.LoginAttemptView {
	return &models.LoginAttemptView{
		AttemptID:   a.id,
		PhoneNumber: logger.MaskPhone(a.phone),
		Stage:       a.stage,
		CreatedAt:   a.createdAt,
		ExpiresAt:   a.expiresAt,
	}
}

// release closes the attempt's connection exactly once and moves it to stage
// unless it is already terminal
func (a *loginAttempt) release(stage models.LoginStage, log *slog.Logger) {
	if !a.stage.Terminal() {
		a.stage = stage
		metrics.LoginAttemptsTotal.WithLabelValues(string(stage)).Inc()
	}
	if a.client == nil {
		return
	}
	if err := a.client.Close(); err != nil && log != nil {
		log.Warn("failed to close login connection", slog.Any("error", err))
	}
	a.client = nil
	metrics.ActiveLoginAttempts.Dec()
}

// LoginService drives the phone, code, second factor exchange that issues a
// new session secret. At most one live attempt exists per phone number.
type LoginService struct {
	dialer   messaging.Dialer
	limiter  Limiter
	attempts *registry.Registry[*loginAttempt] // by attempt id
	phones   *registry.Registry[string]        // phone -> live attempt id
	config   LoginConfig
	clock    clock.Clock
	audit    *AuditService
	logger   *slog.Logger
}

// NewLoginService creates a new LoginService
func NewLoginService(dialer messaging.Dialer, limiter Limiter, config LoginConfig, clk clock.Clock, audit *AuditService, logger *slog.Logger) *LoginService {
	if clk == nil {
		clk = clock.Real{}
	}
	if config.AttemptLifetime <= 0 {
		config.AttemptLifetime = 10 * time.Minute
	}
	return &LoginService{
		dialer:   dialer,
		limiter:  limiter,
		attempts: registry.New[*loginAttempt](),
		phones:   registry.New[string](),
		config:   config,
		clock:    clk,
		audit:    audit,
		logger:   logger,
	}
}

func newAttemptID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate attempt id: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// StartLogin opens a connection for phone and asks the service to send a code.
// A live attempt for the same phone is released first.
func (s *LoginService) StartLogin(ctx context.Context, caller Caller, phone string) (*models.LoginStart, error) {
	if err := s.limiter.Allow(ctx, caller.RateSubject(), ActionLogin); err != nil {
		return nil, err
	}

	normalized, err := NormalizePhone(phone)
	if err != nil {
		s.audit.LogLoginEvent(ctx, caller.Actor, "", "start", false, err)
		return nil, models.NewExternalError("start login", err)
	}

	unlockPhone := s.phones.Lock(normalized)
	defer unlockPhone()

	if prevID, ok := s.phones.Get(normalized); ok {
		s.discard(prevID, models.StageFailed)
		s.phones.Delete(normalized)
	}

	client, err := s.dialer.Dial(ctx)
	if err != nil {
		s.audit.LogLoginEvent(ctx, caller.Actor, normalized, "start", false, err)
		return nil, models.NewExternalError("connect", err)
	}

	codeHash, err := client.RequestCode(ctx, normalized)
	if err != nil {
		_ = client.Close()
		s.audit.LogLoginEvent(ctx, caller.Actor, normalized, "start", false, err)
		return nil, models.NewExternalError("request code", err)
	}

	id, err := newAttemptID()
	if err != nil {
		_ = client.Close()
		return nil, err
	}

	now := s.clock.Now()
	attempt := &loginAttempt{
		id:        id,
		phone:     normalized,
		codeHash:  codeHash,
		stage:     models.StageAwaitingCode,
		client:    client,
		createdAt: now,
		expiresAt: now.Add(s.config.AttemptLifetime),
	}
	metrics.ActiveLoginAttempts.Inc()

	s.attempts.Put(id, attempt)
	s.phones.Put(normalized, id)

	s.logger.InfoContext(ctx, "login code requested",
		slog.String("phone", logger.MaskPhone(normalized)),
		slog.Time("expires_at", attempt.expiresAt),
	)
	s.audit.LogLoginEvent(ctx, caller.Actor, normalized, "start", true, nil)

	return &models.LoginStart{
		AttemptID: id,
		Message:   "Verification code sent to " + logger.MaskPhone(normalized),
		ExpiresAt: attempt.expiresAt,
	}, nil
}

// withAttempt runs fn while holding the attempt's lock. Expired attempts are
// released and reported as not found.
func (s *LoginService) withAttempt(attemptID string, fn func(a *loginAttempt) error) error {
	unlock := s.attempts.Lock(attemptID)
	defer unlock()

	a, ok := s.attempts.Get(attemptID)
	if !ok {
		return models.ErrAttemptNotFound
	}
	if !s.clock.Now().Before(a.expiresAt) {
		s.finish(a, models.StageExpired)
		s.attempts.Delete(attemptID)
		return models.ErrAttemptNotFound
	}
	if a.stage.Terminal() {
		return models.ErrAttemptTerminal
	}
	return fn(a)
}

// SubmitCode redeems the verification code. An invalid code leaves the attempt open.
func (s *LoginService) SubmitCode(ctx context.Context, caller Caller, attemptID, code string) (*models.CodeResult, error) {
	if err := s.limiter.Allow(ctx, caller.RateSubject(), ActionLogin); err != nil {
		return nil, err
	}

	var result *models.CodeResult
	err := s.withAttempt(attemptID, func(a *loginAttempt) error {
		if a.stage != models.StageAwaitingCode {
			return fmt.Errorf("stage %s: %w", a.stage, models.ErrAttemptStage)
		}

		err := a.client.RedeemCode(ctx, a.phone, a.codeHash, code)
		switch {
		case err == nil:
		case errors.Is(err, messaging.ErrCodeInvalid):
			s.audit.LogLoginEvent(ctx, caller.Actor, a.phone, "submit_code", false, models.ErrInvalidCode)
			return models.ErrInvalidCode
		case errors.Is(err, messaging.ErrSecondFactorRequired):
			a.stage = models.StageAwaiting2FA
			s.audit.LogLoginEvent(ctx, caller.Actor, a.phone, "submit_code", true, nil)
			result = &models.CodeResult{Needs2FA: true}
			return nil
		default:
			s.audit.LogLoginEvent(ctx, caller.Actor, a.phone, "submit_code", false, err)
			return models.NewExternalError("redeem code", err)
		}

		secret, err := s.export(ctx, caller, a)
		if err != nil {
			return err
		}
		result = &models.CodeResult{Secret: secret, PhoneNumber: a.phone}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Submit2FA checks the second factor password. An invalid password leaves the attempt open.
func (s *LoginService) Submit2FA(ctx context.Context, caller Caller, attemptID, password string) (*models.PasswordResult, error) {
	if err := s.limiter.Allow(ctx, caller.RateSubject(), ActionLogin); err != nil {
		return nil, err
	}

	var result *models.PasswordResult
	err := s.withAttempt(attemptID, func(a *loginAttempt) error {
		if a.stage != models.StageAwaiting2FA {
			return fmt.Errorf("stage %s: %w", a.stage, models.ErrAttemptStage)
		}

		err := a.client.CheckSecondFactor(ctx, password)
		switch {
		case err == nil:
		case errors.Is(err, messaging.ErrPasswordInvalid):
			s.audit.LogLoginEvent(ctx, caller.Actor, a.phone, "submit_2fa", false, models.ErrInvalidPassword)
			return models.ErrInvalidPassword
		default:
			s.audit.LogLoginEvent(ctx, caller.Actor, a.phone, "submit_2fa", false, err)
			return models.NewExternalError("check password", err)
		}

		secret, err := s.export(ctx, caller, a)
		if err != nil {
			return err
		}
		result = &models.PasswordResult{Secret: secret, PhoneNumber: a.phone}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// export reads the authenticated session secret and finishes the attempt either way
func (s *LoginService) export(ctx context.Context, caller Caller, a *loginAttempt) (string, error) {
	secret, err := a.client.ExportSecret(ctx)
	if err != nil {
		s.finish(a, models.StageFailed)
		s.audit.LogLoginEvent(ctx, caller.Actor, a.phone, "export", false, err)
		return "", models.NewExternalError("export session", err)
	}
	if secret == "" {
		s.finish(a, models.StageFailed)
		return "", models.NewExternalError("export session", errors.New("empty session secret"))
	}

	s.finish(a, models.StageComplete)
	s.audit.LogLoginEvent(ctx, caller.Actor, a.phone, "export", true, nil)
	s.logger.InfoContext(ctx, "login completed", slog.String("phone", logger.MaskPhone(a.phone)))
	return secret, nil
}

// finish releases a's connection and drops the phone binding; caller holds a's lock
func (s *LoginService) finish(a *loginAttempt, stage models.LoginStage) {
	a.release(stage, s.logger)
	s.phones.CompareAndDelete(a.phone, func(id string) bool { return id == a.id })
}

// discard releases and removes attemptID; caller holds the phone lock
func (s *LoginService) discard(attemptID string, stage models.LoginStage) {
	unlock := s.attempts.Lock(attemptID)
	defer unlock()
	if a, ok := s.attempts.Delete(attemptID); ok {
		a.release(stage, s.logger)
	}
}

// Attempt returns a secret-free view of attemptID
func (s *LoginService) Attempt(attemptID string) (*models.LoginAttemptView, error) {
	unlock := s.attempts.Lock(attemptID)
	defer unlock()
	a, ok := s.attempts.Get(attemptID)
	if !ok {
		return nil, models.ErrAttemptNotFound
	}
	v := a.view()
	if !a.stage.Terminal() && !s.clock.Now().Before(a.expiresAt) {
		v.Stage = models.StageExpired
	}
	return v, nil
}

// Sweep releases and removes every attempt older than the lifetime, in any stage
func (s *LoginService) Sweep(ctx context.Context) int {
	now := s.clock.Now()
	purged := 0
	s.attempts.Range(func(id string, _ *loginAttempt) bool {
		unlock := s.attempts.Lock(id)
		defer unlock()

		a, ok := s.attempts.Get(id)
		if !ok || now.Before(a.expiresAt) {
			return true
		}
		s.finish(a, models.StageExpired)
		s.attempts.Delete(id)
		purged++
		return true
	})
	if purged > 0 {
		s.logger.InfoContext(ctx, "expired login attempts purged", slog.Int("count", purged))
	}
	return purged
}

// Close releases every attempt; used on shutdown
func (s *LoginService) Close() {
	s.attempts.Range(func(id string, _ *loginAttempt) bool {
		unlock := s.attempts.Lock(id)
		defer unlock()
		if a, ok := s.attempts.Delete(id); ok {
			s.finish(a, models.StageExpired)
		}
		return true
	})
}

// Len returns the number of tracked attempts, terminal ones included
func (s *LoginService) Len() int {
	return s.attempts.Len()
}
