package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/BradenHooton/otpdesk/internal/clock"
	"github.com/BradenHooton/otpdesk/internal/messaging"
	"github.com/BradenHooton/otpdesk/internal/metrics"
	"github.com/BradenHooton/otpdesk/internal/models"
	"github.com/BradenHooton/otpdesk/pkg/logger"
)

// DeviceRequest identifies the credential whose device sessions are managed
type DeviceRequest struct {
	Actor           string
	// EndUser is who Actor acts for; the rate limit counts per end user
	EndUser         string
	AccountID       uuid.UUID
	PhoneNumber     string
	EncryptedSecret string
}

// DeviceSessionManager lists and terminates device sessions of an account. The
// session secret is decrypted per call and never cached.
type DeviceSessionManager struct {
	dialer  messaging.Dialer
	creds   *CredentialService
	alerts  AlertNotifier
	audit   *AuditService
	clock   clock.Clock
	logger  *slog.Logger
	limiter Limiter
}

// NewDeviceSessionManager creates a new DeviceSessionManager
func NewDeviceSessionManager(dialer messaging.Dialer, creds *CredentialService, alerts AlertNotifier, audit *AuditService, clk clock.Clock, logger *slog.Logger) *DeviceSessionManager {
	if clk == nil {
		clk = clock.Real{}
	}
	return &DeviceSessionManager{
		dialer: dialer,
		creds:  creds,
		alerts: alerts,
		audit:  audit,
		clock:  clk,
		logger: logger,
	}
}

// SetLimiter enables per-end-user rate limiting of terminations.
// Call before the manager is shared.
func (m *DeviceSessionManager) SetLimiter(l Limiter) {
	m.limiter = l
}

func (m *DeviceSessionManager) allow(ctx context.Context, req DeviceRequest) error {
	if m.limiter == nil {
		return nil
	}
	caller := Caller{Actor: req.Actor, EndUser: req.EndUser}
	return m.limiter.Allow(ctx, caller.RateSubject(), ActionDevice)
}

// withClient decrypts the secret, dials, runs fn and always closes the connection
func (m *DeviceSessionManager) withClient(ctx context.Context, req DeviceRequest, fn func(messaging.Client) error) error {
	secret, err := m.creds.Decrypt(ctx, req.EncryptedSecret, SecretAccess{
		Actor:       req.Actor,
		AccountID:   req.AccountID,
		PhoneNumber: req.PhoneNumber,
		Purpose:     models.AccessDeviceManager,
	})
	if err != nil {
		return err
	}

	client, err := m.dialer.DialSession(ctx, secret)
	if err != nil {
		return m.mapError(ctx, req, "open session", err)
	}
	defer func() {
		if err := client.Close(); err != nil {
			m.logger.Warn("failed to close device connection", slog.Any("error", err))
		}
	}()

	return fn(client)
}

func (m *DeviceSessionManager) mapError(ctx context.Context, req DeviceRequest, op string, err error) error {
	if errors.Is(err, messaging.ErrUnauthorized) {
		notifyCredentialInvalid(ctx, m.alerts, m.logger, CredentialAlert{
			PhoneNumber: req.PhoneNumber,
			Source:      "device_manager",
			ObservedAt:  m.clock.Now(),
			Reason:      err.Error(),
		})
		return fmt.Errorf("%s: %w", op, models.ErrCredentialInvalid)
	}
	return models.NewExternalError(op, err)
}

func toDeviceSessions(in []messaging.DeviceSession) []models.DeviceSession {
	out := make([]models.DeviceSession, 0, len(in))
	for _, d := range in {
		out = append(out, models.DeviceSession{
			Handle:      d.Handle,
			DisplayName: d.DeviceName,
			Platform:    d.Platform,
			AppName:     d.AppName,
			IsCurrent:   d.IsCurrent,
		})
	}
	return out
}

// ListDevices returns every active device session, the current one flagged
func (m *DeviceSessionManager) ListDevices(ctx context.Context, req DeviceRequest) ([]models.DeviceSession, error) {
	var devices []models.DeviceSession
	err := m.withClient(ctx, req, func(c messaging.Client) error {
		list, err := c.ListActiveDeviceSessions(ctx)
		if err != nil {
			return m.mapError(ctx, req, "list devices", err)
		}
		devices = toDeviceSessions(list)
		return nil
	})
	m.audit.LogDeviceEvent(ctx, req.Actor, &req.AccountID, "list", err == nil, err, models.AuditMetadata{"count": len(devices)})
	if err != nil {
		return nil, err
	}
	return devices, nil
}

// Terminate ends one device session. The current session is refused. A handle
// that is already gone counts as terminated.
func (m *DeviceSessionManager) Terminate(ctx context.Context, req DeviceRequest, handle string) (bool, error) {
	if err := m.allow(ctx, req); err != nil {
		return false, err
	}
	terminated := false
	err := m.withClient(ctx, req, func(c messaging.Client) error {
		list, err := c.ListActiveDeviceSessions(ctx)
		if err != nil {
			return m.mapError(ctx, req, "list devices", err)
		}
		for _, d := range list {
			if d.Handle == handle && d.IsCurrent {
				return models.ErrCurrentSession
			}
		}

		ok, err := c.TerminateDeviceSession(ctx, handle)
		switch {
		case err == nil:
			terminated = ok
		case errors.Is(err, messaging.ErrSessionNotFound):
			m.logger.InfoContext(ctx, "device session already gone",
				slog.String("phone", logger.MaskPhone(req.PhoneNumber)))
			terminated = true
		default:
			return m.mapError(ctx, req, "terminate device", err)
		}
		return nil
	})

	result := "terminated"
	if err != nil {
		result = "failed"
	}
	metrics.DeviceTerminationsTotal.WithLabelValues(result).Inc()
	m.audit.LogDeviceEvent(ctx, req.Actor, &req.AccountID, "terminate", err == nil, err, models.AuditMetadata{"handle": handle})

	if err != nil {
		return false, err
	}
	return terminated, nil
}

// TerminateAllExceptCurrent ends every session other than the one this call is
// made from. It refuses to act unless the service identifies exactly one current session.
func (m *DeviceSessionManager) TerminateAllExceptCurrent(ctx context.Context, req DeviceRequest) (int, error) {
	if err := m.allow(ctx, req); err != nil {
		return 0, err
	}
	count := 0
	err := m.withClient(ctx, req, func(c messaging.Client) error {
		list, err := c.ListActiveDeviceSessions(ctx)
		if err != nil {
			return m.mapError(ctx, req, "list devices", err)
		}

		current := 0
		for _, d := range list {
			if d.IsCurrent {
				current++
			}
		}
		if current != 1 {
			return models.NewExternalError("terminate others",
				fmt.Errorf("expected one current session, found %d", current))
		}
		if len(list) == 1 {
			return nil
		}

		n, err := c.TerminateAllOtherSessions(ctx)
		if err != nil {
			return m.mapError(ctx, req, "terminate others", err)
		}
		count = n
		return nil
	})

	result := "terminated_all"
	if err != nil {
		result = "failed"
	}
	metrics.DeviceTerminationsTotal.WithLabelValues(result).Inc()
	m.audit.LogDeviceEvent(ctx, req.Actor, &req.AccountID, "terminate_all_except_current", err == nil, err, models.AuditMetadata{"count": count})

	if err != nil {
		return 0, err
	}
	return count, nil
}
