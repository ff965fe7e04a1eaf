package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BradenHooton/otpdesk/internal/clock"
	"github.com/BradenHooton/otpdesk/internal/messaging"
	"github.com/BradenHooton/otpdesk/internal/metrics"
	"github.com/BradenHooton/otpdesk/internal/models"
	"github.com/BradenHooton/otpdesk/internal/registry"
	"github.com/BradenHooton/otpdesk/pkg/logger"
)

// Codes are read only from the service notifications chat; the sender is not
// otherwise verified.
var otpPattern = regexp.MustCompile(`\d{5,6}`)

// MonitorConfig holds polling cadence and bounds
type MonitorConfig struct {
	Interval         time.Duration
	MaxTicks         int
	InboxLimit       int
	ServiceAccountID int64
}

// DefaultMonitorConfig polls every 5 seconds for 24 ticks
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Interval:         5 * time.Second,
		MaxTicks:         24,
		InboxLimit:       5,
		ServiceAccountID: messaging.ServiceNotificationsID,
	}
}

// MonitorRequest starts watching one account
type MonitorRequest struct {
	Actor           string
	// EndUser is who Actor acts for; the rate limit counts per end user
	EndUser         string
	AccountID       uuid.UUID
	PhoneNumber     string
	EncryptedSecret string
	// OnUpdate receives every snapshot, the final one included. It runs on the
	// session's goroutine, or on Poll's caller when Poll ends the session, and
	// must not block.
	OnUpdate func(models.MonitorSnapshot)
}

// MonitorSession is one running watch loop. Its outcome is final once Done is closed.
type MonitorSession struct {
	id       uuid.UUID
	actor    string
	client   messaging.Client
	cancel   context.CancelFunc
	done     chan struct{}
	onUpdate func(models.MonitorSnapshot)

	pollMu sync.Mutex // serializes inspections of client

	mu   sync.Mutex
	snap models.MonitorSnapshot
}

// Snapshot returns the current observable state
func (s *MonitorSession) Snapshot() models.MonitorSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

// Done is closed after the loop exits and its connection is released
func (s *MonitorSession) Done() <-chan struct{} {
	return s.done
}

// Outcome returns the current outcome; OutcomeRunning until Done is closed
func (s *MonitorSession) Outcome() models.MonitorOutcome {
	return s.Snapshot().Outcome
}

func (s *MonitorSession) observe(res models.PollResult) models.MonitorSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if res.Code != "" {
		s.snap.LastObservedCode = res.Code
	}
	if res.LoginDetected {
		s.snap.LoginDetected = true
	}
	return s.snap
}

// end sets the outcome if none was set yet
func (s *MonitorSession) end(outcome models.MonitorOutcome) (models.MonitorSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap.Outcome != models.OutcomeRunning {
		return s.snap, false
	}
	s.snap.Outcome = outcome
	return s.snap, true
}

// OTPMonitor watches assigned accounts for login codes and completed logins.
// At most one session runs per phone number; starting again replaces it.
type OTPMonitor struct {
	dialer    messaging.Dialer
	creds     *CredentialService
	sessions  *registry.Registry[*MonitorSession]
	config    MonitorConfig
	clock     clock.Clock
	newTicker clock.TickerFactory
	alerts    AlertNotifier
	audit     *AuditService
	logger    *slog.Logger
	limiter   Limiter

	wg sync.WaitGroup
}

// NewOTPMonitor creates an OTPMonitor; newTicker may be nil for real tickers
func NewOTPMonitor(dialer messaging.Dialer, creds *CredentialService, config MonitorConfig, clk clock.Clock, newTicker clock.TickerFactory, alerts AlertNotifier, audit *AuditService, logger *slog.Logger) *OTPMonitor {
	if clk == nil {
		clk = clock.Real{}
	}
	if newTicker == nil {
		newTicker = clock.NewTicker
	}
	def := DefaultMonitorConfig()
	if config.Interval <= 0 {
		config.Interval = def.Interval
	}
	if config.MaxTicks <= 0 {
		config.MaxTicks = def.MaxTicks
	}
	if config.InboxLimit <= 0 {
		config.InboxLimit = def.InboxLimit
	}
	if config.ServiceAccountID == 0 {
		config.ServiceAccountID = def.ServiceAccountID
	}
	return &OTPMonitor{
		dialer:    dialer,
		creds:     creds,
		sessions:  registry.New[*MonitorSession](),
		config:    config,
		clock:     clk,
		newTicker: newTicker,
		alerts:    alerts,
		audit:     audit,
		logger:    logger,
	}
}

// SetLimiter enables per-end-user rate limiting of Start and Resend.
// Call before the monitor is shared.
func (m *OTPMonitor) SetLimiter(l Limiter) {
	m.limiter = l
}

// Start decrypts the secret, opens a session and begins polling. A running
// session for the same phone is stopped and released first, once the rate
// limit admits the call; a rejected call leaves it running.
func (m *OTPMonitor) Start(ctx context.Context, req MonitorRequest) (*MonitorSession, error) {
	phone, err := NormalizePhone(req.PhoneNumber)
	if err != nil {
		return nil, err
	}
	if m.limiter != nil {
		caller := Caller{Actor: req.Actor, EndUser: req.EndUser}
		if err := m.limiter.Allow(ctx, caller.RateSubject(), ActionOTP); err != nil {
			return nil, err
		}
	}

	unlock := m.sessions.Lock(phone)
	defer unlock()

	if prev, ok := m.sessions.Get(phone); ok {
		m.stopSession(prev)
	}

	secret, err := m.creds.Decrypt(ctx, req.EncryptedSecret, SecretAccess{
		Actor:       req.Actor,
		AccountID:   req.AccountID,
		PhoneNumber: phone,
		Purpose:     models.AccessOTPMonitor,
	})
	if err != nil {
		m.audit.LogOTPEvent(ctx, req.Actor, phone, "start", false, err)
		return nil, err
	}

	client, err := m.dialer.DialSession(ctx, secret)
	if err != nil {
		if errors.Is(err, messaging.ErrUnauthorized) {
			m.credentialInvalid(ctx, req.Actor, phone, err)
			return nil, fmt.Errorf("open session: %w", models.ErrCredentialInvalid)
		}
		m.audit.LogOTPEvent(ctx, req.Actor, phone, "start", false, err)
		return nil, models.NewExternalError("open session", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	sess := &MonitorSession{
		id:       uuid.New(),
		actor:    req.Actor,
		client:   client,
		cancel:   cancel,
		done:     make(chan struct{}),
		onUpdate: req.OnUpdate,
		snap: models.MonitorSnapshot{
			PhoneNumber: phone,
			StartedAt:   m.clock.Now(),
			MaxAttempts: m.config.MaxTicks,
			Outcome:     models.OutcomeRunning,
		},
	}
	m.sessions.Put(phone, sess)
	metrics.ActiveMonitors.Inc()

	// Ticker is created before Start returns so the first tick is never missed
	ticker := m.newTicker(m.config.Interval)
	m.wg.Add(1)
	go m.run(runCtx, phone, sess, ticker)

	m.logger.InfoContext(ctx, "otp monitor started", slog.String("phone", logger.MaskPhone(phone)))
	m.audit.LogOTPEvent(ctx, req.Actor, phone, "start", true, nil)
	return sess, nil
}

func (m *OTPMonitor) run(ctx context.Context, phone string, sess *MonitorSession, ticker clock.Ticker) {
	defer m.wg.Done()
	defer close(sess.done)
	defer func() {
		if err := sess.client.Close(); err != nil {
			m.logger.Warn("failed to close monitor connection", slog.Any("error", err))
		}
		metrics.ActiveMonitors.Dec()
		m.sessions.CompareAndDelete(phone, func(v *MonitorSession) bool { return v == sess })
	}()
	defer ticker.Stop()

	ticks := 0
	for {
		select {
		case <-ctx.Done():
			m.finish(sess, models.OutcomeStopped, nil)
			return
		case <-ticker.C():
		}

		// A stop that raced with the tick wins
		if ctx.Err() != nil {
			m.finish(sess, models.OutcomeStopped, nil)
			return
		}

		res, err := m.inspect(ctx, sess)
		ticks++
		sess.mu.Lock()
		sess.snap.AttemptsElapsed = ticks
		sess.mu.Unlock()

		if err != nil {
			if errors.Is(err, models.ErrCredentialInvalid) {
				m.finish(sess, models.OutcomeCredentialInvalid, err)
				return
			}
			if ctx.Err() != nil {
				m.finish(sess, models.OutcomeStopped, nil)
				return
			}
		}

		snap := sess.observe(res)
		if snap.LoginDetected {
			m.finish(sess, models.OutcomeLoginDetected, nil)
			return
		}
		if ticks >= m.config.MaxTicks {
			m.finish(sess, models.OutcomeTimeout, models.ErrMonitorTimeout)
			return
		}
		if sess.onUpdate != nil {
			sess.onUpdate(snap)
		}
	}
}

// inspect reads the inbox and the authentication status once. Transient errors
// yield an empty result; only authorization failures are returned.
func (m *OTPMonitor) inspect(ctx context.Context, sess *MonitorSession) (models.PollResult, error) {
	sess.pollMu.Lock()
	defer sess.pollMu.Unlock()

	var res models.PollResult

	msgs, err := sess.client.ReadRecentInboxMessages(ctx, m.config.ServiceAccountID, m.config.InboxLimit)
	if err != nil {
		if errors.Is(err, messaging.ErrUnauthorized) {
			return res, fmt.Errorf("read inbox: %w", models.ErrCredentialInvalid)
		}
		m.transient(ctx, "read inbox", err)
	} else {
		res.Code = extractCode(msgs)
	}

	status, err := sess.client.AuthenticationStatus(ctx)
	if err != nil {
		if errors.Is(err, messaging.ErrUnauthorized) {
			return res, fmt.Errorf("auth status: %w", models.ErrCredentialInvalid)
		}
		m.transient(ctx, "auth status", err)
		return res, nil
	}
	res.LoginDetected = status.AuthenticatedElsewhere
	return res, nil
}

func (m *OTPMonitor) transient(ctx context.Context, op string, err error) {
	metrics.MonitorPollErrorsTotal.Inc()
	m.logger.DebugContext(ctx, "monitor poll error, continuing", slog.String("op", op), slog.Any("error", err))
}

// extractCode returns the first code found by recency, newest message first
func extractCode(msgs []messaging.InboxMessage) string {
	sorted := make([]messaging.InboxMessage, len(msgs))
	copy(sorted, msgs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.After(sorted[j].Timestamp)
	})
	for _, msg := range sorted {
		if code := otpPattern.FindString(msg.Text); code != "" {
			return code
		}
	}
	return ""
}

func (m *OTPMonitor) finish(sess *MonitorSession, outcome models.MonitorOutcome, cause error) {
	snap, changed := sess.end(outcome)
	if !changed {
		return
	}
	metrics.MonitorOutcomesTotal.WithLabelValues(string(outcome)).Inc()

	ctx := context.Background()
	m.logger.InfoContext(ctx, "otp monitor finished",
		slog.String("phone", logger.MaskPhone(snap.PhoneNumber)),
		slog.String("outcome", string(outcome)),
		slog.Int("attempts", snap.AttemptsElapsed),
	)
	success := outcome == models.OutcomeLoginDetected || outcome == models.OutcomeStopped
	m.audit.LogOTPEvent(ctx, sess.actor, snap.PhoneNumber, string(outcome), success, cause)

	if outcome == models.OutcomeCredentialInvalid {
		notifyCredentialInvalid(ctx, m.alerts, m.logger, CredentialAlert{
			PhoneNumber: snap.PhoneNumber,
			Source:      "otp_monitor",
			ObservedAt:  m.clock.Now(),
			Reason:      errorText(cause),
		})
	}
	if sess.onUpdate != nil {
		sess.onUpdate(snap)
	}
}

func (m *OTPMonitor) credentialInvalid(ctx context.Context, actor, phone string, cause error) {
	m.audit.LogOTPEvent(ctx, actor, phone, string(models.OutcomeCredentialInvalid), false, cause)
	notifyCredentialInvalid(ctx, m.alerts, m.logger, CredentialAlert{
		PhoneNumber: phone,
		Source:      "otp_monitor",
		ObservedAt:  m.clock.Now(),
		Reason:      errorText(cause),
	})
}

// stopSession cancels sess and waits until its connection is released
func (m *OTPMonitor) stopSession(sess *MonitorSession) {
	sess.cancel()
	<-sess.done
}

// Poll inspects the running session for phone immediately
func (m *OTPMonitor) Poll(ctx context.Context, phone string) (models.PollResult, error) {
	normalized, err := NormalizePhone(phone)
	if err != nil {
		return models.PollResult{}, err
	}
	sess, ok := m.sessions.Get(normalized)
	if !ok || !sess.Snapshot().Active() {
		return models.PollResult{}, models.ErrMonitorNotFound
	}

	res, err := m.inspect(ctx, sess)
	if err != nil {
		if errors.Is(err, models.ErrCredentialInvalid) {
			m.finish(sess, models.OutcomeCredentialInvalid, err)
			m.stopSession(sess)
		}
		return res, err
	}
	sess.observe(res)
	return res, nil
}

// Snapshot returns the state of the running session for phone
func (m *OTPMonitor) Snapshot(phone string) (models.MonitorSnapshot, error) {
	normalized, err := NormalizePhone(phone)
	if err != nil {
		return models.MonitorSnapshot{}, err
	}
	sess, ok := m.sessions.Get(normalized)
	if !ok {
		return models.MonitorSnapshot{}, models.ErrMonitorNotFound
	}
	return sess.Snapshot(), nil
}

// Stop tears down the session for phone and waits for its connection to close.
// Stopping a phone with no session is a no-op.
func (m *OTPMonitor) Stop(ctx context.Context, phone string) error {
	normalized, err := NormalizePhone(phone)
	if err != nil {
		return err
	}
	unlock := m.sessions.Lock(normalized)
	defer unlock()

	if sess, ok := m.sessions.Get(normalized); ok {
		m.stopSession(sess)
	}
	return nil
}

// Resend discards the cached code and restarts observation. No new code is
// requested from the messaging service. It counts against the same limit as
// Start, checked before the running session is touched.
func (m *OTPMonitor) Resend(ctx context.Context, req MonitorRequest) (*MonitorSession, error) {
	return m.Start(ctx, req)
}

// Active returns the number of running sessions
func (m *OTPMonitor) Active() int {
	return m.sessions.Len()
}

// Shutdown stops every session and waits for their loops to exit
func (m *OTPMonitor) Shutdown() {
	m.sessions.Range(func(phone string, _ *MonitorSession) bool {
		_ = m.Stop(context.Background(), phone)
		return true
	})
	m.wg.Wait()
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
