//go:build integration

package integration

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/otpdesk/internal/auth"
	"github.com/BradenHooton/otpdesk/internal/cipher"
	"github.com/BradenHooton/otpdesk/internal/clock"
	"github.com/BradenHooton/otpdesk/internal/handlers"
	"github.com/BradenHooton/otpdesk/internal/messaging/messagingtest"
	middlewareCustom "github.com/BradenHooton/otpdesk/internal/middleware"
	"github.com/BradenHooton/otpdesk/internal/repositories"
	"github.com/BradenHooton/otpdesk/internal/routes"
	"github.com/BradenHooton/otpdesk/internal/services"
)

const testTokenSecret = "integration-test-secret-at-least-32-bytes"

// TestServer runs the full API against a real database and a scripted messaging backend
type TestServer struct {
	Server      *httptest.Server
	Messaging   *messagingtest.Service
	Tokens      *auth.TokenManager
	Cipher      *cipher.Cipher
	Key         []byte
	Credentials *services.CredentialService
	Monitor     *services.OTPMonitor
	Logins      *services.LoginService
}

// NewTestServer wires the API the way cmd/api does, minus the external services
func NewTestServer(t *testing.T, db *TestDB) *TestServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	c, generated, err := cipher.LoadOrGenerate("")
	require.NoError(t, err)
	key, err := cipher.ParseKey(generated)
	require.NoError(t, err)

	svc := messagingtest.NewService()
	dialer := svc.Dialer()
	clk := clock.Real{}

	audit := services.NewAuditService(repositories.NewAuditLogRepository(db.DB), logger)
	creds := services.NewCredentialService(repositories.NewCredentialRepository(db.DB), c, audit, logger)
	limiter := services.NewSlidingWindowLimiter(services.RateLimit{MaxAttempts: 100, Window: time.Hour}, nil, clk, audit, logger)

	logins := services.NewLoginService(dialer, limiter, services.LoginConfig{AttemptLifetime: time.Minute}, clk, audit, logger)
	monitor := services.NewOTPMonitor(dialer, creds, services.MonitorConfig{
		Interval:         20 * time.Millisecond,
		MaxTicks:         50,
		InboxLimit:       5,
		ServiceAccountID: 777000,
	}, clk, nil, services.NewLogAlertNotifier(logger), audit, logger)
	devices := services.NewDeviceSessionManager(dialer, creds, services.NewLogAlertNotifier(logger), audit, clk, logger)

	tokens := auth.NewTokenManager(testTokenSecret, "otpdesk-test")

	router := chi.NewRouter()
	router.Use(chiMiddleware.RequestID)
	router.Use(middlewareCustom.SecureLogger(logger))
	routes.RegisterRoutes(router, routes.Handlers{
		Health:   handlers.NewHealthHandler(db.DB, monitor.Active, logins.Len),
		Logins:   handlers.NewLoginHandler(logins, creds, logger),
		OTP:      handlers.NewOTPHandler(monitor, creds, logger),
		Devices:  handlers.NewDeviceHandler(devices, creds, logger),
		Commands: handlers.NewCommandHandler(handlers.NewCommandRouter(monitor, devices, creds), logger),
		Accounts: handlers.NewAccountHandler(creds, limiter, logger),
	}, tokens, middlewareCustom.RateLimitConfig{RequestsPerMinute: 1000})

	server := httptest.NewServer(router)
	t.Cleanup(func() {
		server.Close()
		monitor.Shutdown()
		logins.Close()
	})

	return &TestServer{
		Server:      server,
		Messaging:   svc,
		Tokens:      tokens,
		Cipher:      c,
		Key:         key,
		Credentials: creds,
		Monitor:     monitor,
		Logins:      logins,
	}
}

// Token issues a bearer token for subject carrying scopes
func (s *TestServer) Token(t *testing.T, subject string, scopes ...string) string {
	t.Helper()
	token, err := s.Tokens.GenerateServiceToken(subject, scopes, time.Hour)
	require.NoError(t, err)
	return token
}

// Do sends a JSON request and returns the status and raw body
func (s *TestServer) Do(t *testing.T, method, path, token string, body interface{}) (int, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, s.Server.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(handlers.EndUserHeader, "integration-customer")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.Server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, raw
}

// DecodeJSON unmarshals body into a new T
func DecodeJSON[T any](t *testing.T, body []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(body, &v), string(body))
	return v
}
