package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/BradenHooton/otpdesk/internal/auth"
	"github.com/BradenHooton/otpdesk/internal/models"
	"github.com/BradenHooton/otpdesk/internal/services"
	pkghttp "github.com/BradenHooton/otpdesk/pkg/http"
)

const testEndUser = "customer-42"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(EndUserHeader, testEndUser)
	return req
}

// WithSubject adds service claims to the request context
func WithSubject(req *http.Request, subject string) *http.Request {
	claims := &auth.ServiceClaims{
		Scopes:           auth.AllScopes,
		RegisteredClaims: jwt.RegisteredClaims{Subject: subject},
	}
	return req.WithContext(context.WithValue(req.Context(), auth.ClaimsContextKey, claims))
}

// serve routes req through a chi router so URL params resolve
func serve(method, pattern string, h http.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	r.Method(method, pattern, h)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	t.Helper()
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	if target != nil {
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), target), "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that response is a valid error response
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) {
	t.Helper()
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
}

// MockLoginFlow implements LoginFlow for testing
type MockLoginFlow struct {
	StartLoginFunc func(ctx context.Context, caller services.Caller, phone string) (*models.LoginStart, error)
	SubmitCodeFunc func(ctx context.Context, caller services.Caller, attemptID, code string) (*models.CodeResult, error)
	Submit2FAFunc  func(ctx context.Context, caller services.Caller, attemptID, password string) (*models.PasswordResult, error)
	AttemptFunc    func(attemptID string) (*models.LoginAttemptView, error)
}

func (m *MockLoginFlow) StartLogin(ctx context.Context, caller services.Caller, phone string) (*models.LoginStart, error) {
	if m.StartLoginFunc == nil {
		return nil, models.ErrInternalServer
	}
	return m.StartLoginFunc(ctx, caller, phone)
}

func (m *MockLoginFlow) SubmitCode(ctx context.Context, caller services.Caller, attemptID, code string) (*models.CodeResult, error) {
	if m.SubmitCodeFunc == nil {
		return nil, models.ErrAttemptNotFound
	}
	return m.SubmitCodeFunc(ctx, caller, attemptID, code)
}

func (m *MockLoginFlow) Submit2FA(ctx context.Context, caller services.Caller, attemptID, password string) (*models.PasswordResult, error) {
	if m.Submit2FAFunc == nil {
		return nil, models.ErrAttemptNotFound
	}
	return m.Submit2FAFunc(ctx, caller, attemptID, password)
}

func (m *MockLoginFlow) Attempt(attemptID string) (*models.LoginAttemptView, error) {
	if m.AttemptFunc == nil {
		return nil, models.ErrAttemptNotFound
	}
	return m.AttemptFunc(attemptID)
}

// MockCredentialStore implements CredentialStore for testing
type MockCredentialStore struct {
	GetFunc            func(ctx context.Context, accountID uuid.UUID) (*models.Credential, error)
	StoreFromLoginFunc func(ctx context.Context, in services.CredentialInput, actor string) (*models.Credential, error)
}

func (m *MockCredentialStore) Get(ctx context.Context, accountID uuid.UUID) (*models.Credential, error) {
	if m.GetFunc == nil {
		return nil, models.ErrNotFound
	}
	return m.GetFunc(ctx, accountID)
}

func (m *MockCredentialStore) StoreFromLogin(ctx context.Context, in services.CredentialInput, actor string) (*models.Credential, error) {
	if m.StoreFromLoginFunc == nil {
		return nil, models.ErrInternalServer
	}
	return m.StoreFromLoginFunc(ctx, in, actor)
}

// storeWith returns a store that knows exactly cred
func storeWith(cred *models.Credential) *MockCredentialStore {
	return &MockCredentialStore{
		GetFunc: func(ctx context.Context, id uuid.UUID) (*models.Credential, error) {
			if id != cred.AccountID {
				return nil, models.ErrNotFound
			}
			return cred, nil
		},
	}
}

func testCredential() *models.Credential {
	return &models.Credential{
		AccountID:       uuid.New(),
		PhoneNumber:     "+15551234567",
		EncryptedSecret: "ciphertext",
		IsAssigned:      true,
	}
}

// MockOTPMonitor implements OTPMonitor for testing
type MockOTPMonitor struct {
	StartFunc    func(ctx context.Context, req services.MonitorRequest) (*services.MonitorSession, error)
	ResendFunc   func(ctx context.Context, req services.MonitorRequest) (*services.MonitorSession, error)
	SnapshotFunc func(phone string) (models.MonitorSnapshot, error)
	StopFunc     func(ctx context.Context, phone string) error
}

func (m *MockOTPMonitor) Start(ctx context.Context, req services.MonitorRequest) (*services.MonitorSession, error) {
	if m.StartFunc == nil {
		return &services.MonitorSession{}, nil
	}
	return m.StartFunc(ctx, req)
}

func (m *MockOTPMonitor) Resend(ctx context.Context, req services.MonitorRequest) (*services.MonitorSession, error) {
	if m.ResendFunc == nil {
		return &services.MonitorSession{}, nil
	}
	return m.ResendFunc(ctx, req)
}

func (m *MockOTPMonitor) Snapshot(phone string) (models.MonitorSnapshot, error) {
	if m.SnapshotFunc == nil {
		return models.MonitorSnapshot{}, models.ErrMonitorNotFound
	}
	return m.SnapshotFunc(phone)
}

func (m *MockOTPMonitor) Stop(ctx context.Context, phone string) error {
	if m.StopFunc == nil {
		return nil
	}
	return m.StopFunc(ctx, phone)
}

// MockDeviceManager implements DeviceManager for testing
type MockDeviceManager struct {
	ListDevicesFunc               func(ctx context.Context, req services.DeviceRequest) ([]models.DeviceSession, error)
	TerminateFunc                 func(ctx context.Context, req services.DeviceRequest, handle string) (bool, error)
	TerminateAllExceptCurrentFunc func(ctx context.Context, req services.DeviceRequest) (int, error)
}

func (m *MockDeviceManager) ListDevices(ctx context.Context, req services.DeviceRequest) ([]models.DeviceSession, error) {
	if m.ListDevicesFunc == nil {
		return nil, nil
	}
	return m.ListDevicesFunc(ctx, req)
}

func (m *MockDeviceManager) Terminate(ctx context.Context, req services.DeviceRequest, handle string) (bool, error) {
	if m.TerminateFunc == nil {
		return true, nil
	}
	return m.TerminateFunc(ctx, req, handle)
}

func (m *MockDeviceManager) TerminateAllExceptCurrent(ctx context.Context, req services.DeviceRequest) (int, error) {
	if m.TerminateAllExceptCurrentFunc == nil {
		return 0, nil
	}
	return m.TerminateAllExceptCurrentFunc(ctx, req)
}

// MockAccountProvisioner implements AccountProvisioner for testing
type MockAccountProvisioner struct {
	ImportFunc             func(ctx context.Context, in services.CredentialInput, actor string) (*models.Credential, error)
	MarkAssignedFunc       func(ctx context.Context, accountID uuid.UUID) error
	RevealSecretFunc       func(ctx context.Context, accountID uuid.UUID, actor string, purpose models.CredentialAccess) (string, error)
	RevealSecondFactorFunc func(ctx context.Context, accountID uuid.UUID, actor string) (string, error)
}

func (m *MockAccountProvisioner) Import(ctx context.Context, in services.CredentialInput, actor string) (*models.Credential, error) {
	if m.ImportFunc == nil {
		return nil, models.ErrInternalServer
	}
	return m.ImportFunc(ctx, in, actor)
}

func (m *MockAccountProvisioner) MarkAssigned(ctx context.Context, accountID uuid.UUID) error {
	if m.MarkAssignedFunc == nil {
		return models.ErrNotFound
	}
	return m.MarkAssignedFunc(ctx, accountID)
}

func (m *MockAccountProvisioner) RevealSecret(ctx context.Context, accountID uuid.UUID, actor string, purpose models.CredentialAccess) (string, error) {
	if m.RevealSecretFunc == nil {
		return "", models.ErrNotFound
	}
	return m.RevealSecretFunc(ctx, accountID, actor, purpose)
}

func (m *MockAccountProvisioner) RevealSecondFactor(ctx context.Context, accountID uuid.UUID, actor string) (string, error) {
	if m.RevealSecondFactorFunc == nil {
		return "", models.ErrNotFound
	}
	return m.RevealSecondFactorFunc(ctx, accountID, actor)
}

// MockLimitResetter records Reset calls
type MockLimitResetter struct {
	Subjects []string
	Err      error
}

func (m *MockLimitResetter) Reset(ctx context.Context, subject string) error {
	m.Subjects = append(m.Subjects, subject)
	return m.Err
}
