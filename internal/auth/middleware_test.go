package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/otpdesk/internal/models"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestManager() *TokenManager {
	return NewTokenManager(testSecret, "otpdesk")
}

func okHandler(t *testing.T, wantSubject string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, wantSubject, Subject(r))
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestTokenManager_RoundTrip(t *testing.T) {
	tm := newTestManager()
	token, err := tm.GenerateServiceToken("shop-bot", []string{ScopeOTP, ScopeDevices}, time.Hour)
	require.NoError(t, err)

	claims, err := tm.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "shop-bot", claims.Subject)
	assert.Equal(t, "otpdesk", claims.Issuer)
	assert.NotEmpty(t, claims.ID)
	assert.True(t, claims.HasScope(ScopeOTP))
	assert.False(t, claims.HasScope(ScopeLogins))
}

func TestTokenManager_GenerateRejectsBadInput(t *testing.T) {
	tm := newTestManager()

	_, err := tm.GenerateServiceToken("", nil, time.Hour)
	assert.True(t, errors.Is(err, models.ErrBadRequest))

	_, err = tm.GenerateServiceToken("svc", []string{"admin"}, time.Hour)
	assert.True(t, errors.Is(err, models.ErrBadRequest))
}

func TestTokenManager_ValidateRejects(t *testing.T) {
	tm := newTestManager()
	valid, err := tm.GenerateServiceToken("svc", []string{ScopeOTP}, time.Hour)
	require.NoError(t, err)

	expired := newTestManager()
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expiredToken, err := expired.GenerateServiceToken("svc", nil, time.Hour)
	require.NoError(t, err)

	otherIssuer, err := NewTokenManager(testSecret, "someone-else").GenerateServiceToken("svc", nil, time.Hour)
	require.NoError(t, err)

	otherSecret, err := NewTokenManager("ffffffffffffffffffffffffffffffff", "otpdesk").GenerateServiceToken("svc", nil, time.Hour)
	require.NoError(t, err)

	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &ServiceClaims{
		RegisteredClaims: jwt.RegisteredClaims{Issuer: "otpdesk", Subject: "svc"},
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, &ServiceClaims{
		RegisteredClaims: jwt.RegisteredClaims{Issuer: "otpdesk", Subject: "svc", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := map[string]string{
		"expired":       expiredToken,
		"other issuer":  otherIssuer,
		"other secret":  otherSecret,
		"no expiry":     noExpiry,
		"alg none":      unsigned,
		"garbage":       "not.a.token",
		"tampered tail": valid[:len(valid)-2] + "xx",
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := tm.ValidateToken(token)
			assert.True(t, errors.Is(err, models.ErrUnauthorized), "got %v", err)
		})
	}
}

func TestBearerMiddleware(t *testing.T) {
	tm := newTestManager()
	token, err := tm.GenerateServiceToken("svc", []string{ScopeOTP}, time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"valid", "Bearer " + token, http.StatusNoContent},
		{"lowercase scheme", "bearer " + token, http.StatusNoContent},
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + token, http.StatusUnauthorized},
		{"no token", "Bearer ", http.StatusUnauthorized},
		{"invalid token", "Bearer abc", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			BearerMiddleware(tm)(okHandler(t, "svc")).ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestRequireScope(t *testing.T) {
	tm := newTestManager()
	token, err := tm.GenerateServiceToken("svc", []string{ScopeOTP}, time.Hour)
	require.NoError(t, err)

	chain := func(scope string) http.Handler {
		return BearerMiddleware(tm)(RequireScope(scope)(okHandler(t, "svc")))
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	w := httptest.NewRecorder()
	chain(ScopeOTP).ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = httptest.NewRecorder()
	chain(ScopeDevices).ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = httptest.NewRecorder()
	RequireScope(ScopeOTP)(okHandler(t, "")).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
