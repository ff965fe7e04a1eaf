package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/BradenHooton/otpdesk/internal/models"
)

// Scopes granted to orchestration callers
const (
	ScopeLogins   = "logins"
	ScopeOTP      = "otp"
	ScopeDevices  = "devices"
	ScopeCommands = "commands"
	ScopeAccounts = "accounts"
)

// AllScopes lists every scope a service token may carry
var AllScopes = []string{ScopeLogins, ScopeOTP, ScopeDevices, ScopeCommands, ScopeAccounts}

// ServiceClaims are the claims of an orchestration bearer token. Subject names
// the calling service or end user and is used as the rate-limit subject.
type ServiceClaims struct {
	Scopes []string `json:"scopes"`
	jwt.RegisteredClaims
}

// HasScope reports whether the claims grant scope
func (c *ServiceClaims) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// TokenManager issues and validates HS256 service tokens
type TokenManager struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewTokenManager creates a new TokenManager
func NewTokenManager(secret, issuer string) *TokenManager {
	return &TokenManager{
		secret: []byte(secret),
		issuer: issuer,
		now:    time.Now,
	}
}

// GenerateServiceToken signs a token for subject valid for ttl
func (tm *TokenManager) GenerateServiceToken(subject string, scopes []string, ttl time.Duration) (string, error) {
	if subject == "" {
		return "", fmt.Errorf("subject is required: %w", models.ErrBadRequest)
	}
	for _, s := range scopes {
		if !validScope(s) {
			return "", fmt.Errorf("unknown scope %q: %w", s, models.ErrBadRequest)
		}
	}

	now := tm.now()
	claims := &ServiceClaims{
		Scopes: scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Issuer:    tm.issuer,
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(tm.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign service token: %w", err)
	}
	return tokenString, nil
}

// ValidateToken verifies a token and returns its claims
func (tm *TokenManager) ValidateToken(tokenString string) (*ServiceClaims, error) {
	claims := &ServiceClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return tm.secret, nil
	},
		jwt.WithIssuer(tm.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(tm.now),
	)
	if err != nil {
		return nil, errors.Join(models.ErrUnauthorized, fmt.Errorf("failed to parse token: %w", err))
	}
	if !token.Valid || claims.Subject == "" {
		return nil, models.ErrUnauthorized
	}

	return claims, nil
}

func validScope(scope string) bool {
	for _, s := range AllScopes {
		if s == scope {
			return true
		}
	}
	return false
}
