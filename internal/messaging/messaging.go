// Package messaging defines the capabilities consumed from the external
// messaging service. Concrete transports live in subpackages.
package messaging

import (
	"context"
	"errors"
	"time"
)

// ServiceNotificationsID is the account that delivers login codes
const ServiceNotificationsID int64 = 777000

// Errors a Client reports in addition to transport failures
var (
	ErrSecondFactorRequired = errors.New("second factor password required")
	ErrCodeInvalid          = errors.New("verification code invalid")
	ErrPasswordInvalid      = errors.New("second factor password invalid")
	ErrUnauthorized         = errors.New("session not authorized")
	ErrSessionNotFound      = errors.New("device session not found")
	ErrNotAuthenticated     = errors.New("client not authenticated")
)

// InboxMessage is one message from an inbox, newest first when listed
type InboxMessage struct {
	Text      string
	Timestamp time.Time
}

// AuthStatus reports whether the account shows a login that this connection did not make
type AuthStatus struct {
	AuthenticatedElsewhere bool
}

// DeviceSession is a device session as reported by the service
type DeviceSession struct {
	Handle     string
	DeviceName string
	Platform   string
	AppName    string
	IsCurrent  bool
}

// Client is one connection to the messaging service. Close releases it and must
// be called on every exit path.
type Client interface {
	RequestCode(ctx context.Context, phoneNumber string) (codeHash string, err error)
	RedeemCode(ctx context.Context, phoneNumber, codeHash, code string) error
	CheckSecondFactor(ctx context.Context, password string) error
	ExportSecret(ctx context.Context) (string, error)

	ReadRecentInboxMessages(ctx context.Context, serviceAccountID int64, limit int) ([]InboxMessage, error)
	AuthenticationStatus(ctx context.Context) (AuthStatus, error)

	ListActiveDeviceSessions(ctx context.Context) ([]DeviceSession, error)
	TerminateDeviceSession(ctx context.Context, handle string) (bool, error)
	TerminateAllOtherSessions(ctx context.Context) (int, error)

	Close() error
}

// Dialer opens Clients
type Dialer interface {
	// Dial opens an unauthenticated connection for an interactive login
	Dial(ctx context.Context) (Client, error)
	// DialSession opens a connection authenticated with an exported session secret
	DialSession(ctx context.Context, secret string) (Client, error)
}
