// Package messagingtest provides an in-memory messaging service for tests.
package messagingtest

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BradenHooton/otpdesk/internal/messaging"
)

// Service is a scripted messaging backend shared by every Client it dials
type Service struct {
	mu sync.Mutex

	// login flow
	ValidCode       string
	Password        string // empty means no second factor
	CodeHash        string
	RequestCodeErr  error
	ExportedSecret  string
	AuthorizedToken string // secret accepted by DialSession; empty accepts any

	// monitoring
	Inbox             []messaging.InboxMessage
	LoggedInElsewhere bool
	InboxErr          error
	StatusErr         error

	// devices
	Devices      []messaging.DeviceSession
	TerminateErr error

	DialErr error

	dials        int32
	closes       int32
	requestCodes int32
	polls        int32
}

// NewService returns a backend with typical defaults
func NewService() *Service {
	return &Service{
		ValidCode:      "12345",
		CodeHash:       "hash-1",
		ExportedSecret: "exported-session-secret",
	}
}

// Dialer returns a messaging.Dialer backed by s
func (s *Service) Dialer() *Dialer {
	return &Dialer{svc: s}
}

// Closes returns how many clients were closed
func (s *Service) Closes() int { return int(atomic.LoadInt32(&s.closes)) }

// Dials returns how many clients were opened
func (s *Service) Dials() int { return int(atomic.LoadInt32(&s.dials)) }

// RequestCodes returns how many codes were requested
func (s *Service) RequestCodes() int { return int(atomic.LoadInt32(&s.requestCodes)) }

// Polls returns how many inbox reads happened
func (s *Service) Polls() int { return int(atomic.LoadInt32(&s.polls)) }

// Open returns the number of clients dialed but not yet closed
func (s *Service) Open() int { return s.Dials() - s.Closes() }

// SetInbox replaces the inbox, newest message first
func (s *Service) SetInbox(msgs ...messaging.InboxMessage) {
	s.mu.Lock()
	s.Inbox = msgs
	s.mu.Unlock()
}

// SetLoggedInElsewhere toggles the login-detected signal
func (s *Service) SetLoggedInElsewhere(v bool) {
	s.mu.Lock()
	s.LoggedInElsewhere = v
	s.mu.Unlock()
}

// SetInboxErr makes subsequent inbox reads fail
func (s *Service) SetInboxErr(err error) {
	s.mu.Lock()
	s.InboxErr = err
	s.mu.Unlock()
}

// DeviceList returns a copy of the current devices
func (s *Service) DeviceList() []messaging.DeviceSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]messaging.DeviceSession, len(s.Devices))
	copy(out, s.Devices)
	return out
}

// Dialer implements messaging.Dialer
type Dialer struct {
	svc *Service
}

func (d *Dialer) Dial(ctx context.Context) (messaging.Client, error) {
	return d.open(false)
}

func (d *Dialer) DialSession(ctx context.Context, secret string) (messaging.Client, error) {
	d.svc.mu.Lock()
	token := d.svc.AuthorizedToken
	d.svc.mu.Unlock()
	if token != "" && secret != token {
		return nil, messaging.ErrUnauthorized
	}
	return d.open(true)
}

func (d *Dialer) open(authed bool) (messaging.Client, error) {
	d.svc.mu.Lock()
	err := d.svc.DialErr
	d.svc.mu.Unlock()
	if err != nil {
		return nil, err
	}
	atomic.AddInt32(&d.svc.dials, 1)
	return &Client{svc: d.svc, authed: authed}, nil
}

// Client implements messaging.Client
type Client struct {
	svc       *Service
	mu        sync.Mutex
	authed    bool
	needs2FA  bool
	closed    bool
	closeOnce sync.Once
}

func (c *Client) RequestCode(ctx context.Context, phoneNumber string) (string, error) {
	atomic.AddInt32(&c.svc.requestCodes, 1)
	c.svc.mu.Lock()
	defer c.svc.mu.Unlock()
	if c.svc.RequestCodeErr != nil {
		return "", c.svc.RequestCodeErr
	}
	return c.svc.CodeHash, nil
}

func (c *Client) RedeemCode(ctx context.Context, phoneNumber, codeHash, code string) error {
	c.svc.mu.Lock()
	valid, hash, password := c.svc.ValidCode, c.svc.CodeHash, c.svc.Password
	c.svc.mu.Unlock()

	if codeHash != hash || code != valid {
		return messaging.ErrCodeInvalid
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if password != "" {
		c.needs2FA = true
		return messaging.ErrSecondFactorRequired
	}
	c.authed = true
	return nil
}

func (c *Client) CheckSecondFactor(ctx context.Context, password string) error {
	c.svc.mu.Lock()
	want := c.svc.Password
	c.svc.mu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.needs2FA {
		return messaging.ErrNotAuthenticated
	}
	if password != want {
		return messaging.ErrPasswordInvalid
	}
	c.authed = true
	return nil
}

func (c *Client) ExportSecret(ctx context.Context) (string, error) {
	c.mu.Lock()
	authed := c.authed
	c.mu.Unlock()
	if !authed {
		return "", messaging.ErrNotAuthenticated
	}
	c.svc.mu.Lock()
	defer c.svc.mu.Unlock()
	return c.svc.ExportedSecret, nil
}

func (c *Client) ReadRecentInboxMessages(ctx context.Context, serviceAccountID int64, limit int) ([]messaging.InboxMessage, error) {
	atomic.AddInt32(&c.svc.polls, 1)
	c.svc.mu.Lock()
	defer c.svc.mu.Unlock()
	if c.svc.InboxErr != nil {
		return nil, c.svc.InboxErr
	}
	n := len(c.svc.Inbox)
	if limit < n {
		n = limit
	}
	out := make([]messaging.InboxMessage, n)
	copy(out, c.svc.Inbox[:n])
	return out, nil
}

func (c *Client) AuthenticationStatus(ctx context.Context) (messaging.AuthStatus, error) {
	c.svc.mu.Lock()
	defer c.svc.mu.Unlock()
	if c.svc.StatusErr != nil {
		return messaging.AuthStatus{}, c.svc.StatusErr
	}
	return messaging.AuthStatus{AuthenticatedElsewhere: c.svc.LoggedInElsewhere}, nil
}

func (c *Client) ListActiveDeviceSessions(ctx context.Context) ([]messaging.DeviceSession, error) {
	return c.svc.DeviceList(), nil
}

func (c *Client) TerminateDeviceSession(ctx context.Context, handle string) (bool, error) {
	c.svc.mu.Lock()
	defer c.svc.mu.Unlock()
	if c.svc.TerminateErr != nil {
		return false, c.svc.TerminateErr
	}
	for i, d := range c.svc.Devices {
		if d.Handle == handle {
			c.svc.Devices = append(c.svc.Devices[:i], c.svc.Devices[i+1:]...)
			return true, nil
		}
	}
	return false, messaging.ErrSessionNotFound
}

func (c *Client) TerminateAllOtherSessions(ctx context.Context) (int, error) {
	c.svc.mu.Lock()
	defer c.svc.mu.Unlock()
	if c.svc.TerminateErr != nil {
		return 0, c.svc.TerminateErr
	}
	kept := c.svc.Devices[:0]
	removed := 0
	for _, d := range c.svc.Devices {
		if d.IsCurrent {
			kept = append(kept, d)
			continue
		}
		removed++
	}
	c.svc.Devices = kept
	return removed, nil
}

func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		atomic.AddInt32(&c.svc.closes, 1)
	})
	return nil
}

// Message is a convenience constructor for inbox fixtures
func Message(text string, at time.Time) messaging.InboxMessage {
	return messaging.InboxMessage{Text: text, Timestamp: at}
}
