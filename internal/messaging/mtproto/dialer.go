// Package mtproto implements messaging.Dialer on top of gotd/td.
//
// An exported session secret is the gotd session blob encoded with unpadded
// URL-safe base64. Each Client owns one running telegram.Client; Close cancels
// it and waits for the connection to shut down.
package mtproto

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"

	"github.com/BradenHooton/otpdesk/internal/messaging"
)

// Config holds application credentials for the messaging API
type Config struct {
	AppID       int
	AppHash     string
	DialTimeout time.Duration
}

// Dialer opens gotd-backed clients
type Dialer struct {
	cfg    Config
	logger *slog.Logger
}

// NewDialer creates a Dialer
func NewDialer(cfg Config, logger *slog.Logger) (*Dialer, error) {
	if cfg.AppID == 0 || cfg.AppHash == "" {
		return nil, fmt.Errorf("messaging app id and hash are required")
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 20 * time.Second
	}
	return &Dialer{cfg: cfg, logger: logger}, nil
}

// Dial opens an unauthenticated connection
func (d *Dialer) Dial(ctx context.Context) (messaging.Client, error) {
	return d.connect(ctx, &session.StorageMemory{})
}

// DialSession opens a connection restored from an exported secret and verifies
// the session is still authorized
func (d *Dialer) DialSession(ctx context.Context, secret string) (messaging.Client, error) {
	raw, err := base64.RawURLEncoding.DecodeString(secret)
	if err != nil || len(raw) == 0 {
		return nil, fmt.Errorf("decode session secret: %w", messaging.ErrUnauthorized)
	}

	storage := &session.StorageMemory{}
	if err := storage.StoreSession(ctx, raw); err != nil {
		return nil, fmt.Errorf("load session secret: %w", err)
	}

	c, err := d.connect(ctx, storage)
	if err != nil {
		return nil, err
	}

	status, err := c.tc.Auth().Status(ctx)
	if err != nil {
		_ = c.Close()
		return nil, mapError("auth status", err)
	}
	if !status.Authorized {
		_ = c.Close()
		return nil, fmt.Errorf("auth status: %w", messaging.ErrUnauthorized)
	}
	c.authed = true

	if err := c.captureBaseline(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

func (d *Dialer) connect(ctx context.Context, storage *session.StorageMemory) (*client, error) {
	tc := telegram.NewClient(d.cfg.AppID, d.cfg.AppHash, telegram.Options{
		SessionStorage: storage,
	})

	runCtx, cancel := context.WithCancel(context.Background())
	ready := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		done <- tc.Run(runCtx, func(ctx context.Context) error {
			close(ready)
			<-ctx.Done()
			return nil
		})
	}()

	timer := time.NewTimer(d.cfg.DialTimeout)
	defer timer.Stop()

	select {
	case <-ready:
	case err := <-done:
		cancel()
		return nil, mapError("connect", err)
	case <-timer.C:
		cancel()
		<-done
		return nil, fmt.Errorf("connect: timed out after %s: %w", d.cfg.DialTimeout, context.DeadlineExceeded)
	case <-ctx.Done():
		cancel()
		<-done
		return nil, ctx.Err()
	}

	return &client{
		tc:       tc,
		storage:  storage,
		cancel:   cancel,
		done:     done,
		baseline: make(map[int64]struct{}),
		logger:   d.logger,
	}, nil
}

type client struct {
	tc      *telegram.Client
	storage *session.StorageMemory
	cancel  context.CancelFunc
	done    chan error
	logger  *slog.Logger

	mu       sync.Mutex
	authed   bool
	baseline map[int64]struct{}

	closeOnce sync.Once
	closeErr  error
}

func (c *client) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		if err := <-c.done; err != nil && !errors.Is(err, context.Canceled) {
			c.closeErr = err
		}
	})
	return c.closeErr
}

func (c *client) isAuthed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authed
}

func (c *client) setAuthed() {
	c.mu.Lock()
	c.authed = true
	c.mu.Unlock()
}
