package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BradenHooton/otpdesk/internal/clock"
	"github.com/BradenHooton/otpdesk/internal/metrics"
	"github.com/BradenHooton/otpdesk/internal/models"
	"github.com/BradenHooton/otpdesk/internal/registry"
)

// Rate-limited actions
const (
	ActionLogin  = "login"
	ActionOTP    = "otp"
	ActionDevice = "device"
)

// SecurityEventRateLimitExceeded is the audit action recorded on every limit hit
const SecurityEventRateLimitExceeded = "RATE_LIMIT_EXCEEDED"

// RateLimit bounds attempts per (subject, action) within a sliding window
type RateLimit struct {
	MaxAttempts int
	Window      time.Duration
}

// Limiter admits or rejects attempts per (subject, action)
type Limiter interface {
	// Allow records an attempt or returns an error wrapping models.ErrRateLimited
	Allow(ctx context.Context, subject, action string) error
	// Reset forgets every window recorded for subject
	Reset(ctx context.Context, subject string) error
}

type rateWindow struct {
	action string
	hits   []time.Time
}

// SlidingWindowLimiter keeps process-local windows. Checks on the same
// (subject, action) are serialized; different keys proceed independently.
type SlidingWindowLimiter struct {
	defaultLimit RateLimit
	limits       map[string]RateLimit
	windows      *registry.Registry[*rateWindow]
	clock        clock.Clock
	audit        *AuditService
	logger       *slog.Logger
}

// NewSlidingWindowLimiter creates a limiter; limits overrides defaultLimit per action
func NewSlidingWindowLimiter(defaultLimit RateLimit, limits map[string]RateLimit, clk clock.Clock, audit *AuditService, logger *slog.Logger) *SlidingWindowLimiter {
	if clk == nil {
		clk = clock.Real{}
	}
	return &SlidingWindowLimiter{
		defaultLimit: defaultLimit,
		limits:       limits,
		windows:      registry.New[*rateWindow](),
		clock:        clk,
		audit:        audit,
		logger:       logger,
	}
}

func (l *SlidingWindowLimiter) limitFor(action string) RateLimit {
	if lim, ok := l.limits[action]; ok {
		return lim
	}
	return l.defaultLimit
}

// subjectKey encodes subject so it cannot collide with the separator or act as a glob
func subjectKey(subject string) string {
	sum := sha256.Sum256([]byte(subject))
	return hex.EncodeToString(sum[:])
}

func windowKey(subject, action string) string {
	return subjectKey(subject) + "|" + action
}

// Allow prunes entries older than the window, then admits the attempt if under the limit
func (l *SlidingWindowLimiter) Allow(ctx context.Context, subject, action string) error {
	key := windowKey(subject, action)
	lim := l.limitFor(action)

	unlock := l.windows.Lock(key)
	defer unlock()

	now := l.clock.Now()
	w, ok := l.windows.Get(key)
	if !ok {
		w = &rateWindow{action: action}
	}
	w.hits = pruneHits(w.hits, now.Add(-lim.Window))

	if len(w.hits) >= lim.MaxAttempts {
		l.windows.Put(key, w)
		recordLimitHit(ctx, l.audit, l.logger, subject, action, len(w.hits))
		return fmt.Errorf("%s: %w", action, models.ErrRateLimited)
	}

	w.hits = append(w.hits, now)
	l.windows.Put(key, w)
	return nil
}

// Reset removes every window for subject
func (l *SlidingWindowLimiter) Reset(ctx context.Context, subject string) error {
	prefix := subjectKey(subject) + "|"
	l.windows.Range(func(key string, _ *rateWindow) bool {
		if strings.HasPrefix(key, prefix) {
			unlock := l.windows.Lock(key)
			l.windows.Delete(key)
			unlock()
		}
		return true
	})
	return nil
}

// Prune drops windows with no hits left inside their window and returns how many were dropped
func (l *SlidingWindowLimiter) Prune() int {
	dropped := 0
	now := l.clock.Now()
	l.windows.Range(func(key string, _ *rateWindow) bool {
		unlock := l.windows.Lock(key)
		defer unlock()

		w, ok := l.windows.Get(key)
		if !ok {
			return true
		}
		w.hits = pruneHits(w.hits, now.Add(-l.limitFor(w.action).Window))
		if len(w.hits) == 0 {
			l.windows.Delete(key)
			dropped++
		}
		return true
	})
	return dropped
}

// pruneHits drops hits at or before cutoff; hits are in ascending order
func pruneHits(hits []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return hits
	}
	return append(hits[:0], hits[i:]...)
}

func recordLimitHit(ctx context.Context, audit *AuditService, logger *slog.Logger, subject, action string, count int) {
	metrics.RateLimitHitsTotal.WithLabelValues(action).Inc()
	if logger != nil {
		logger.WarnContext(ctx, "rate limit exceeded",
			slog.String("subject", subject),
			slog.String("action", action),
			slog.Int("attempts", count),
		)
	}
	if audit != nil {
		audit.LogSecurityEvent(ctx, SecurityEventRateLimitExceeded, subject, "action="+action)
	}
}
