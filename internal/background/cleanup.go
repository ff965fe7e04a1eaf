// Package background runs periodic maintenance: expiring login attempts,
// pruning idle rate windows and trimming the audit log.
package background

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BradenHooton/otpdesk/internal/clock"
)

// TaskFunc performs one maintenance pass and returns how many items it removed
type TaskFunc func(ctx context.Context) (int64, error)

type task struct {
	name     string
	interval time.Duration
	timeout  time.Duration
	run      TaskFunc
}

// CleanupManager runs each registered task on its own interval
type CleanupManager struct {
	logger    *slog.Logger
	newTicker clock.TickerFactory
	tasks     []task
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// NewCleanupManager creates a new cleanup manager. A nil factory uses real tickers.
func NewCleanupManager(logger *slog.Logger, newTicker clock.TickerFactory) *CleanupManager {
	if newTicker == nil {
		newTicker = clock.NewTicker
	}
	return &CleanupManager{
		logger:    logger,
		newTicker: newTicker,
		stopCh:    make(chan struct{}),
	}
}

// AddTask registers fn to run every interval. It must be called before Start.
func (cm *CleanupManager) AddTask(name string, interval time.Duration, fn TaskFunc) {
	if interval <= 0 || fn == nil {
		return
	}
	cm.tasks = append(cm.tasks, task{name: name, interval: interval, timeout: 30 * time.Second, run: fn})
}

// Start runs every task once, then on its interval, until ctx is done or Stop
// is called. It blocks until all task loops have exited.
func (cm *CleanupManager) Start(ctx context.Context) {
	for _, t := range cm.tasks {
		ticker := cm.newTicker(t.interval)
		cm.wg.Add(1)
		go cm.loop(ctx, t, ticker)
	}
	cm.wg.Wait()
	cm.logger.Info("cleanup manager stopped")
}

func (cm *CleanupManager) loop(ctx context.Context, t task, ticker clock.Ticker) {
	defer cm.wg.Done()
	defer ticker.Stop()

	cm.runTask(ctx, t)
	for {
		select {
		case <-ticker.C():
			cm.runTask(ctx, t)
		case <-cm.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (cm *CleanupManager) runTask(ctx context.Context, t task) {
	taskCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	removed, err := t.run(taskCtx)
	if err != nil {
		cm.logger.Error("cleanup task failed", slog.String("task", t.name), slog.Any("error", err))
		return
	}
	if removed > 0 {
		cm.logger.Info("cleanup task completed", slog.String("task", t.name), slog.Int64("removed", removed))
	}
}

// Stop signals every task loop to exit. It is safe to call more than once.
func (cm *CleanupManager) Stop() {
	cm.stopOnce.Do(func() { close(cm.stopCh) })
}
