// Package worker runs the periodic device sync in the background.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const DefaultInterval = 300 * time.Second

// tick bounds how long a stop request can go unnoticed between cycles.
var tick = 100 * time.Millisecond

// Cycle is one unit of background work. Its error is logged, never fatal.
type Cycle func(ctx context.Context) error

// Handle owns one running worker loop.
type Handle struct {
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// Start runs cycle immediately and then once per interval until Stop is
// called or ctx is done. A cycle already in flight is never cancelled; the
// loop exits after it returns.
func Start(ctx context.Context, interval time.Duration, cycle Cycle, logger zerolog.Logger) *Handle {
	if interval <= 0 {
		interval = DefaultInterval
	}
	h := &Handle{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	logger = logger.With().Str("component", "worker").Logger()
	poll := tick

	go func() {
		defer close(h.done)
		logger.Info().Dur("interval", interval).Msg("background sync started")
		defer logger.Info().Msg("background sync stopped")

		cycleCtx := context.WithoutCancel(ctx)
		ticker := time.NewTicker(poll)
		defer ticker.Stop()

		for {
			started := time.Now()
			if err := cycle(cycleCtx); err != nil {
				logger.Warn().Err(err).Msg("sync cycle failed")
			}

			for waiting := true; waiting; {
				select {
				case <-h.stop:
					return
				case <-ctx.Done():
					return
				case <-ticker.C:
					waiting = time.Since(started) < interval
				}
			}
		}
	}()
	return h
}

// Stop asks the loop to exit. It does not wait; use Done for that.
func (h *Handle) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
}

// Done is closed once the loop has exited.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

func (h *Handle) Running() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Manager keeps at most one worker per process.
type Manager struct {
	ctx    context.Context
	cycle  Cycle
	logger zerolog.Logger

	mu     sync.Mutex
	handle *Handle
}

func NewManager(ctx context.Context, cycle Cycle, logger zerolog.Logger) *Manager {
	return &Manager{ctx: ctx, cycle: cycle, logger: logger}
}

// Start launches the worker unless one is still running, in which case it
// returns false.
func (m *Manager) Start(interval time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handle != nil && m.handle.Running() {
		return false
	}
	m.handle = Start(m.ctx, interval, m.cycle, m.logger)
	return true
}

func (m *Manager) Stop() {
	m.mu.Lock()
	h := m.handle
	m.mu.Unlock()
	if h != nil {
		h.Stop()
	}
}

// IsRunning reports whether a loop is alive, including one that was asked to
// stop but is still finishing its current cycle.
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handle != nil && m.handle.Running()
}

// Wait blocks until the current loop exits or ctx is done.
func (m *Manager) Wait(ctx context.Context) error {
	m.mu.Lock()
	h := m.handle
	m.mu.Unlock()
	if h == nil {
		return nil
	}
	select {
	case <-h.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
