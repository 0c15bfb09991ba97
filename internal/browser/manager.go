// Package browser owns the single headless browser session the crawler
// drives. Callers work through the Page interface; the Manager launches the
// session, restarts it after driver faults and tears it down.
package browser

import (
	"context"
	"errors"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/twstock-cli/internal/resilience"
)

// Page is the browser surface the navigator and filing fetcher use.
type Page interface {
	Navigate(ctx context.Context, url string) error
	Fill(ctx context.Context, selector, value string) error
	Click(ctx context.Context, selector string) error
	HTML(ctx context.Context) (string, error)
	PrintPDF(ctx context.Context) ([]byte, error)
}

// Launcher starts a browser and returns its page and a teardown func.
type Launcher func(ctx context.Context) (Page, func(), error)

// ManagerConfig bounds launch retries and session restarts.
type ManagerConfig struct {
	LaunchAttempts int
	MaxRestarts    int
	Retry          resilience.RetryConfig
}

// Manager holds at most one live session.
type Manager struct {
	launch Launcher
	cfg    ManagerConfig

	mu       sync.Mutex
	page     Page
	teardown func()
	restarts int
}

// NewManager creates a Manager. No browser starts until Acquire or Do.
func NewManager(launch Launcher, cfg ManagerConfig) *Manager {
	if cfg.LaunchAttempts <= 0 {
		cfg.LaunchAttempts = 3
	}
	if cfg.MaxRestarts < 0 {
		cfg.MaxRestarts = 0
	}
	return &Manager{launch: launch, cfg: cfg}
}

// Acquire returns the live page, launching a session if none is live.
// Launch failures are retried; when every attempt fails the error is
// ErrSessionUnavailable.
func (m *Manager) Acquire(ctx context.Context) (Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.acquireLocked(ctx)
}

func (m *Manager) acquireLocked(ctx context.Context) (Page, error) {
	if m.page != nil {
		return m.page, nil
	}

	retry := m.cfg.Retry
	retry.MaxAttempts = m.cfg.LaunchAttempts
	retry.ShouldRetry = func(error) bool { return ctx.Err() == nil }
	retry.OnRetry = resilience.RetryLogger("browser", "launch")

	var teardown func()
	page, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (Page, error) {
		p, td, err := m.launch(ctx)
		if err != nil {
			return nil, err
		}
		teardown = td
		return p, nil
	})
	if err != nil {
		return nil, resilience.Mark(resilience.KindSessionUnavailable,
			eris.Wrapf(err, "browser: launch failed after %d attempts", m.cfg.LaunchAttempts))
	}

	m.page, m.teardown = page, teardown
	zap.L().Info("browser: session started")
	return page, nil
}

// Release tears the session down. Safe to call when no session is live.
func (m *Manager) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releaseLocked()
}

func (m *Manager) releaseLocked() {
	if m.teardown != nil {
		m.teardown()
		zap.L().Info("browser: session released")
	}
	m.page, m.teardown = nil, nil
}

// ResetRestarts restores the restart budget; called once per identifier.
func (m *Manager) ResetRestarts() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.restarts = 0
}

// Restarts reports how many restarts the current identifier has used.
func (m *Manager) Restarts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.restarts
}

// Do runs fn against the live page. When fn fails with a driver fault the
// session is replaced and fn runs again, until the restart budget is spent;
// the fault is then returned. Other errors are returned unchanged.
func (m *Manager) Do(ctx context.Context, fn func(ctx context.Context, page Page) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for {
		page, err := m.acquireLocked(ctx)
		if err != nil {
			return err
		}

		err = fn(ctx, page)
		if err == nil || !errors.Is(err, resilience.ErrDriverFault) {
			return err
		}

		m.releaseLocked()
		if m.restarts >= m.cfg.MaxRestarts {
			return eris.Wrapf(err, "browser: restart budget of %d exhausted", m.cfg.MaxRestarts)
		}
		m.restarts++
		zap.L().Warn("browser: driver fault, restarting session",
			zap.Int("restart", m.restarts),
			zap.Int("max_restarts", m.cfg.MaxRestarts),
			zap.Error(err),
		)
	}
}
