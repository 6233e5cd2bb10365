package registration

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sebas/webphone/internal/webphone/account"
	"github.com/sebas/webphone/internal/webphone/metrics"
	"github.com/sebas/webphone/internal/webphone/signaling"
)

// shutdownGrace bounds Shutdown when the caller's context carries no
// deadline of its own.
const shutdownGrace = 3 * time.Second

// ProviderFactory builds a signaling provider for a fetched account.
type ProviderFactory func(acc *account.Account) (signaling.Provider, error)

// Manager drives the initialization sequence and owns the provider.
//
// Thread safety: all methods are safe for concurrent use. Status
// listeners are invoked synchronously; keep them fast.
type Manager struct {
	mu          sync.Mutex
	client      *account.Client
	factory     ProviderFactory
	provider    signaling.Provider
	acc         *account.Account
	status      Status
	initialized bool
	listeners   []func(Status)
}

// NewManager creates a manager fetching configuration through client and
// building providers through factory.
func NewManager(client *account.Client, factory ProviderFactory) *Manager {
	return &Manager{
		client:  client,
		factory: factory,
		status:  StatusOffline,
	}
}

// OnStatus registers a listener for status changes. The listener is
// immediately invoked with the current status.
func (m *Manager) OnStatus(fn func(Status)) {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	current := m.status
	m.mu.Unlock()
	fn(current)
}

// Status returns the current registration status.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Provider returns the signaling provider, or nil before a successful
// Initialize (or when the user has no account).
func (m *Manager) Provider() signaling.Provider {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.provider
}

// Account returns the fetched account, or nil.
func (m *Manager) Account() *account.Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.acc
}

// Initialize fetches the account configuration, builds and starts the
// provider, and registers. It runs the sequence at most once; repeated
// calls after a completed attempt are no-ops returning nil.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	if m.initialized {
		m.mu.Unlock()
		return nil
	}
	m.initialized = true
	m.mu.Unlock()

	cfg, err := m.client.FetchConfig(ctx)
	if err != nil {
		m.setStatus(StatusOffline)
		return fmt.Errorf("webphone config: %w", err)
	}
	if !cfg.HasAccount {
		slog.Info("[Registration] No SIP account provisioned")
		m.setStatus(StatusNoAccount)
		return nil
	}

	provider, err := m.factory(cfg.Account)
	if err != nil {
		m.setStatus(StatusOffline)
		return fmt.Errorf("build signaling provider: %w", err)
	}

	m.mu.Lock()
	m.acc = cfg.Account
	m.provider = provider
	m.mu.Unlock()

	provider.OnRegistrationState(func(state signaling.RegistrationState) {
		m.setStatus(statusFor(state))
	})

	if err := provider.Start(ctx); err != nil {
		m.setStatus(StatusOffline)
		return fmt.Errorf("start signaling provider: %w", err)
	}
	m.setStatus(StatusConnected)

	if err := provider.Register(ctx); err != nil {
		m.setStatus(StatusFailed)
		return fmt.Errorf("register: %w", err)
	}

	slog.Info("[Registration] Registered",
		"extension", cfg.Account.Extension,
		"domain", cfg.Account.Domain,
	)
	return nil
}

// Shutdown is the best-effort teardown invoked from the host's shutdown
// hook. It unregisters and closes the provider within a bounded time and
// never panics; partial completion is acceptable.
func (m *Manager) Shutdown(ctx context.Context) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, shutdownGrace)
		defer cancel()
	}

	m.mu.Lock()
	provider := m.provider
	m.provider = nil
	m.mu.Unlock()

	if provider == nil {
		return
	}
	if err := provider.Unregister(ctx); err != nil {
		slog.Warn("[Registration] Unregister during shutdown", "error", err)
	}
	if err := provider.Close(ctx); err != nil {
		slog.Warn("[Registration] Provider close during shutdown", "error", err)
	}
	m.setStatus(StatusOffline)
}

func (m *Manager) setStatus(s Status) {
	m.mu.Lock()
	if m.status == s {
		m.mu.Unlock()
		return
	}
	m.status = s
	listeners := make([]func(Status), len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	metrics.RegistrationStatus.Set(float64(s))
	slog.Info("[Registration] Status changed", "status", s.String())
	for _, fn := range listeners {
		fn(s)
	}
}

func statusFor(state signaling.RegistrationState) Status {
	switch state {
	case signaling.RegistrationRegistered:
		return StatusRegistered
	case signaling.RegistrationConnected:
		return StatusConnected
	case signaling.RegistrationFailed:
		return StatusFailed
	default:
		return StatusOffline
	}
}
