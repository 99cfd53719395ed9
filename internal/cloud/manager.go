package cloud

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/devilrob/felshare-cloud/internal/infrastructure/config"
	"github.com/devilrob/felshare-cloud/internal/infrastructure/logging"
)

// Connection lifecycle states exposed through diagnostics.
const (
	StateDisconnected = "disconnected"
	StateConnecting   = "connecting"
	StateConnected    = "connected"
	StateBackingOff   = "backing_off"
	StateRateLimited  = "rate_limited"
	StateAuthPaused   = "auth_paused"
)

// Backoff starting points, matching the vendor app's observed pacing.
const (
	initialLoginBackoff  = 5 * time.Second
	initialBrokerBackoff = 3 * time.Second

	// maxFailuresPerToken is how many consecutive broker failures we
	// tolerate before assuming the token itself is the problem.
	maxFailuresPerToken = 3
)

// Conn is an established broker session managed by the transport layer.
type Conn interface {
	// Done yields the terminal error once the session drops. A clean
	// shutdown delivers nil.
	Done() <-chan error
	Close() error
}

// Connector dials the broker with a session token. Implementations must
// not auto-reconnect; the Manager owns that decision.
type Connector interface {
	Connect(ctx context.Context, token string) (Conn, error)
}

// Status is a point-in-time view of the connection lifecycle.
type Status struct {
	State         string    `json:"state"`
	LastError     string    `json:"last_error,omitempty"`
	ConnectedAt   time.Time `json:"connected_at,omitzero"`
	NextAttemptAt time.Time `json:"next_attempt_at,omitzero"`
	LoginCount    int       `json:"login_count"`
	BrokerDrops   int       `json:"broker_drops"`
}

// Manager runs the login and reconnect loop.
//
// It reuses one session token across broker reconnects, discarding it
// only when it expires, the broker rejects it, or repeated failures make
// it suspect. OnConnected/OnDisconnected fire from the manager goroutine.
type Manager struct {
	client    *Client
	connector Connector
	logger    *logging.Logger

	maxBackoff       time.Duration
	authPause        time.Duration
	rateLimitBackoff time.Duration
	loginBackoff0    time.Duration
	brokerBackoff0   time.Duration

	// OnConnected and OnDisconnected, when set, are invoked on session
	// edges. Set them before Run.
	OnConnected    func()
	OnDisconnected func()

	mu     sync.Mutex
	status Status
}

// NewManager creates a connection Manager.
func NewManager(client *Client, connector Connector, cfg config.CloudConfig, logger *logging.Logger) *Manager {
	return &Manager{
		client:           client,
		connector:        connector,
		logger:           logger.With("component", "connection-manager"),
		maxBackoff:       cfg.MaxBackoff(),
		authPause:        cfg.AuthPause(),
		rateLimitBackoff: cfg.RateLimitBackoff(),
		loginBackoff0:    initialLoginBackoff,
		brokerBackoff0:   initialBrokerBackoff,
		status:           Status{State: StateDisconnected},
	}
}

// Status returns the current connection diagnostics.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Run drives the connection loop until ctx is canceled. It blocks and is
// intended to be launched as a goroutine from main.
func (m *Manager) Run(ctx context.Context) {
	loginBackoff := m.loginBackoff0
	brokerBackoff := m.brokerBackoff0
	failuresWithToken := 0
	var token string

	for ctx.Err() == nil {
		if token != "" && TokenExpired(token, time.Now()) {
			m.logger.Info("session token expired, logging in again")
			token = ""
		}

		if token == "" {
			m.setState(StateConnecting, nil, 0)
			tok, err := m.client.Login(ctx)
			switch {
			case err == nil:
				token = tok
				loginBackoff = m.loginBackoff0
				brokerBackoff = m.brokerBackoff0
				failuresWithToken = 0
				m.mu.Lock()
				m.status.LoginCount++
				m.mu.Unlock()

			case errors.Is(err, ErrAuthRejected):
				m.logger.Error("credentials rejected, pausing reconnection",
					"pause", m.authPause.String())
				m.setState(StateAuthPaused, err, m.authPause)
				m.sleep(ctx, m.authPause, false)
				continue

			case errors.Is(err, ErrRateLimited):
				m.logger.Warn("login rate limited", "backoff", m.rateLimitBackoff.String())
				m.setState(StateRateLimited, err, m.rateLimitBackoff)
				m.sleep(ctx, m.rateLimitBackoff, true)
				continue

			default:
				m.logger.Warn("login failed", "error", err, "backoff", loginBackoff.String())
				m.setState(StateBackingOff, err, loginBackoff)
				m.sleep(ctx, loginBackoff, true)
				loginBackoff = doubled(loginBackoff, m.maxBackoff)
				continue
			}
		}

		conn, err := m.connector.Connect(ctx, token)
		if err != nil {
			if errors.Is(err, ErrBrokerAuth) {
				m.logger.Warn("broker rejected token, forcing relogin")
				token = ""
				failuresWithToken = 0
			} else {
				failuresWithToken++
				if failuresWithToken >= maxFailuresPerToken {
					m.logger.Warn("repeated broker failures, refreshing token",
						"failures", failuresWithToken)
					token = ""
					failuresWithToken = 0
				}
			}
			m.setState(StateBackingOff, err, brokerBackoff)
			m.sleep(ctx, brokerBackoff, true)
			brokerBackoff = doubled(brokerBackoff, m.maxBackoff)
			continue
		}

		brokerBackoff = m.brokerBackoff0
		failuresWithToken = 0
		m.mu.Lock()
		m.status = Status{
			State:       StateConnected,
			ConnectedAt: time.Now(),
			LoginCount:  m.status.LoginCount,
			BrokerDrops: m.status.BrokerDrops,
		}
		m.mu.Unlock()
		m.logger.Info("broker session established")
		if m.OnConnected != nil {
			m.OnConnected()
		}

		var sessionErr error
		select {
		case sessionErr = <-conn.Done():
		case <-ctx.Done():
			_ = conn.Close()
			m.setState(StateDisconnected, nil, 0)
			if m.OnDisconnected != nil {
				m.OnDisconnected()
			}
			return
		}

		_ = conn.Close()
		m.mu.Lock()
		m.status.BrokerDrops++
		m.mu.Unlock()
		if m.OnDisconnected != nil {
			m.OnDisconnected()
		}

		if errors.Is(sessionErr, ErrBrokerAuth) {
			m.logger.Warn("session dropped for authorization, forcing relogin")
			token = ""
		} else if sessionErr != nil {
			m.logger.Warn("broker session dropped", "error", sessionErr)
		}

		m.setState(StateBackingOff, sessionErr, brokerBackoff)
		m.sleep(ctx, brokerBackoff, true)
		brokerBackoff = doubled(brokerBackoff, m.maxBackoff)
	}

	m.setState(StateDisconnected, nil, 0)
}

func (m *Manager) setState(state string, err error, retryIn time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status.State = state
	if err != nil {
		m.status.LastError = err.Error()
	} else {
		m.status.LastError = ""
	}
	if retryIn > 0 {
		m.status.NextAttemptAt = time.Now().Add(retryIn)
	} else {
		m.status.NextAttemptAt = time.Time{}
	}
}

// sleep waits for the given duration or until ctx is canceled. Jittered
// waits get +-20% so reconnect attempts do not form a bot-like cadence.
func (m *Manager) sleep(ctx context.Context, d time.Duration, jitter bool) {
	if jitter {
		d = jittered(d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

func jittered(d time.Duration) time.Duration {
	f := d.Seconds() * (1 + (rand.Float64()*0.4 - 0.2))
	if f < 1 {
		f = 1
	}
	return time.Duration(f * float64(time.Second))
}

func doubled(d, ceiling time.Duration) time.Duration {
	d *= 2
	if d > ceiling {
		return ceiling
	}
	return d
}
