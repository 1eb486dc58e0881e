// Package wallet manages the session with an external Algorand signing
// agent: connect, resume, disconnect, and the out-of-band disconnect signal
// agents deliver when the user terminates the session from their own device.
package wallet

import (
	"context"
	"sync"

	"github.com/algorand/go-algorand-sdk/v2/types"

	algomart "github.com/algomart-labs/algomart-go"
)

// SigningAgent abstracts the external wallet agent. Connect and
// ReconnectSession return the authorized account addresses; OnDisconnect
// subscribes to the agent's out-of-band disconnect signal and returns an
// unsubscribe function so listener registration can be paired with
// teardown.
type SigningAgent interface {
	Connect(ctx context.Context) ([]string, error)
	ReconnectSession(ctx context.Context) ([]string, error)
	SignTransaction(ctx context.Context, txn types.Transaction) ([]byte, error)
	Disconnect(ctx context.Context) error
	OnDisconnect(handler func()) (unsubscribe func())
}

// Manager owns the wallet session lifecycle. It is safe for concurrent use,
// though a session is buyer-local: it is never shared across buyers.
//
// Manager implements algomart.SigningSession.
type Manager struct {
	mu           sync.Mutex
	agent        SigningAgent
	session      algomart.Session
	disconnected chan struct{}
	unsubscribe  func()
	generation   uint64
}

// NewManager creates a session manager over the agent. The manager starts
// unconnected; its disconnect channel starts closed so selecting on it
// before a session exists does not block forever.
func NewManager(agent SigningAgent) *Manager {
	closed := make(chan struct{})
	close(closed)
	return &Manager{
		agent:        agent,
		disconnected: closed,
	}
}

// Connect requests a new session from the agent. On success the primary
// account becomes the session identity; on refusal the manager stays
// unconnected and the error carries the connection_rejected code.
func (m *Manager) Connect(ctx context.Context) (string, error) {
	accounts, err := m.agent.Connect(ctx)
	if err != nil {
		return "", algomart.NewSettleError(algomart.ErrCodeConnectionRejected, "wallet connection rejected", map[string]interface{}{
			"cause": err.Error(),
		})
	}
	if len(accounts) == 0 {
		return "", algomart.NewSettleError(algomart.ErrCodeConnectionRejected, "wallet connected with no accounts", nil)
	}
	return m.establish(accounts[0]), nil
}

// TryResumeSession recovers a previously authorized session without user
// interaction. Returns "" with a nil error when no prior session exists;
// that is a normal outcome, not a failure.
func (m *Manager) TryResumeSession(ctx context.Context) (string, error) {
	accounts, err := m.agent.ReconnectSession(ctx)
	if err != nil || len(accounts) == 0 {
		return "", nil
	}
	return m.establish(accounts[0]), nil
}

// establish installs the session and pairs the disconnect listener with it.
// The listener is registered outside the lock: an agent may deliver the
// disconnect callback synchronously during registration, and the handler
// needs the lock.
func (m *Manager) establish(account string) string {
	m.mu.Lock()
	m.teardownLocked()
	m.generation++
	generation := m.generation
	m.session = algomart.Session{AccountAddress: account, Connected: true}
	m.disconnected = make(chan struct{})
	m.mu.Unlock()

	unsubscribe := m.agent.OnDisconnect(func() {
		m.handleDisconnect(generation)
	})

	m.mu.Lock()
	if m.generation == generation && m.session.Connected {
		m.unsubscribe = unsubscribe
		m.mu.Unlock()
		return account
	}
	// The session ended while the listener was being registered; the
	// teardown could not have unregistered it, so do it here.
	m.mu.Unlock()
	unsubscribe()
	return account
}

// handleDisconnect reacts to the agent's out-of-band signal. The generation
// guard makes each disconnect fire exactly once per session, even if the
// agent delivers the callback late or twice.
func (m *Manager) handleDisconnect(generation uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if generation != m.generation || !m.session.Connected {
		return
	}
	m.teardownLocked()
}

// Disconnect tears down the session locally and notifies the agent.
// Idempotent: disconnecting an unconnected manager is a no-op.
func (m *Manager) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	wasConnected := m.session.Connected
	m.teardownLocked()
	m.mu.Unlock()

	if !wasConnected {
		return nil
	}
	return m.agent.Disconnect(ctx)
}

// teardownLocked clears the session, closes the disconnect channel, and
// unregisters the agent listener. Must be called with the mutex held.
func (m *Manager) teardownLocked() {
	if m.unsubscribe != nil {
		m.unsubscribe()
		m.unsubscribe = nil
	}
	if m.session.Connected {
		m.session = algomart.Session{}
		close(m.disconnected)
	}
}

// Session returns a snapshot of the current session state.
func (m *Manager) Session() algomart.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// Disconnected returns the channel closed when the current session ends.
func (m *Manager) Disconnected() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disconnected
}

// SignTransaction forwards the signature request to the agent. Fails with
// session_lost when no session is active.
func (m *Manager) SignTransaction(ctx context.Context, txn types.Transaction) ([]byte, error) {
	m.mu.Lock()
	connected := m.session.Connected
	m.mu.Unlock()

	if !connected {
		return nil, algomart.NewSettleError(algomart.ErrCodeSessionLost, "no active wallet session", nil)
	}
	return m.agent.SignTransaction(ctx, txn)
}
