package wallet

import (
	"context"
	"fmt"
	"sync"

	"github.com/algorand/go-algorand-sdk/v2/crypto"
	"github.com/algorand/go-algorand-sdk/v2/mnemonic"
	"github.com/algorand/go-algorand-sdk/v2/types"
)

// LocalAgent is a SigningAgent backed by an in-process key, for server-side
// accounts and tests. It never refuses to connect and never signals an
// out-of-band disconnect on its own.
type LocalAgent struct {
	mu        sync.Mutex
	account   crypto.Account
	listeners []func()
}

// NewLocalAgent derives the signing key from a 25-word mnemonic.
func NewLocalAgent(mnemonicPhrase string) (*LocalAgent, error) {
	sk, err := mnemonic.ToPrivateKey(mnemonicPhrase)
	if err != nil {
		return nil, fmt.Errorf("invalid mnemonic: %w", err)
	}
	account, err := crypto.AccountFromPrivateKey(sk)
	if err != nil {
		return nil, fmt.Errorf("derive account: %w", err)
	}
	return &LocalAgent{account: account}, nil
}

// Address returns the agent's account address.
func (a *LocalAgent) Address() string {
	return a.account.Address.String()
}

func (a *LocalAgent) Connect(ctx context.Context) ([]string, error) {
	return []string{a.account.Address.String()}, nil
}

func (a *LocalAgent) ReconnectSession(ctx context.Context) ([]string, error) {
	return []string{a.account.Address.String()}, nil
}

func (a *LocalAgent) SignTransaction(ctx context.Context, txn types.Transaction) ([]byte, error) {
	_, stx, err := crypto.SignTransaction(a.account.PrivateKey, txn)
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	return stx, nil
}

func (a *LocalAgent) Disconnect(ctx context.Context) error {
	return nil
}

func (a *LocalAgent) OnDisconnect(handler func()) func() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.listeners = append(a.listeners, handler)
	idx := len(a.listeners) - 1
	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		if idx < len(a.listeners) {
			a.listeners[idx] = nil
		}
	}
}

// TriggerDisconnect fires all registered disconnect listeners. Used by tests
// to simulate the user terminating the session from the wallet side.
func (a *LocalAgent) TriggerDisconnect() {
	a.mu.Lock()
	listeners := make([]func(), len(a.listeners))
	copy(listeners, a.listeners)
	a.mu.Unlock()

	for _, fn := range listeners {
		if fn != nil {
			fn()
		}
	}
}
