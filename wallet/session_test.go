package wallet

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/algorand/go-algorand-sdk/v2/types"

	algomart "github.com/algomart-labs/algomart-go"
)

type fakeAgent struct {
	mu            sync.Mutex
	accounts      []string
	connectErr    error
	reconnectErr  error
	disconnects   int
	listeners     map[int]func()
	nextListener  int
	unsubscribes  int
	signatureErr  error
	signatures    int
}

func newFakeAgent(accounts ...string) *fakeAgent {
	return &fakeAgent{
		accounts:  accounts,
		listeners: make(map[int]func()),
	}
}

func (a *fakeAgent) Connect(ctx context.Context) ([]string, error) {
	if a.connectErr != nil {
		return nil, a.connectErr
	}
	return a.accounts, nil
}

func (a *fakeAgent) ReconnectSession(ctx context.Context) ([]string, error) {
	if a.reconnectErr != nil {
		return nil, a.reconnectErr
	}
	return a.accounts, nil
}

func (a *fakeAgent) SignTransaction(ctx context.Context, txn types.Transaction) ([]byte, error) {
	a.mu.Lock()
	a.signatures++
	a.mu.Unlock()
	if a.signatureErr != nil {
		return nil, a.signatureErr
	}
	return []byte("signed"), nil
}

func (a *fakeAgent) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	a.disconnects++
	a.mu.Unlock()
	return nil
}

func (a *fakeAgent) OnDisconnect(handler func()) func() {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := a.nextListener
	a.nextListener++
	a.listeners[id] = handler
	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		delete(a.listeners, id)
		a.unsubscribes++
	}
}

func (a *fakeAgent) fireDisconnect() {
	a.mu.Lock()
	handlers := make([]func(), 0, len(a.listeners))
	for _, h := range a.listeners {
		handlers = append(handlers, h)
	}
	a.mu.Unlock()
	for _, h := range handlers {
		h()
	}
}

func (a *fakeAgent) listenerCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.listeners)
}

const testAddr = "AGENTY3A5XQKJMZV2W4T6UIHGFDSAPLNBEORC3X5M7Q2W4T6UIHGFDSAAA"

func TestManagerConnect(t *testing.T) {
	agent := newFakeAgent(testAddr)
	mgr := NewManager(agent)

	addr, err := mgr.Connect(context.Background())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if addr != testAddr {
		t.Fatalf("address = %s, want %s", addr, testAddr)
	}

	session := mgr.Session()
	if !session.Connected || session.AccountAddress != testAddr {
		t.Fatalf("session = %+v, want connected as %s", session, testAddr)
	}

	select {
	case <-mgr.Disconnected():
		t.Fatal("disconnect channel closed while session active")
	default:
	}
}

func TestManagerConnectRejected(t *testing.T) {
	agent := newFakeAgent(testAddr)
	agent.connectErr = errors.New("user closed modal")
	mgr := NewManager(agent)

	_, err := mgr.Connect(context.Background())
	if algomart.CodeOf(err) != algomart.ErrCodeConnectionRejected {
		t.Fatalf("error code = %q, want %q", algomart.CodeOf(err), algomart.ErrCodeConnectionRejected)
	}
	if mgr.Session().Connected {
		t.Fatal("session connected after rejection")
	}
}

func TestManagerResumeWithoutPriorSession(t *testing.T) {
	agent := newFakeAgent()
	agent.reconnectErr = errors.New("no session to resume")
	mgr := NewManager(agent)

	addr, err := mgr.TryResumeSession(context.Background())
	if err != nil {
		t.Fatalf("resume must not fail when no session exists: %v", err)
	}
	if addr != "" {
		t.Fatalf("address = %q, want empty", addr)
	}
}

func TestManagerResumeRecoversSession(t *testing.T) {
	agent := newFakeAgent(testAddr)
	mgr := NewManager(agent)

	addr, err := mgr.TryResumeSession(context.Background())
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if addr != testAddr || !mgr.Session().Connected {
		t.Fatalf("session not recovered: addr=%q session=%+v", addr, mgr.Session())
	}
}

func TestManagerExternalDisconnectFiresOnce(t *testing.T) {
	agent := newFakeAgent(testAddr)
	mgr := NewManager(agent)
	if _, err := mgr.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	ch := mgr.Disconnected()

	// Deliver the signal twice; the second must be a no-op.
	agent.fireDisconnect()
	agent.fireDisconnect()

	select {
	case <-ch:
	default:
		t.Fatal("disconnect channel not closed")
	}
	if mgr.Session().Connected {
		t.Fatal("session still connected after external disconnect")
	}
}

func TestManagerDisconnectIdempotent(t *testing.T) {
	agent := newFakeAgent(testAddr)
	mgr := NewManager(agent)

	// Disconnecting before connecting is a no-op.
	if err := mgr.Disconnect(context.Background()); err != nil {
		t.Fatalf("disconnect unconnected: %v", err)
	}
	if agent.disconnects != 0 {
		t.Fatalf("agent disconnects = %d, want 0", agent.disconnects)
	}

	if _, err := mgr.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := mgr.Disconnect(context.Background()); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if err := mgr.Disconnect(context.Background()); err != nil {
		t.Fatalf("second disconnect: %v", err)
	}
	if agent.disconnects != 1 {
		t.Fatalf("agent disconnects = %d, want 1", agent.disconnects)
	}
}

func TestManagerListenerPairedWithSession(t *testing.T) {
	agent := newFakeAgent(testAddr)
	mgr := NewManager(agent)

	for i := 0; i < 3; i++ {
		if _, err := mgr.Connect(context.Background()); err != nil {
			t.Fatalf("connect %d: %v", i, err)
		}
		if err := mgr.Disconnect(context.Background()); err != nil {
			t.Fatalf("disconnect %d: %v", i, err)
		}
	}
	// Every session's listener was unregistered with it.
	if n := agent.listenerCount(); n != 0 {
		t.Fatalf("leaked %d disconnect listeners", n)
	}
}

func TestManagerSignWithoutSession(t *testing.T) {
	mgr := NewManager(newFakeAgent(testAddr))
	_, err := mgr.SignTransaction(context.Background(), types.Transaction{})
	if algomart.CodeOf(err) != algomart.ErrCodeSessionLost {
		t.Fatalf("error code = %q, want %q", algomart.CodeOf(err), algomart.ErrCodeSessionLost)
	}
}

// eagerAgent delivers the disconnect callback synchronously, before the
// registration call returns.
type eagerAgent struct {
	*fakeAgent
}

func (a *eagerAgent) OnDisconnect(handler func()) func() {
	unsubscribe := a.fakeAgent.OnDisconnect(handler)
	handler()
	return unsubscribe
}

func TestManagerSynchronousDisconnectDuringRegistration(t *testing.T) {
	agent := &eagerAgent{fakeAgent: newFakeAgent(testAddr)}
	mgr := NewManager(agent)

	done := make(chan string, 1)
	go func() {
		addr, err := mgr.Connect(context.Background())
		if err != nil {
			t.Errorf("connect: %v", err)
		}
		done <- addr
	}()

	select {
	case addr := <-done:
		if addr != testAddr {
			t.Fatalf("address = %s, want %s", addr, testAddr)
		}
	case <-time.After(time.Second):
		t.Fatal("connect deadlocked on synchronous disconnect delivery")
	}

	if mgr.Session().Connected {
		t.Fatal("session survived a disconnect delivered during registration")
	}
	select {
	case <-mgr.Disconnected():
	default:
		t.Fatal("disconnect channel not closed")
	}
	if n := agent.listenerCount(); n != 0 {
		t.Fatalf("leaked %d disconnect listeners", n)
	}
}

func TestManagerStaleDisconnectIgnored(t *testing.T) {
	agent := newFakeAgent(testAddr)
	mgr := NewManager(agent)
	if _, err := mgr.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	// Capture the first session's handler, then roll the session over.
	agent.mu.Lock()
	var stale func()
	for _, h := range agent.listeners {
		stale = h
	}
	agent.mu.Unlock()

	if _, err := mgr.Connect(context.Background()); err != nil {
		t.Fatalf("reconnect: %v", err)
	}

	// A late signal for the old session must not end the new one.
	stale()
	if !mgr.Session().Connected {
		t.Fatal("stale disconnect ended the new session")
	}
}
