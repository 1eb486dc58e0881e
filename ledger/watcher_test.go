package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/algorand/go-algorand-sdk/v2/types"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	algomart "github.com/algomart-labs/algomart-go"
)

// fakeClient scripts node behavior round by round. pending[i] is the
// response to the i-th poll.
type fakeClient struct {
	round     uint64
	pending   []PendingInfo
	polls     int
	sendTxID  string
	sendErr   error
	sends     int
	paramsErr error
}

func (c *fakeClient) SuggestedParams(ctx context.Context) (types.SuggestedParams, error) {
	if c.paramsErr != nil {
		return types.SuggestedParams{}, c.paramsErr
	}
	return types.SuggestedParams{
		Fee:             1000,
		FirstRoundValid: types.Round(c.round),
		LastRoundValid:  types.Round(c.round + 1000),
		GenesisID:       "testnet-v1.0",
		GenesisHash:     make([]byte, 32),
	}, nil
}

func (c *fakeClient) SendRawTransaction(ctx context.Context, stx []byte) (string, error) {
	c.sends++
	if c.sendErr != nil {
		return "", c.sendErr
	}
	return c.sendTxID, nil
}

func (c *fakeClient) PendingTransactionInformation(ctx context.Context, txid string) (PendingInfo, error) {
	c.polls++
	if c.polls > len(c.pending) {
		return PendingInfo{}, nil
	}
	return c.pending[c.polls-1], nil
}

func (c *fakeClient) LastRound(ctx context.Context) (uint64, error) {
	return c.round, nil
}

func (c *fakeClient) WaitForRoundAfter(ctx context.Context, round uint64) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	c.round = round
	return nil
}

func TestSubmitAndConfirmConfirmsWithinWindow(t *testing.T) {
	client := &fakeClient{
		round:    100,
		sendTxID: "TXOK",
		pending: []PendingInfo{
			{},
			{},
			{ConfirmedRound: 102},
		},
	}
	watcher := NewWatcher(client, nil)

	receipt, err := watcher.SubmitAndConfirm(context.Background(), []byte("stx"), 4)
	if err != nil {
		t.Fatalf("submit and confirm: %v", err)
	}
	if receipt.TxID != "TXOK" || receipt.ConfirmedRound != 102 {
		t.Fatalf("receipt = %+v, want TXOK at round 102", receipt)
	}
	if client.sends != 1 {
		t.Fatalf("sends = %d, want exactly 1", client.sends)
	}
}

func TestSubmitAndConfirmPoolError(t *testing.T) {
	client := &fakeClient{
		round:    100,
		sendTxID: "TXBAD",
		pending: []PendingInfo{
			{},
			{PoolError: "overspend"},
		},
	}
	watcher := NewWatcher(client, nil)

	_, err := watcher.SubmitAndConfirm(context.Background(), []byte("stx"), 4)
	if algomart.CodeOf(err) != algomart.ErrCodeTransactionRejected {
		t.Fatalf("error code = %q, want %q", algomart.CodeOf(err), algomart.ErrCodeTransactionRejected)
	}
	if algomart.TxIDOf(err) != "TXBAD" {
		t.Fatalf("txid in error = %q, want TXBAD", algomart.TxIDOf(err))
	}
}

func TestSubmitAndConfirmTimesOutAfterWindow(t *testing.T) {
	client := &fakeClient{
		round:    100,
		sendTxID: "TXSLOW",
	}
	watcher := NewWatcher(client, nil)

	_, err := watcher.SubmitAndConfirm(context.Background(), []byte("stx"), 4)
	if algomart.CodeOf(err) != algomart.ErrCodeConfirmationTimeout {
		t.Fatalf("error code = %q, want %q", algomart.CodeOf(err), algomart.ErrCodeConfirmationTimeout)
	}
	if algomart.TxIDOf(err) != "TXSLOW" {
		t.Fatalf("txid in error = %q, want TXSLOW", algomart.TxIDOf(err))
	}
	if client.polls != 4 {
		t.Fatalf("polls = %d, want 4", client.polls)
	}
}

func TestSubmitAndConfirmSubmissionRejected(t *testing.T) {
	client := &fakeClient{
		round:   100,
		sendErr: errors.New("TransactionPool.Remember: overspend"),
	}
	watcher := NewWatcher(client, nil)

	_, err := watcher.SubmitAndConfirm(context.Background(), []byte("stx"), 4)
	if algomart.CodeOf(err) != algomart.ErrCodeTransactionRejected {
		t.Fatalf("error code = %q, want %q", algomart.CodeOf(err), algomart.ErrCodeTransactionRejected)
	}
	if client.polls != 0 {
		t.Fatalf("polls = %d, want 0 after failed submission", client.polls)
	}
}

func TestSubmitAndConfirmContextCancelled(t *testing.T) {
	client := &fakeClient{
		round:    100,
		sendTxID: "TXCANCEL",
	}
	watcher := NewWatcher(client, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := watcher.SubmitAndConfirm(ctx, []byte("stx"), 4)
	if algomart.CodeOf(err) != algomart.ErrCodeConfirmationTimeout {
		t.Fatalf("error code = %q, want %q", algomart.CodeOf(err), algomart.ErrCodeConfirmationTimeout)
	}
	if algomart.TxIDOf(err) != "TXCANCEL" {
		t.Fatalf("txid in error = %q, want TXCANCEL", algomart.TxIDOf(err))
	}
}

func TestConfirmOnlyDoesNotResubmit(t *testing.T) {
	client := &fakeClient{
		round: 200,
		pending: []PendingInfo{
			{ConfirmedRound: 198},
		},
	}
	watcher := NewWatcher(client, nil)

	receipt, err := watcher.ConfirmOnly(context.Background(), "TXPRIOR", 4)
	if err != nil {
		t.Fatalf("confirm only: %v", err)
	}
	if receipt.TxID != "TXPRIOR" || receipt.ConfirmedRound != 198 {
		t.Fatalf("receipt = %+v, want TXPRIOR at round 198", receipt)
	}
	if client.sends != 0 {
		t.Fatalf("sends = %d, want 0", client.sends)
	}
}

func TestBuildPaymentUsesSuggestedParams(t *testing.T) {
	client := &fakeClient{round: 100}
	watcher := NewWatcher(client, nil)

	addr := types.ZeroAddress.String()
	intent := algomart.PaymentIntent{
		From:             addr,
		To:               addr,
		AmountMicroAlgos: 2_500_000,
		Note:             []byte("AlgoMart Purchase: test"),
	}
	txn, err := watcher.BuildPayment(context.Background(), intent)
	if err != nil {
		t.Fatalf("build payment: %v", err)
	}
	if txn.Amount != 2_500_000 {
		t.Fatalf("amount = %d, want 2500000", txn.Amount)
	}
	if string(txn.Note) != "AlgoMart Purchase: test" {
		t.Fatalf("note = %q", txn.Note)
	}
	if txn.Sender.String() != addr {
		t.Fatalf("sender = %s, want %s", txn.Sender, addr)
	}
}

func TestBuildPaymentLogsDisplayAmount(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	client := &fakeClient{round: 100}
	watcher := NewWatcher(client, zap.New(core))

	addr := types.ZeroAddress.String()
	_, err := watcher.BuildPayment(context.Background(), algomart.PaymentIntent{
		From:             addr,
		To:               addr,
		AmountMicroAlgos: 2_500_000,
	})
	if err != nil {
		t.Fatalf("build payment: %v", err)
	}

	entries := logs.FilterMessage("payment built").All()
	if len(entries) != 1 {
		t.Fatalf("payment built logged %d times, want 1", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["amount_algo"] != 2.5 {
		t.Fatalf("amount_algo field = %v, want 2.5", fields["amount_algo"])
	}
	if fields["from"] != algomart.FormatAddress(addr) {
		t.Fatalf("from field = %v, want %s", fields["from"], algomart.FormatAddress(addr))
	}
}

func TestBuildPaymentParamsUnavailable(t *testing.T) {
	client := &fakeClient{paramsErr: errors.New("node down")}
	watcher := NewWatcher(client, nil)

	_, err := watcher.BuildPayment(context.Background(), algomart.PaymentIntent{})
	if err == nil {
		t.Fatal("expected error when params are unavailable")
	}
}
