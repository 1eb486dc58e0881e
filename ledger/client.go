// Package ledger submits signed transactions to an Algorand node and tracks
// them to a final outcome: confirmed in a round, rejected by the pool, or
// unknown after the confirmation window.
package ledger

import (
	"context"
	"fmt"

	"github.com/algorand/go-algorand-sdk/v2/client/v2/algod"
	"github.com/algorand/go-algorand-sdk/v2/types"
)

// PendingInfo is the slice of pending-transaction state the watcher needs.
type PendingInfo struct {
	ConfirmedRound uint64
	PoolError      string
}

// Client is the node surface the watcher polls. Implemented by Algod for
// production and by scripted fakes in tests.
type Client interface {
	SuggestedParams(ctx context.Context) (types.SuggestedParams, error)
	SendRawTransaction(ctx context.Context, stx []byte) (string, error)
	PendingTransactionInformation(ctx context.Context, txid string) (PendingInfo, error)
	LastRound(ctx context.Context) (uint64, error)
	WaitForRoundAfter(ctx context.Context, round uint64) error
}

// Algod adapts an algod REST client to the Client interface.
type Algod struct {
	client *algod.Client
}

// NewAlgod connects to an algod node. The token may be empty for public
// API providers that authenticate differently.
func NewAlgod(address, token string) (*Algod, error) {
	client, err := algod.MakeClient(address, token)
	if err != nil {
		return nil, fmt.Errorf("algod client: %w", err)
	}
	return &Algod{client: client}, nil
}

func (a *Algod) SuggestedParams(ctx context.Context) (types.SuggestedParams, error) {
	return a.client.SuggestedParams().Do(ctx)
}

func (a *Algod) SendRawTransaction(ctx context.Context, stx []byte) (string, error) {
	return a.client.SendRawTransaction(stx).Do(ctx)
}

func (a *Algod) PendingTransactionInformation(ctx context.Context, txid string) (PendingInfo, error) {
	info, _, err := a.client.PendingTransactionInformation(txid).Do(ctx)
	if err != nil {
		return PendingInfo{}, err
	}
	return PendingInfo{ConfirmedRound: info.ConfirmedRound, PoolError: info.PoolError}, nil
}

func (a *Algod) LastRound(ctx context.Context) (uint64, error) {
	status, err := a.client.Status().Do(ctx)
	if err != nil {
		return 0, err
	}
	return status.LastRound, nil
}

func (a *Algod) WaitForRoundAfter(ctx context.Context, round uint64) error {
	_, err := a.client.StatusAfterBlock(round).Do(ctx)
	return err
}
