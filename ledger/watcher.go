package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/algorand/go-algorand-sdk/v2/transaction"
	"github.com/algorand/go-algorand-sdk/v2/types"
	"go.uber.org/zap"

	algomart "github.com/algomart-labs/algomart-go"
)

// Watcher builds payment transactions and drives them to a final outcome.
//
// Watcher implements algomart.Ledger.
type Watcher struct {
	client Client
	log    *zap.Logger
}

// NewWatcher creates a watcher over the node client. A nil logger disables
// logging.
func NewWatcher(client Client, log *zap.Logger) *Watcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Watcher{client: client, log: log}
}

// BuildPayment constructs an unsigned payment transaction from the intent
// using the node's suggested parameters.
func (w *Watcher) BuildPayment(ctx context.Context, intent algomart.PaymentIntent) (types.Transaction, error) {
	sp, err := w.client.SuggestedParams(ctx)
	if err != nil {
		return types.Transaction{}, fmt.Errorf("suggested params: %w", err)
	}
	txn, err := transaction.MakePaymentTxn(intent.From, intent.To, intent.AmountMicroAlgos, intent.Note, "", sp)
	if err != nil {
		return types.Transaction{}, algomart.NewSettleError(algomart.ErrCodeTransactionRejected, "payment construction failed", map[string]interface{}{
			"cause": err.Error(),
		})
	}
	w.log.Debug("payment built",
		zap.String("from", algomart.FormatAddress(intent.From)),
		zap.String("to", algomart.FormatAddress(intent.To)),
		zap.Float64("amount_algo", algomart.MicroAlgosToAlgos(intent.AmountMicroAlgos)))
	return txn, nil
}

// SubmitAndConfirm sends the signed transaction once, then polls until it
// is confirmed, rejected, or timeoutRounds rounds elapse. The transaction
// is never resubmitted: the txid is the sole retry-safe handle.
func (w *Watcher) SubmitAndConfirm(ctx context.Context, stx []byte, timeoutRounds uint64) (*algomart.Receipt, error) {
	txid, err := w.client.SendRawTransaction(ctx, stx)
	if err != nil {
		return nil, algomart.NewSettleError(algomart.ErrCodeTransactionRejected, "transaction submission failed", map[string]interface{}{
			"cause": err.Error(),
		})
	}
	w.log.Info("transaction submitted", zap.String("txid", txid))
	return w.confirm(ctx, txid, timeoutRounds)
}

// ConfirmOnly polls a previously submitted transaction to an outcome
// without resubmitting it. Used by reconciliation after a crash or timeout
// left the outcome unknown.
func (w *Watcher) ConfirmOnly(ctx context.Context, txid string, timeoutRounds uint64) (*algomart.Receipt, error) {
	return w.confirm(ctx, txid, timeoutRounds)
}

// confirm polls round by round: check pending info, then wait for the next
// round, for at most timeoutRounds rounds past the current last round.
func (w *Watcher) confirm(ctx context.Context, txid string, timeoutRounds uint64) (*algomart.Receipt, error) {
	start, err := w.client.LastRound(ctx)
	if err != nil {
		return nil, timeoutError(txid, "node status unavailable", err)
	}

	current := start
	for current < start+timeoutRounds {
		info, err := w.client.PendingTransactionInformation(ctx, txid)
		if err != nil {
			if ctx.Err() != nil {
				return nil, timeoutError(txid, "confirmation interrupted", ctx.Err())
			}
			w.log.Warn("pending info poll failed", zap.String("txid", txid), zap.Error(err))
		} else {
			if info.ConfirmedRound > 0 {
				w.log.Info("transaction confirmed",
					zap.String("txid", txid),
					zap.Uint64("round", info.ConfirmedRound))
				return &algomart.Receipt{TxID: txid, ConfirmedRound: info.ConfirmedRound}, nil
			}
			if info.PoolError != "" {
				return nil, algomart.NewSettleError(algomart.ErrCodeTransactionRejected, "transaction rejected by pool", map[string]interface{}{
					"txid":       txid,
					"pool_error": info.PoolError,
				})
			}
		}

		current++
		if err := w.client.WaitForRoundAfter(ctx, current); err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, timeoutError(txid, "confirmation interrupted", err)
			}
			w.log.Warn("round wait failed", zap.String("txid", txid), zap.Error(err))
		}
	}

	return nil, algomart.NewSettleError(algomart.ErrCodeConfirmationTimeout, "transaction not confirmed within round window", map[string]interface{}{
		"txid":   txid,
		"rounds": timeoutRounds,
	})
}

func timeoutError(txid, message string, cause error) error {
	details := map[string]interface{}{"txid": txid}
	if cause != nil {
		details["cause"] = cause.Error()
	}
	return algomart.NewSettleError(algomart.ErrCodeConfirmationTimeout, message, details)
}
