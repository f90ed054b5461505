package execution

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ggonzalez94/swap-engine/internal/chain"
	engerr "github.com/ggonzalez94/swap-engine/internal/errors"
	"github.com/ggonzalez94/swap-engine/internal/model"
	"github.com/rs/zerolog"
)

const (
	DefaultReceiptPollInterval    = 2 * time.Second
	DefaultReceiptTimeout         = 2 * time.Minute
	DefaultSettlementPollInterval = 2 * time.Second
)

// Tracker owns the transaction lifecycle: it records submissions in the
// registry store, polls receipts to their terminal status, and runs
// secondary settlement polls for effects that land in the indexer after
// confirmation.
type Tracker struct {
	submitter          chain.Submitter
	store              *Store
	log                zerolog.Logger
	receiptInterval    time.Duration
	receiptTimeout     time.Duration
	settlementInterval time.Duration
}

func NewTracker(submitter chain.Submitter, store *Store, log zerolog.Logger) *Tracker {
	return &Tracker{
		submitter:          submitter,
		store:              store,
		log:                log,
		receiptInterval:    DefaultReceiptPollInterval,
		receiptTimeout:     DefaultReceiptTimeout,
		settlementInterval: DefaultSettlementPollInterval,
	}
}

// SetIntervals overrides the poll cadence; non-positive values keep the
// defaults.
func (t *Tracker) SetIntervals(receipt, settlement time.Duration, receiptTimeout time.Duration) {
	if receipt > 0 {
		t.receiptInterval = receipt
	}
	if settlement > 0 {
		t.settlementInterval = settlement
	}
	if receiptTimeout > 0 {
		t.receiptTimeout = receiptTimeout
	}
}

// Record writes the submission into the registry before any receipt
// exists.
func (t *Tracker) Record(record model.PendingTransaction) error {
	if record.Status == "" {
		record.Status = model.TxStatusPending
	}
	if record.SubmittedAt == "" {
		record.SubmittedAt = time.Now().UTC().Format(time.RFC3339)
	}
	return t.store.Save(record)
}

// AwaitReceipt polls until the transaction confirms, fails, or the
// timeout elapses, persisting the terminal state. Transient RPC
// failures are ignored until the deadline.
func (t *Tracker) AwaitReceipt(ctx context.Context, record model.PendingTransaction) (model.PendingTransaction, error) {
	waitCtx, cancel := context.WithTimeout(ctx, t.receiptTimeout)
	defer cancel()
	ticker := time.NewTicker(t.receiptInterval)
	defer ticker.Stop()

	for {
		receipt, err := t.submitter.TransactionReceipt(waitCtx, record.Hash)
		if err == nil && receipt != nil {
			record.ResolvedAt = time.Now().UTC().Format(time.RFC3339)
			if receipt.Status == types.ReceiptStatusSuccessful {
				record.Status = model.TxStatusConfirmed
				if saveErr := t.store.Save(record); saveErr != nil {
					t.log.Warn().Err(saveErr).Str("hash", record.Hash.Hex()).Msg("persist confirmed tx failed")
				}
				return record, nil
			}
			record.Status = model.TxStatusFailed
			record.FailureReason = "transaction reverted on-chain"
			if saveErr := t.store.Save(record); saveErr != nil {
				t.log.Warn().Err(saveErr).Str("hash", record.Hash.Hex()).Msg("persist failed tx failed")
			}
			return record, engerr.New(engerr.CodeConfirmation, "transaction reverted on-chain")
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			t.log.Debug().Err(err).Str("hash", record.Hash.Hex()).Msg("receipt poll failed")
		}
		select {
		case <-waitCtx.Done():
			return record, engerr.Wrap(engerr.CodeConfirmation, "timed out waiting for receipt", waitCtx.Err())
		case <-ticker.C:
		}
	}
}

// MarkFailed persists a terminal failure with its cleaned revert
// reason.
func (t *Tracker) MarkFailed(record model.PendingTransaction, cause error) model.PendingTransaction {
	record.Status = model.TxStatusFailed
	record.FailureReason = CleanRevertReason(cause)
	record.ResolvedAt = time.Now().UTC().Format(time.RFC3339)
	if err := t.store.Save(record); err != nil {
		t.log.Warn().Err(err).Str("hash", record.Hash.Hex()).Msg("persist failed tx failed")
	}
	return record
}

// SettlementCheck reports whether the off-chain effect of a confirmed
// transaction is visible yet.
type SettlementCheck func(ctx context.Context) (bool, error)

// SettlementHandle is an owned settlement poll. Cancel stops it early;
// Wait blocks until it settles, is cancelled, or hits its deadline.
type SettlementHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

func (h *SettlementHandle) Cancel() {
	h.cancel()
}

func (h *SettlementHandle) Wait() error {
	<-h.done
	return h.err
}

// PollSettlement starts a deadline-bounded background poll for an
// eventually consistent effect. Check errors are tolerated until the
// deadline; only a true result settles.
func (t *Tracker) PollSettlement(ctx context.Context, deadline time.Duration, check SettlementCheck) *SettlementHandle {
	pollCtx, cancel := context.WithTimeout(ctx, deadline)
	handle := &SettlementHandle{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(handle.done)
		defer cancel()
		ticker := time.NewTicker(t.settlementInterval)
		defer ticker.Stop()
		for {
			settled, err := check(pollCtx)
			if err != nil {
				t.log.Debug().Err(err).Msg("settlement check failed")
			} else if settled {
				return
			}
			select {
			case <-pollCtx.Done():
				handle.err = engerr.Wrap(engerr.CodeConfirmation, "settlement not observed", pollCtx.Err())
				return
			case <-ticker.C:
			}
		}
	}()
	return handle
}

// revertNoise marks where a node's revert message stops being useful to
// a person.
var revertNoise = []string{" [", " (0x", " {", "\n"}

// CleanRevertReason reduces a node error to its first human-readable
// segment, stripping hex payloads and retry chatter.
func CleanRevertReason(err error) string {
	if err == nil {
		return ""
	}
	reason := err.Error()
	reason = strings.TrimSpace(reason)
	for _, prefix := range []string{"execution reverted:", "execution reverted"} {
		if strings.HasPrefix(reason, prefix) {
			reason = strings.TrimSpace(strings.TrimPrefix(reason, prefix))
			break
		}
	}
	if i := strings.IndexAny(reason, ";"); i >= 0 {
		reason = reason[:i]
	}
	for _, marker := range revertNoise {
		if i := strings.Index(reason, marker); i >= 0 {
			reason = reason[:i]
		}
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return "execution reverted"
	}
	return reason
}
