package execution

import (
	"context"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ggonzalez94/swap-engine/internal/chain"
	engerr "github.com/ggonzalez94/swap-engine/internal/errors"
	"github.com/ggonzalez94/swap-engine/internal/model"
	"github.com/ggonzalez94/swap-engine/internal/registry"
	"github.com/rs/zerolog"
)

// DefaultAllowancePollInterval is the fast poll used while an approval
// transaction is in flight.
const DefaultAllowancePollInterval = time.Second

type ApprovalState string

const (
	ApprovalUnknown     ApprovalState = "unknown"
	ApprovalNotApproved ApprovalState = "not_approved"
	ApprovalPending     ApprovalState = "pending"
	ApprovalApproved    ApprovalState = "approved"
)

var erc20ABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(registry.ERC20MinimalABI))
	if err != nil {
		panic(err)
	}
	return parsed
}()

// PackApprove encodes the ERC20 approve calldata for the spender.
func PackApprove(spender common.Address, amount *big.Int) ([]byte, error) {
	data, err := erc20ABI.Pack("approve", spender, amount)
	if err != nil {
		return nil, engerr.Wrap(engerr.CodeInternal, "pack approve call", err)
	}
	return data, nil
}

type approvalKey struct {
	token   common.Address
	owner   common.Address
	spender common.Address
}

type approvalEntry struct {
	state ApprovalState
	stop  context.CancelFunc
}

// ApprovalTracker holds one approval state per (token, owner, spender)
// and owns the fast poller that watches an in-flight approval land.
// Observing a sufficient allowance is the only signal needed to resolve
// APPROVED; a receipt is never required.
type ApprovalTracker struct {
	caller chain.Caller
	poll   time.Duration
	log    zerolog.Logger

	mu      sync.Mutex
	entries map[approvalKey]*approvalEntry
}

func NewApprovalTracker(caller chain.Caller, poll time.Duration, log zerolog.Logger) *ApprovalTracker {
	if poll <= 0 {
		poll = DefaultAllowancePollInterval
	}
	return &ApprovalTracker{
		caller:  caller,
		poll:    poll,
		log:     log,
		entries: make(map[approvalKey]*approvalEntry),
	}
}

// State returns the tracked state, or UNKNOWN before the first Refresh.
func (t *ApprovalTracker) State(token, owner, spender common.Address) ApprovalState {
	t.mu.Lock()
	defer t.mu.Unlock()
	if entry, ok := t.entries[approvalKey{token, owner, spender}]; ok {
		return entry.state
	}
	return ApprovalUnknown
}

// Refresh reads the allowance and resolves the state from it. Native
// tokens never need approval. A PENDING entry is left alone: the poller
// owns it until it lands or is torn down.
func (t *ApprovalTracker) Refresh(ctx context.Context, token model.Token, owner, spender common.Address, required *big.Int) (ApprovalState, error) {
	if token.Native {
		return ApprovalApproved, nil
	}
	key := approvalKey{token.Address, owner, spender}

	t.mu.Lock()
	if entry, ok := t.entries[key]; ok && entry.state == ApprovalPending {
		t.mu.Unlock()
		return ApprovalPending, nil
	}
	t.mu.Unlock()

	allowance, err := chain.Allowance(ctx, t.caller, token.Address, owner, spender)
	if err != nil {
		return ApprovalUnknown, engerr.Wrap(engerr.CodeApproval, "read allowance", err)
	}
	state := ApprovalNotApproved
	if allowance.Cmp(required) >= 0 {
		state = ApprovalApproved
	}
	t.setState(key, state)
	return state, nil
}

// BeginApproval marks the pair PENDING and starts the fast poller.
// It returns false when an approval is already in flight for this pair,
// making re-entrant requests a no-op. The poller stops on APPROVED, on
// context cancellation, or on Teardown; if it stops before the
// allowance lands the state decays to NOT_APPROVED.
func (t *ApprovalTracker) BeginApproval(ctx context.Context, token model.Token, owner, spender common.Address, required *big.Int) bool {
	if token.Native {
		return false
	}
	key := approvalKey{token.Address, owner, spender}

	t.mu.Lock()
	if entry, ok := t.entries[key]; ok && entry.state == ApprovalPending {
		t.mu.Unlock()
		return false
	}
	pollCtx, cancel := context.WithCancel(ctx)
	t.entries[key] = &approvalEntry{state: ApprovalPending, stop: cancel}
	t.mu.Unlock()

	go t.pollAllowance(pollCtx, key, token.Address, owner, spender, new(big.Int).Set(required))
	return true
}

func (t *ApprovalTracker) pollAllowance(ctx context.Context, key approvalKey, token, owner, spender common.Address, required *big.Int) {
	ticker := time.NewTicker(t.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			t.resolvePending(key, ApprovalNotApproved)
			return
		case <-ticker.C:
		}
		allowance, err := chain.Allowance(ctx, t.caller, token, owner, spender)
		if err != nil {
			t.log.Debug().Err(err).Str("token", token.Hex()).Msg("allowance poll failed")
			continue
		}
		if allowance.Cmp(required) >= 0 {
			t.resolvePending(key, ApprovalApproved)
			return
		}
	}
}

// Await blocks until the pair leaves PENDING and returns the state it
// settled on. When the context ends first the pending state decays to
// NOT_APPROVED.
func (t *ApprovalTracker) Await(ctx context.Context, token, owner, spender common.Address) ApprovalState {
	key := approvalKey{token, owner, spender}
	ticker := time.NewTicker(t.poll)
	defer ticker.Stop()
	for {
		if state := t.State(token, owner, spender); state != ApprovalPending {
			return state
		}
		select {
		case <-ctx.Done():
			t.resolvePending(key, ApprovalNotApproved)
			return t.State(token, owner, spender)
		case <-ticker.C:
		}
	}
}

// Teardown stops the poller for the pair, decaying a PENDING state to
// NOT_APPROVED.
func (t *ApprovalTracker) Teardown(token, owner, spender common.Address) {
	t.mu.Lock()
	entry, ok := t.entries[approvalKey{token, owner, spender}]
	var stop context.CancelFunc
	if ok && entry.stop != nil {
		stop = entry.stop
	}
	t.mu.Unlock()
	if stop != nil {
		stop()
	}
}

// Close tears down every live poller.
func (t *ApprovalTracker) Close() {
	t.mu.Lock()
	stops := make([]context.CancelFunc, 0, len(t.entries))
	for _, entry := range t.entries {
		if entry.stop != nil {
			stops = append(stops, entry.stop)
		}
	}
	t.mu.Unlock()
	for _, stop := range stops {
		stop()
	}
}

func (t *ApprovalTracker) setState(key approvalKey, state ApprovalState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if entry, ok := t.entries[key]; ok {
		entry.state = state
		entry.stop = nil
		return
	}
	t.entries[key] = &approvalEntry{state: state}
}

// resolvePending moves a PENDING entry to its terminal state and drops
// the poller handle. States that already resolved are left alone.
func (t *ApprovalTracker) resolvePending(key approvalKey, state ApprovalState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.entries[key]
	if !ok || entry.state != ApprovalPending {
		return
	}
	if entry.stop != nil {
		stop := entry.stop
		entry.stop = nil
		defer stop()
	}
	entry.state = state
}
