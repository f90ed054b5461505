package execution

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ggonzalez94/swap-engine/internal/chain"
	engerr "github.com/ggonzalez94/swap-engine/internal/errors"
	"github.com/ggonzalez94/swap-engine/internal/execution/signer"
)

// SubmitOptions carries the fee overrides for one submission. Empty
// strings mean the node's suggestions are used.
type SubmitOptions struct {
	MaxFeeGwei         string
	MaxPriorityFeeGwei string
}

// Submit signs and broadcasts the selected call as an EIP-1559
// transaction and returns its hash. The gas limit is the selection's
// buffered limit; fees come from the node unless overridden.
func Submit(ctx context.Context, submitter chain.Submitter, txSigner signer.Signer, sel Selection, opts SubmitOptions) (common.Hash, error) {
	if txSigner == nil {
		return common.Hash{}, engerr.New(engerr.CodeAuth, "missing signer")
	}
	chainID, err := submitter.ChainID(ctx)
	if err != nil {
		return common.Hash{}, engerr.Wrap(engerr.CodeUnavailable, "read chain id", err)
	}
	tipCap, err := resolveTipCap(ctx, submitter, opts.MaxPriorityFeeGwei)
	if err != nil {
		return common.Hash{}, err
	}
	header, err := submitter.HeaderByNumber(ctx, nil)
	if err != nil {
		return common.Hash{}, engerr.Wrap(engerr.CodeUnavailable, "fetch latest header", err)
	}
	baseFee := header.BaseFee
	if baseFee == nil {
		baseFee = big.NewInt(1_000_000_000)
	}
	feeCap, err := resolveFeeCap(baseFee, tipCap, opts.MaxFeeGwei)
	if err != nil {
		return common.Hash{}, err
	}
	nonce, err := submitter.PendingNonceAt(ctx, txSigner.Address())
	if err != nil {
		return common.Hash{}, engerr.Wrap(engerr.CodeUnavailable, "fetch nonce", err)
	}

	target := sel.Call.Target
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       sel.GasLimit,
		To:        &target,
		Value:     sel.Call.Value,
		Data:      sel.Call.Data,
	})
	signed, err := txSigner.SignTx(chainID, tx)
	if err != nil {
		return common.Hash{}, engerr.Wrap(engerr.CodeAuth, "sign transaction", err)
	}
	if err := submitter.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, engerr.Wrap(engerr.CodeSubmission, "broadcast transaction", err)
	}
	return signed.Hash(), nil
}

func resolveTipCap(ctx context.Context, submitter chain.Submitter, overrideGwei string) (*big.Int, error) {
	if strings.TrimSpace(overrideGwei) != "" {
		v, err := parseGwei(overrideGwei)
		if err != nil {
			return nil, engerr.Wrap(engerr.CodeUsage, "parse --max-priority-fee-gwei", err)
		}
		return v, nil
	}
	tipCap, err := submitter.SuggestGasTipCap(ctx)
	if err != nil {
		return big.NewInt(2_000_000_000), nil // 2 gwei fallback
	}
	return tipCap, nil
}

func resolveFeeCap(baseFee, tipCap *big.Int, overrideGwei string) (*big.Int, error) {
	if strings.TrimSpace(overrideGwei) != "" {
		v, err := parseGwei(overrideGwei)
		if err != nil {
			return nil, engerr.Wrap(engerr.CodeUsage, "parse --max-fee-gwei", err)
		}
		if v.Cmp(tipCap) < 0 {
			return nil, engerr.New(engerr.CodeUsage, "--max-fee-gwei must be >= --max-priority-fee-gwei")
		}
		return v, nil
	}
	feeCap := new(big.Int).Mul(baseFee, big.NewInt(2))
	feeCap.Add(feeCap, tipCap)
	return feeCap, nil
}

func parseGwei(v string) (*big.Int, error) {
	clean := strings.TrimSpace(v)
	if clean == "" {
		return nil, fmt.Errorf("empty gwei value")
	}
	rat, ok := new(big.Rat).SetString(clean)
	if !ok {
		return nil, fmt.Errorf("invalid numeric value %q", v)
	}
	if rat.Sign() < 0 {
		return nil, fmt.Errorf("value must be non-negative")
	}
	rat.Mul(rat, big.NewRat(1_000_000_000, 1))
	if !rat.IsInt() {
		return nil, fmt.Errorf("value must resolve to an integer wei amount")
	}
	return new(big.Int).Set(rat.Num()), nil
}
