package chain

import (
	"context"
	"fmt"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	engerr "github.com/ggonzalez94/swap-engine/internal/errors"
	"github.com/ggonzalez94/swap-engine/internal/httpx"
	"github.com/ggonzalez94/swap-engine/internal/model"
)

// PoolSource lists candidate pools from the indexer. The data lags the
// chain; pool state is re-read on demand before anything financial
// depends on it.
type PoolSource struct {
	http    *httpx.Client
	baseURL string
}

func NewPoolSource(httpClient *httpx.Client, baseURL string) *PoolSource {
	return &PoolSource{http: httpClient, baseURL: baseURL}
}

type indexedToken struct {
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
}

type indexedPool struct {
	Address      string       `json:"address"`
	Token0       indexedToken `json:"token0"`
	Token1       indexedToken `json:"token1"`
	FeePips      uint32       `json:"feePips"`
	Liquidity    string       `json:"liquidity"`
	SqrtPriceX96 string       `json:"sqrtPriceX96"`
	Tick         int          `json:"tick"`
	TickSpacing  int          `json:"tickSpacing"`
	Deployer     string       `json:"deployer"`
	Plugin       string       `json:"plugin"`
}

type poolsResponse struct {
	Pools []indexedPool `json:"pools"`
}

// FetchPools returns the indexer's pool set for a chain. Pools with
// malformed addresses are skipped rather than failing the whole read.
func (s *PoolSource) FetchPools(ctx context.Context, chainID int64) ([]model.Pool, error) {
	url := fmt.Sprintf("%s/v1/pools?chainId=%d", s.baseURL, chainID)
	var resp poolsResponse
	if _, err := httpx.DoBodyJSON(ctx, s.http, http.MethodGet, url, nil, nil, &resp); err != nil {
		return nil, err
	}

	pools := make([]model.Pool, 0, len(resp.Pools))
	for _, raw := range resp.Pools {
		pool, err := decodeIndexedPool(chainID, raw)
		if err != nil {
			continue
		}
		pools = append(pools, pool)
	}
	return pools, nil
}

func decodeIndexedPool(chainID int64, raw indexedPool) (model.Pool, error) {
	if !common.IsHexAddress(raw.Address) || !common.IsHexAddress(raw.Token0.Address) || !common.IsHexAddress(raw.Token1.Address) {
		return model.Pool{}, engerr.New(engerr.CodeUnavailable, "indexed pool has malformed address")
	}
	token0 := model.Token{
		ChainID:  chainID,
		Address:  common.HexToAddress(raw.Token0.Address),
		Symbol:   raw.Token0.Symbol,
		Decimals: raw.Token0.Decimals,
	}
	token1 := model.Token{
		ChainID:  chainID,
		Address:  common.HexToAddress(raw.Token1.Address),
		Symbol:   raw.Token1.Symbol,
		Decimals: raw.Token1.Decimals,
	}
	pool, err := model.NewPool(token0, token1, raw.FeePips, common.HexToAddress(raw.Deployer))
	if err != nil {
		return model.Pool{}, err
	}
	pool.Address = common.HexToAddress(raw.Address)
	pool.Tick = raw.Tick
	pool.TickSpacing = raw.TickSpacing
	if raw.Plugin != "" {
		pool.Plugin = common.HexToAddress(raw.Plugin)
	}
	if raw.Liquidity != "" {
		if v, ok := new(big.Int).SetString(raw.Liquidity, 10); ok {
			pool.Liquidity = v
		}
	}
	if raw.SqrtPriceX96 != "" {
		if v, ok := new(big.Int).SetString(raw.SqrtPriceX96, 10); ok {
			pool.SqrtPriceX96 = v
		}
	}
	return pool, nil
}
