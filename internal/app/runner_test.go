package app

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ggonzalez94/swap-engine/internal/execution"
	"github.com/ggonzalez94/swap-engine/internal/model"
)

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := NewRunnerWithWriters(&stdout, &stderr).Run(args)
	return code, stdout.String(), stderr.String()
}

func isolateEnv(t *testing.T) {
	t.Helper()
	tmp := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmp, "config"))
	t.Setenv("XDG_CACHE_HOME", filepath.Join(tmp, "cache"))
}

func newIndexer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/v1/pools") {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `{"pools":[
			{"address":"0x0000000000000000000000000000000000000A01",
			 "token0":{"address":"0x0000000000000000000000000000000000000001","symbol":"WETH","decimals":18},
			 "token1":{"address":"0x0000000000000000000000000000000000000002","symbol":"USDC","decimals":6},
			 "feePips":3000,
			 "sqrtPriceX96":"79228162514264337593543950336",
			 "deployer":"0x0000000000000000000000000000000000000000"}
		]}`)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestVersionCommand(t *testing.T) {
	isolateEnv(t)
	code, stdout, _ := runCLI(t, "version")
	if code != 0 {
		t.Fatalf("version exited %d", code)
	}
	if strings.TrimSpace(stdout) == "" {
		t.Fatal("expected version output")
	}
}

func TestUnknownFlagIsUsageError(t *testing.T) {
	isolateEnv(t)
	code, _, stderr := runCLI(t, "pools", "--definitely-not-a-flag")
	if code != 2 {
		t.Fatalf("expected usage exit code 2, got %d (stderr: %s)", code, stderr)
	}
}

func TestPoolsCommandListsIndexedPools(t *testing.T) {
	isolateEnv(t)
	server := newIndexer(t)

	code, stdout, stderr := runCLI(t, "pools", "--indexer-url", server.URL, "--no-cache", "--json")
	if code != 0 {
		t.Fatalf("pools exited %d: %s", code, stderr)
	}
	var views []map[string]any
	if err := json.Unmarshal([]byte(stdout), &views); err != nil {
		t.Fatalf("pools output is not JSON: %v\n%s", err, stdout)
	}
	if len(views) != 1 {
		t.Fatalf("expected one pool, got %d", len(views))
	}
	if views[0]["pair"] != "WETH/USDC" {
		t.Fatalf("unexpected pair %v", views[0]["pair"])
	}
}

func TestRoutesCommandFindsDirectRoute(t *testing.T) {
	isolateEnv(t)
	server := newIndexer(t)

	code, stdout, stderr := runCLI(t,
		"routes",
		"--in", "0x0000000000000000000000000000000000000001",
		"--out", "0x0000000000000000000000000000000000000002",
		"--indexer-url", server.URL, "--no-cache", "--json",
	)
	if code != 0 {
		t.Fatalf("routes exited %d: %s", code, stderr)
	}
	var views []routeView
	if err := json.Unmarshal([]byte(stdout), &views); err != nil {
		t.Fatalf("routes output is not JSON: %v", err)
	}
	if len(views) != 1 || views[0].Hops != 1 {
		t.Fatalf("expected one single-hop route, got %+v", views)
	}
}

func TestRoutesCommandNoRoute(t *testing.T) {
	isolateEnv(t)
	server := newIndexer(t)

	code, _, _ := runCLI(t,
		"routes",
		"--in", "0x0000000000000000000000000000000000000001",
		"--out", "0x00000000000000000000000000000000000000AA",
		"--indexer-url", server.URL, "--no-cache",
	)
	if code != 10 {
		t.Fatalf("expected no-route exit code 10, got %d", code)
	}
}

func TestExecutionIntervalFlagsAreRegistered(t *testing.T) {
	isolateEnv(t)
	code, _, stderr := runCLI(t, "version",
		"--allowance-poll", "250ms",
		"--settlement-poll", "4s",
		"--receipt-timeout", "90s",
	)
	if code != 0 {
		t.Fatalf("interval flags must parse, exited %d: %s", code, stderr)
	}

	code, _, _ = runCLI(t, "version", "--receipt-timeout", "soon")
	if code != 2 {
		t.Fatalf("expected usage exit code 2 for a bad duration, got %d", code)
	}
}

func TestEnableCommandsBlocksUnlistedCommand(t *testing.T) {
	isolateEnv(t)
	code, _, stderr := runCLI(t, "pools", "--enable-commands", "quote")
	if code != 19 {
		t.Fatalf("expected blocked exit code 19, got %d (stderr: %s)", code, stderr)
	}
}

func TestSwapRequiresAcknowledgement(t *testing.T) {
	isolateEnv(t)
	code, _, stderr := runCLI(t, "swap", "--in", "weth", "--out", "usdc", "--amount", "1")
	if code != 19 {
		t.Fatalf("expected blocked exit code 19 without --yes, got %d", code)
	}
	if !strings.Contains(stderr, "--yes") {
		t.Fatalf("expected the error to mention --yes, got %s", stderr)
	}
}

func TestPoolsDiverged(t *testing.T) {
	tracked := common.HexToAddress("0x0000000000000000000000000000000000000A01")
	before := map[common.Address]string{tracked: "100"}

	unchanged := []model.Pool{{Address: tracked, SqrtPriceX96: big.NewInt(100)}}
	if poolsDiverged(before, unchanged) {
		t.Fatal("an unchanged price must not count as settled")
	}

	moved := []model.Pool{{Address: tracked, SqrtPriceX96: big.NewInt(101)}}
	if !poolsDiverged(before, moved) {
		t.Fatal("a moved price must count as settled")
	}

	// Pools outside the traded route never settle the trade.
	other := []model.Pool{{Address: common.HexToAddress("0x0000000000000000000000000000000000000A02"), SqrtPriceX96: big.NewInt(7)}}
	if poolsDiverged(before, other) {
		t.Fatal("untracked pools must be ignored")
	}
}

func TestTxListReadsRegistry(t *testing.T) {
	isolateEnv(t)
	tmp := t.TempDir()
	storePath := filepath.Join(tmp, "txs.db")
	lockPath := filepath.Join(tmp, "txs.lock")
	t.Setenv("SWAPCTL_TX_STORE_PATH", storePath)
	t.Setenv("SWAPCTL_TX_LOCK_PATH", lockPath)

	account := common.HexToAddress("0x00000000000000000000000000000000000000FE")
	store, err := execution.OpenStore(storePath, lockPath)
	if err != nil {
		t.Fatalf("OpenStore failed: %v", err)
	}
	record := model.PendingTransaction{
		Account:        account,
		Hash:           common.HexToHash("0x01"),
		Title:          "Swap 1 WETH for USDC",
		Classification: model.TxClassSwap,
		Status:         model.TxStatusConfirmed,
		SubmittedAt:    "2026-08-30T10:00:00Z",
	}
	if err := store.Save(record); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	_ = store.Close()

	code, stdout, stderr := runCLI(t, "tx", "list", "--account", account.Hex(), "--json")
	if code != 0 {
		t.Fatalf("tx list exited %d: %s", code, stderr)
	}
	var records []model.PendingTransaction
	if err := json.Unmarshal([]byte(stdout), &records); err != nil {
		t.Fatalf("tx list output is not JSON: %v\n%s", err, stdout)
	}
	if len(records) != 1 || records[0].Status != model.TxStatusConfirmed {
		t.Fatalf("unexpected registry contents: %+v", records)
	}

	code, stdout, _ = runCLI(t, "tx", "status", "--account", account.Hex(), "--hash", record.Hash.Hex(), "--json")
	if code != 0 {
		t.Fatalf("tx status exited %d", code)
	}
	var got model.PendingTransaction
	if err := json.Unmarshal([]byte(stdout), &got); err != nil {
		t.Fatalf("tx status output is not JSON: %v", err)
	}
	if got.Title != record.Title {
		t.Fatalf("unexpected record %+v", got)
	}
}
