package cache

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ggonzalez94/swap-engine/internal/model"
)

func TestCacheSetGetFreshAndStale(t *testing.T) {
	tmp := t.TempDir()
	store, err := Open(filepath.Join(tmp, "cache.db"), filepath.Join(tmp, "cache.lock"))
	if err != nil {
		t.Fatalf("Open cache failed: %v", err)
	}
	defer store.Close()

	if err := store.Set("k1", []byte(`{"v":1}`), 1*time.Second); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	res, err := store.Get("k1", 5*time.Second)
	if err != nil {
		t.Fatalf("Get fresh failed: %v", err)
	}
	if !res.Hit || res.Stale {
		t.Fatalf("expected fresh hit, got %+v", res)
	}

	time.Sleep(1200 * time.Millisecond)
	res, err = store.Get("k1", 5*time.Second)
	if err != nil {
		t.Fatalf("Get stale failed: %v", err)
	}
	if !res.Hit || !res.Stale || res.TooStale {
		t.Fatalf("expected stale within budget, got %+v", res)
	}
}

func TestCacheTooStale(t *testing.T) {
	tmp := t.TempDir()
	store, err := Open(filepath.Join(tmp, "cache.db"), filepath.Join(tmp, "cache.lock"))
	if err != nil {
		t.Fatalf("Open cache failed: %v", err)
	}
	defer store.Close()

	if err := store.Set("k2", []byte(`{"v":2}`), 1*time.Second); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	time.Sleep(1300 * time.Millisecond)
	res, err := store.Get("k2", 10*time.Millisecond)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !res.TooStale {
		t.Fatalf("expected too stale, got %+v", res)
	}
}

func TestPoolSnapshotRoundTrip(t *testing.T) {
	tmp := t.TempDir()
	store, err := Open(filepath.Join(tmp, "pools.db"), filepath.Join(tmp, "pools.lock"))
	if err != nil {
		t.Fatalf("Open cache failed: %v", err)
	}
	defer store.Close()

	weth := model.Token{ChainID: 167000, Address: common.HexToAddress("0x0000000000000000000000000000000000000001"), Decimals: 18, Symbol: "WETH"}
	usdc := model.Token{ChainID: 167000, Address: common.HexToAddress("0x0000000000000000000000000000000000000002"), Decimals: 6, Symbol: "USDC"}
	pool, err := model.NewPool(weth, usdc, 3000, common.Address{})
	if err != nil {
		t.Fatalf("NewPool failed: %v", err)
	}

	if _, hit, err := store.GetPools(167000, time.Minute); err != nil || hit {
		t.Fatalf("expected miss before first snapshot, hit=%v err=%v", hit, err)
	}
	if err := store.SetPools(167000, []model.Pool{pool}); err != nil {
		t.Fatalf("SetPools failed: %v", err)
	}
	pools, hit, err := store.GetPools(167000, time.Minute)
	if err != nil {
		t.Fatalf("GetPools failed: %v", err)
	}
	if !hit || len(pools) != 1 {
		t.Fatalf("expected one cached pool, hit=%v n=%d", hit, len(pools))
	}
	if pools[0].ID() != pool.ID() {
		t.Fatalf("pool identity must survive the cache, got %s", pools[0].ID())
	}

	// Another chain's snapshot is a separate entry.
	if _, hit, _ := store.GetPools(167013, time.Minute); hit {
		t.Fatal("expected miss for a different chain")
	}
}

func TestCacheConcurrentOpenAndSet(t *testing.T) {
	tmp := t.TempDir()
	dbPath := filepath.Join(tmp, "cache.db")
	lockPath := filepath.Join(tmp, "cache.lock")

	const workers = 16
	const iterations = 40

	var wg sync.WaitGroup
	errCh := make(chan error, workers)
	for worker := 0; worker < workers; worker++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()

			store, err := Open(dbPath, lockPath)
			if err != nil {
				errCh <- fmt.Errorf("worker %d open: %w", workerID, err)
				return
			}
			defer store.Close()

			for i := 0; i < iterations; i++ {
				key := fmt.Sprintf("worker-%d-key-%d", workerID, i)
				if err := store.Set(key, []byte(`{"ok":true}`), time.Minute); err != nil {
					errCh <- fmt.Errorf("worker %d set iter %d: %w", workerID, i, err)
					return
				}
				res, err := store.Get(key, time.Minute)
				if err != nil {
					errCh <- fmt.Errorf("worker %d get iter %d: %w", workerID, i, err)
					return
				}
				if !res.Hit {
					errCh <- fmt.Errorf("worker %d get iter %d: expected hit", workerID, i)
					return
				}
			}
		}(worker)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatal(err)
	}
}
