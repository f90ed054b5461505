package execution

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ggonzalez94/swap-engine/internal/model"
	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"
)

// Store is the durable, account-scoped transaction registry. Records
// merge by (account, hash) and statuses only move forward, so
// concurrent submissions and late receipt updates never clobber each
// other.
type Store struct {
	db   *sql.DB
	lock *flock.Flock
}

func OpenStore(path, lockPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create tx store directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create tx lock directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open tx sqlite: %w", err)
	}

	queries := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		`CREATE TABLE IF NOT EXISTS pending_txs (
			account TEXT NOT NULL,
			hash TEXT NOT NULL,
			status TEXT NOT NULL,
			updated_at INTEGER NOT NULL,
			payload BLOB NOT NULL,
			PRIMARY KEY (account, hash)
		);`,
		"CREATE INDEX IF NOT EXISTS idx_pending_txs_account_updated ON pending_txs(account, updated_at DESC);",
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init tx schema: %w", err)
		}
	}
	return &Store{db: db, lock: flock.New(lockPath)}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Save upserts the record under (account, hash). A write that would
// move the status backwards is dropped silently: the stored record is
// already further along.
func (s *Store) Save(record model.PendingTransaction) error {
	if record.Account == (common.Address{}) {
		return fmt.Errorf("save tx record: missing account")
	}
	if record.Hash == (common.Hash{}) {
		return fmt.Errorf("save tx record: missing hash")
	}
	locked, err := s.lock.TryLockContext(context.Background(), 5*time.Second)
	if err != nil {
		return fmt.Errorf("lock tx store: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock tx store: timeout acquiring lock")
	}
	defer func() { _ = s.lock.Unlock() }()

	account := storeKey(record.Account.Hex())
	hash := storeKey(record.Hash.Hex())

	var existing string
	err = s.db.QueryRow("SELECT status FROM pending_txs WHERE account = ? AND hash = ?", account, hash).Scan(&existing)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("read tx record: %w", err)
	}
	if err == nil && model.StatusRank(record.Status) < model.StatusRank(model.TxStatus(existing)) {
		return nil
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal tx record: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO pending_txs (account, hash, status, updated_at, payload)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(account, hash) DO UPDATE SET
			status=excluded.status,
			updated_at=excluded.updated_at,
			payload=excluded.payload
	`, account, hash, string(record.Status), time.Now().UTC().Unix(), payload)
	if err != nil {
		return fmt.Errorf("save tx record: %w", err)
	}
	return nil
}

func (s *Store) Get(account common.Address, hash common.Hash) (model.PendingTransaction, error) {
	var payload []byte
	err := s.db.QueryRow(
		"SELECT payload FROM pending_txs WHERE account = ? AND hash = ?",
		storeKey(account.Hex()), storeKey(hash.Hex()),
	).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.PendingTransaction{}, fmt.Errorf("tx record not found: %s", hash.Hex())
		}
		return model.PendingTransaction{}, fmt.Errorf("read tx record: %w", err)
	}
	var record model.PendingTransaction
	if err := json.Unmarshal(payload, &record); err != nil {
		return model.PendingTransaction{}, fmt.Errorf("decode tx record: %w", err)
	}
	return record, nil
}

// List returns the account's records, most recently updated first.
func (s *Store) List(account common.Address, limit int) ([]model.PendingTransaction, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		"SELECT payload FROM pending_txs WHERE account = ? ORDER BY updated_at DESC LIMIT ?",
		storeKey(account.Hex()), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list tx records: %w", err)
	}
	defer rows.Close()

	records := make([]model.PendingTransaction, 0)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan tx row: %w", err)
		}
		var record model.PendingTransaction
		if err := json.Unmarshal(payload, &record); err != nil {
			return nil, fmt.Errorf("decode tx row: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tx rows: %w", err)
	}
	return records, nil
}

func storeKey(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}
