package journal

import (
	"context"
	"encoding/json"
	"fmt"

	"main/internal/ledger"
	"main/internal/schema"

	"github.com/dgraph-io/badger/v3"
)

const (
	tradePrefix = "trade:"
	snapshotKey = "snapshot:latest"
)

// Compile-time interface check.
var _ Store = (*BadgerStore)(nil)

// BadgerStore is a disk-backed Store using BadgerDB.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadger initializes a BadgerStore at the given path.
func OpenBadger(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil // disable internal logging
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger db: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// Records are ordered by the zero-padded sequence so the default iterator
// yields them in commit order.
func tradeKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", tradePrefix, seq))
}

// AppendTrade implements Store. Appending the same sequence twice fails:
// records are write-once.
func (s *BadgerStore) AppendTrade(ctx context.Context, record schema.TradeRecord) error {
	key := tradeKey(record.Seq)
	val, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if err == nil {
			return fmt.Errorf("trade record duplicate: seq=%d", record.Seq)
		}
		if err != badger.ErrKeyNotFound {
			return err
		}
		return txn.Set(key, val)
	})
}

// TradesSince implements Store.
func (s *BadgerStore) TradesSince(ctx context.Context, seq uint64) ([]schema.TradeRecord, error) {
	var out []schema.TradeRecord
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(tradePrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(tradeKey(seq + 1)); it.Valid(); it.Next() {
			var record schema.TradeRecord
			err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &record)
			})
			if err != nil {
				return err
			}
			out = append(out, record)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SaveSnapshot implements Store.
func (s *BadgerStore) SaveSnapshot(ctx context.Context, snapshot ledger.Snapshot) error {
	val, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(snapshotKey), val)
	})
}

// LatestSnapshot implements Store.
func (s *BadgerStore) LatestSnapshot(ctx context.Context) (ledger.Snapshot, bool, error) {
	var snapshot ledger.Snapshot
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(snapshotKey))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(v []byte) error {
			return json.Unmarshal(v, &snapshot)
		})
	})
	if err != nil {
		return ledger.Snapshot{}, false, err
	}
	return snapshot, found, nil
}

// Close implements Store.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
