package candlecache

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/fieldbot/gofield/internal/domain"
)

// Cache is a small Badger-backed local store for recently fetched OHLCV
// windows, so repeated scans within one candle period do not hit the venue
// again. Entries expire via Badger TTL.
type Cache struct {
	db *badger.DB
}

// Open opens (or creates) the cache at path.
func Open(path string) (*Cache, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("candlecache: path is required")
	}
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &Cache{db: db}, nil
}

// Close closes the underlying store.
func (c *Cache) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

func key(symbol string, windowMinutes int) []byte {
	return []byte(fmt.Sprintf("ohlcv:%s:%dm", symbol, windowMinutes))
}

// Put stores a candle window for symbol with the given TTL.
func (c *Cache) Put(symbol string, windowMinutes int, candles []domain.Candle, ttl time.Duration) error {
	if c == nil || c.db == nil {
		return errors.New("candlecache: not opened")
	}
	data, err := json.Marshal(candles)
	if err != nil {
		return err
	}
	return c.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(key(symbol, windowMinutes), data)
		if ttl > 0 {
			entry = entry.WithTTL(ttl)
		}
		return txn.SetEntry(entry)
	})
}

// Get returns the cached window for symbol, or found=false when absent
// or expired.
func (c *Cache) Get(symbol string, windowMinutes int) ([]domain.Candle, bool, error) {
	if c == nil || c.db == nil {
		return nil, false, errors.New("candlecache: not opened")
	}
	var candles []domain.Candle
	found := false
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(symbol, windowMinutes))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		return item.Value(func(val []byte) error {
			if err := json.Unmarshal(val, &candles); err != nil {
				return err
			}
			found = true
			return nil
		})
	})
	if err != nil {
		return nil, false, err
	}
	return candles, found, nil
}
