package cache

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/spboyer/promptloop/internal/models"
	"github.com/vmihailenco/msgpack/v5"
)

// badgerLogger routes badger's internal logging through slog.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// diskCache is the persistent tier. Values are msgpack-encoded judge results carrying badger's
// native TTL.
type diskCache struct {
	db  *badger.DB
	ttl time.Duration
}

const keyPrefix = "judge:"

// openDiskCache opens a badger database at dir. An empty dir opens an in-memory database.
func openDiskCache(dir string, ttl time.Duration) (*diskCache, error) {
	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("creating cache directory %s: %w", dir, err)
		}
		opts = badger.DefaultOptions(dir)
	}
	opts = opts.WithLogger(&badgerLogger{logger: slog.Default().With("component", "judge-cache")})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening judge cache: %w", err)
	}
	return &diskCache{db: db, ttl: ttl}, nil
}

// get returns the stored result. A value that cannot be decoded is deleted and reported as a miss.
func (d *diskCache) get(key string) (*models.JudgeResult, bool, error) {
	var data []byte
	err := d.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			data = append([]byte(nil), val...)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading judge cache: %w", err)
	}

	var res models.JudgeResult
	if err := msgpack.Unmarshal(data, &res); err != nil {
		slog.Warn("Dropping undecodable judge cache entry", "key", key, "error", err)
		if delErr := d.delete(key); delErr != nil {
			return nil, false, delErr
		}
		return nil, false, nil
	}
	return &res, true, nil
}

func (d *diskCache) set(key string, res *models.JudgeResult) error {
	data, err := msgpack.Marshal(res)
	if err != nil {
		return fmt.Errorf("encoding judge result: %w", err)
	}
	return d.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(keyPrefix+key), data)
		if d.ttl > 0 {
			entry = entry.WithTTL(d.ttl)
		}
		return txn.SetEntry(entry)
	})
}

func (d *diskCache) delete(key string) error {
	return d.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(keyPrefix + key))
	})
}

func (d *diskCache) clear() error {
	if err := d.db.DropAll(); err != nil {
		return fmt.Errorf("clearing judge cache: %w", err)
	}
	return nil
}

func (d *diskCache) close() error {
	return d.db.Close()
}
