package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
)

const badgerKeyPrefix = "vec:"

// Badger is an embedded VectorStore for single-node deployments and
// tests. Records live as JSON values under a "vec:" key prefix.
type Badger struct {
	db     *badger.DB
	logger *slog.Logger
}

// badgerLoggerAdapter adapts slog.Logger to badger.Logger interface.
type badgerLoggerAdapter struct {
	logger *slog.Logger
}

var _ badger.Logger = (*badgerLoggerAdapter)(nil)

func (bl *badgerLoggerAdapter) Errorf(msg string, items ...any) {
	bl.logger.Error(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Warningf(msg string, items ...any) {
	bl.logger.Warn(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Infof(msg string, items ...any) {
	bl.logger.Info(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Debugf(msg string, items ...any) {
	bl.logger.Debug(fmt.Sprintf(msg, items...))
}

// NewBadger opens the database at dir, or purely in memory when
// inMemory is set (dir is then ignored).
func NewBadger(dir string, inMemory bool, logger *slog.Logger) (*Badger, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var opts badger.Options
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(dir)
	}
	opts.Logger = &badgerLoggerAdapter{logger: logger}
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("store: open badger: %w", err)
	}
	return &Badger{db: db, logger: logger}, nil
}

// Close closes the underlying database.
func (b *Badger) Close() error {
	return b.db.Close()
}

type badgerRecord struct {
	ID     string            `json:"id"`
	Vector []float32         `json:"vector"`
	Meta   map[string]string `json:"meta,omitempty"`
}

func badgerKey(id string) []byte {
	return []byte(badgerKeyPrefix + id)
}

// Upsert implements VectorStore.
func (b *Badger) Upsert(ctx context.Context, rec Record) error {
	buf, err := json.Marshal(badgerRecord{ID: rec.ID, Vector: rec.Vector, Meta: rec.Meta})
	if err != nil {
		return fmt.Errorf("store: encode %s: %w", rec.ID, err)
	}
	err = b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerKey(rec.ID), buf)
	})
	if err != nil {
		return fmt.Errorf("store: upsert %s: %w", rec.ID, err)
	}
	return nil
}

// Get implements VectorStore.
func (b *Badger) Get(ctx context.Context, id string) (*Record, bool, error) {
	var rec *Record
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			r, err := decodeBadgerRecord(val)
			if err != nil {
				return err
			}
			rec = &r
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("store: get %s: %w", id, err)
	}
	return rec, true, nil
}

// Delete implements VectorStore.
func (b *Badger) Delete(ctx context.Context, id string) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(badgerKey(id))
	})
	if err != nil {
		return fmt.Errorf("store: delete %s: %w", id, err)
	}
	return nil
}

// BulkRead implements VectorStore. Badger iterates in key order, so
// the "vec:"+ID keys already come out sorted by record ID.
func (b *Badger) BulkRead(ctx context.Context) ([]Record, error) {
	var out []Record
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(badgerKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				r, err := decodeBadgerRecord(val)
				if err != nil {
					return err
				}
				out = append(out, r)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: bulk read: %w", err)
	}
	return out, nil
}

func decodeBadgerRecord(val []byte) (Record, error) {
	var br badgerRecord
	if err := json.Unmarshal(val, &br); err != nil {
		return Record{}, fmt.Errorf("decode record: %w", err)
	}
	return Record{ID: br.ID, Vector: br.Vector, Meta: br.Meta}, nil
}
