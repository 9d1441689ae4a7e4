package storage

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

// PebbleKV is the durable backend. Apply commits through a single synced
// batch, so a transaction's writes land together or not at all.
type PebbleKV struct {
	db *pebble.DB
}

// NewPebbleKV opens a Pebble database at the given path
func NewPebbleKV(path string) (*PebbleKV, error) {
	opts := &pebble.Options{
		Cache:                       pebble.NewCache(64 << 20),
		MemTableSize:                32 << 20,
		MaxConcurrentCompactions:    func() int { return 2 },
		L0CompactionThreshold:       2,
		L0StopWritesThreshold:       12,
		LBaseMaxBytes:               64 << 20,
		MaxOpenFiles:                1000,
		BytesPerSync:                512 << 10,
		DisableAutomaticCompactions: false,
	}
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", path, err)
	}
	return &PebbleKV{db: db}, nil
}

// NewMemPebbleKV opens Pebble over an in-memory filesystem.
func NewMemPebbleKV() (*PebbleKV, error) {
	db, err := pebble.Open("", &pebble.Options{FS: vfs.NewMem()})
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory pebble db: %w", err)
	}
	return &PebbleKV{db: db}, nil
}

func (s *PebbleKV) Close() error { return s.db.Close() }

func (s *PebbleKV) Get(key []byte) ([]byte, error) {
	val, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %q: %w", key, err)
	}
	defer closer.Close()
	return bytes.Clone(val), nil
}

func (s *PebbleKV) Apply(writes map[string][]byte) error {
	if len(writes) == 0 {
		return nil
	}
	batch := s.db.NewBatch()
	defer batch.Close()
	for k, v := range writes {
		var err error
		if v == nil {
			err = batch.Delete([]byte(k), nil)
		} else {
			err = batch.Set([]byte(k), v, nil)
		}
		if err != nil {
			return fmt.Errorf("failed to stage %q: %w", k, err)
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

func (s *PebbleKV) Iterate(prefix []byte, fn func(key, value []byte) bool) error {
	opts := &pebble.IterOptions{LowerBound: prefix}
	if len(prefix) > 0 {
		opts.UpperBound = KeyUpperBound(prefix)
	}
	iter, err := s.db.NewIter(opts)
	if err != nil {
		return fmt.Errorf("failed to create iterator: %w", err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if !fn(bytes.Clone(iter.Key()), bytes.Clone(iter.Value())) {
			break
		}
	}
	return iter.Error()
}

var _ KV = (*PebbleKV)(nil)
