// Package state layers a transactional overlay over a storage backend.
//
// A Tx buffers writes and events in memory. Reads see the buffered writes
// first. Nothing reaches the backend until Commit, which hands the whole
// write set to a single atomic Apply.
package state

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/irswap/pkg/storage"
)

var (
	ErrReadOnly  = errors.New("state: write in read-only context")
	ErrCommitted = errors.New("state: transaction already finished")
)

type journalEntry struct {
	key     string
	prev    []byte
	touched bool
}

// Snapshot identifies a point a Tx can be rolled back to.
type Snapshot struct {
	journal int
	logs    int
}

type Tx struct {
	backend storage.KV
	writes  map[string][]byte
	journal []journalEntry
	logs    []any
	done    bool
}

func NewTx(backend storage.KV) *Tx {
	return &Tx{backend: backend, writes: make(map[string][]byte)}
}

func (t *Tx) get(key []byte) ([]byte, error) {
	if v, ok := t.writes[string(key)]; ok {
		return v, nil
	}
	return t.backend.Get(key)
}

func (t *Tx) put(key []byte, val []byte) error {
	if t.done {
		return ErrCommitted
	}
	k := string(key)
	prev, touched := t.writes[k]
	t.journal = append(t.journal, journalEntry{key: k, prev: prev, touched: touched})
	t.writes[k] = val
	return nil
}

// AddLog buffers an event until commit.
func (t *Tx) AddLog(ev any) {
	t.logs = append(t.logs, ev)
}

// Logs returns the buffered events in emission order.
func (t *Tx) Logs() []any {
	return t.logs
}

func (t *Tx) Snapshot() Snapshot {
	return Snapshot{journal: len(t.journal), logs: len(t.logs)}
}

// RevertToSnapshot undoes every write and event recorded after s.
func (t *Tx) RevertToSnapshot(s Snapshot) {
	for i := len(t.journal) - 1; i >= s.journal; i-- {
		e := t.journal[i]
		if e.touched {
			t.writes[e.key] = e.prev
		} else {
			delete(t.writes, e.key)
		}
	}
	t.journal = t.journal[:s.journal]
	t.logs = t.logs[:s.logs]
}

// Dirty reports the number of pending keys.
func (t *Tx) Dirty() int { return len(t.writes) }

// Commit flushes all pending writes atomically.
func (t *Tx) Commit() error {
	if t.done {
		return ErrCommitted
	}
	t.done = true
	if err := t.backend.Apply(t.writes); err != nil {
		return fmt.Errorf("commit %d keys: %w", len(t.writes), err)
	}
	return nil
}

// Discard drops everything buffered.
func (t *Tx) Discard() {
	t.done = true
	t.writes = nil
	t.journal = nil
	t.logs = nil
}

// Storage returns the key space of one contract.
func (t *Tx) Storage(addr common.Address, readOnly bool) *Storage {
	return &Storage{tx: t, addr: addr, readOnly: readOnly}
}
