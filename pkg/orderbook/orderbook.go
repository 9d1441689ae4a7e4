// Package orderbook keeps signed orders that are waiting for a taker.
//
// The book is an off-chain relay: it never fills anything. Makers post a
// signed order, takers browse the best quotes per market and present an
// order to the engine themselves. Entries leave the book when they are
// filled out, cancelled or expire.
package orderbook

import (
	"container/heap"
	"errors"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	fp "github.com/uhyunpark/irswap/pkg/fixedpoint"
	"github.com/uhyunpark/irswap/pkg/order"
)

var (
	ErrDuplicate    = errors.New("orderbook: order already resting")
	ErrFull         = errors.New("orderbook: book is full")
	ErrZeroNotional = errors.New("orderbook: order has no variable tokens")
)

// Market is one asset pair.
type Market struct {
	Asset           common.Address `json:"asset"`
	UnderlyingAsset common.Address `json:"underlyingAsset"`
}

func MarketOf(o *order.Order) Market {
	return Market{Asset: o.Asset, UnderlyingAsset: o.UnderlyingAsset}
}

// Entry is a resting order. Rate is fixed tokens per variable token in
// 64.64; takers of fixed want it high, takers of variable want it low.
type Entry struct {
	Hash      common.Hash   `json:"orderHash"`
	Order     *order.Order  `json:"order"`
	Signature hexutil.Bytes `json:"signature"`
	Rate      *big.Int      `json:"rate"`
	Seq       uint64        `json:"seq"`
	Added     time.Time     `json:"added"`

	index int
}

// sides splits a market the way a taker chooses: orders whose taker gets
// the fixed leg, and orders whose taker gets the variable leg.
type sides struct {
	fixed    *rateHeap // best = highest rate
	variable *rateHeap // best = lowest rate
}

func (s *sides) side(fixedTaker bool) *rateHeap {
	if fixedTaker {
		return s.fixed
	}
	return s.variable
}

type Book struct {
	mu sync.RWMutex

	markets map[Market]*sides

	// Order index for O(1) removal
	index map[common.Hash]*Entry

	seq      uint64
	capacity int
}

// New returns an empty book holding at most capacity orders; zero means
// unbounded.
func New(capacity int) *Book {
	return &Book{
		markets:  make(map[Market]*sides),
		index:    make(map[common.Hash]*Entry),
		capacity: capacity,
	}
}

// Rate is the fixed tokens per variable token of o in 64.64.
func Rate(o *order.Order) (*big.Int, error) {
	if o.VariableTokens == nil || o.VariableTokens.Sign() == 0 {
		return nil, ErrZeroNotional
	}
	fixed := o.FixedTokens
	if fixed == nil {
		fixed = new(big.Int)
	}
	return fp.DivU(fixed, o.VariableTokens)
}

// Add rests o under hash. The caller has already checked the signature.
func (b *Book) Add(hash common.Hash, o *order.Order, signature []byte, now time.Time) (Entry, error) {
	rate, err := Rate(o)
	if err != nil {
		return Entry{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.index[hash]; ok {
		return Entry{}, ErrDuplicate
	}
	if b.capacity > 0 && len(b.index) >= b.capacity {
		return Entry{}, ErrFull
	}

	m := MarketOf(o)
	s, ok := b.markets[m]
	if !ok {
		s = &sides{fixed: &rateHeap{desc: true}, variable: &rateHeap{}}
		b.markets[m] = s
	}

	b.seq++
	e := &Entry{
		Hash:      hash,
		Order:     o,
		Signature: append(hexutil.Bytes(nil), signature...),
		Rate:      rate,
		Seq:       b.seq,
		Added:     now,
	}
	heap.Push(s.side(o.IsFixedTaker), e)
	b.index[hash] = e
	return *e, nil
}

// Remove drops hash from the book. It reports whether it was resting.
func (b *Book) Remove(hash common.Hash) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.remove(hash)
}

func (b *Book) remove(hash common.Hash) bool {
	e, ok := b.index[hash]
	if !ok {
		return false
	}
	m := MarketOf(e.Order)
	s := b.markets[m]
	h := s.side(e.Order.IsFixedTaker)
	heap.Remove(h, e.index)
	delete(b.index, hash)

	// Drop the market once both sides are empty
	if s.fixed.Len() == 0 && s.variable.Len() == 0 {
		delete(b.markets, m)
	}
	return true
}

func (b *Book) Get(hash common.Hash) (Entry, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.index[hash]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Best returns up to limit entries of one side of m, best first. limit <= 0
// returns the whole side.
func (b *Book) Best(m Market, fixedTaker bool, limit int) []Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	s, ok := b.markets[m]
	if !ok {
		return nil
	}
	h := s.side(fixedTaker)
	if top, ok := h.Peek(); ok && limit == 1 {
		return []Entry{*top}
	}

	sorted := append([]*Entry(nil), h.entries...)
	sort.Slice(sorted, func(i, j int) bool { return h.before(sorted[i], sorted[j]) })
	if limit > 0 && len(sorted) > limit {
		sorted = sorted[:limit]
	}
	out := make([]Entry, len(sorted))
	for i, e := range sorted {
		out[i] = *e
	}
	return out
}

// PruneExpired removes every order whose swap has ended by now (unix
// seconds) and returns how many it removed.
func (b *Book) PruneExpired(now uint64) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	end := new(big.Int).SetUint64(now)
	var expired []common.Hash
	for hash, e := range b.index {
		if e.Order.EndTimestamp == nil || e.Order.EndTimestamp.Cmp(end) <= 0 {
			expired = append(expired, hash)
		}
	}
	for _, hash := range expired {
		b.remove(hash)
	}
	return len(expired)
}

// Len returns the number of resting orders.
func (b *Book) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.index)
}
