// Package host is the execution environment the protocol contracts run
// in. It maps addresses to contracts, routes ABI-encoded calls between
// them and wraps every top-level call in a state transaction that either
// commits completely or leaves no trace.
package host

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/irswap/pkg/state"
	"github.com/uhyunpark/irswap/pkg/storage"
	"github.com/uhyunpark/irswap/pkg/util"
)

var (
	ErrNoContract      = errors.New("host: no contract at address")
	ErrWriteProtection = state.ErrReadOnly
	ErrCallDepth       = errors.New("host: max call depth exceeded")
	ErrUnknownSelector = errors.New("host: unknown selector")
	ErrShortInput      = errors.New("host: input shorter than selector")
	ErrOutputRange     = errors.New("host: output does not fit its abi type")
)

// MaxCallDepth bounds nested calls.
const MaxCallDepth = 64

// Contract is anything addressable on the host.
type Contract interface {
	Run(env *Env, input []byte) ([]byte, error)
}

// Event is published to subscribers after its transaction commits.
type Event struct {
	Address common.Address `json:"address"`
	Name    string         `json:"name"`
	Data    any            `json:"data"`
	Time    uint64         `json:"time"`
}

type Host struct {
	mu sync.Mutex // serializes transactions

	regMu     sync.RWMutex
	contracts map[common.Address]Contract

	subMu sync.RWMutex
	subs  []func(Event)

	backend storage.KV
	clock   util.Clock
	logger  *zap.Logger
	events  storage.EventLog
}

type Option func(*Host)

func WithClock(c util.Clock) Option { return func(h *Host) { h.clock = c } }

func WithLogger(l *zap.Logger) Option { return func(h *Host) { h.logger = util.OrNop(l) } }

// WithEventLog appends every committed event as a JSON line.
func WithEventLog(l storage.EventLog) Option { return func(h *Host) { h.events = l } }

func New(backend storage.KV, opts ...Option) *Host {
	h := &Host{
		contracts: make(map[common.Address]Contract),
		backend:   backend,
		clock:     util.RealClock{},
		logger:    zap.NewNop(),
		events:    storage.NewNopWAL(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Deploy installs c at addr, replacing whatever was there.
func (h *Host) Deploy(addr common.Address, c Contract) {
	h.regMu.Lock()
	h.contracts[addr] = c
	h.regMu.Unlock()
}

func (h *Host) contract(addr common.Address) (Contract, bool) {
	h.regMu.RLock()
	defer h.regMu.RUnlock()
	c, ok := h.contracts[addr]
	return c, ok
}

// Subscribe registers fn for committed events. fn runs synchronously on
// the committing goroutine and must not block.
func (h *Host) Subscribe(fn func(Event)) {
	h.subMu.Lock()
	h.subs = append(h.subs, fn)
	h.subMu.Unlock()
}

func (h *Host) Backend() storage.KV { return h.backend }

// Now is the current block time in unix seconds.
func (h *Host) Now() uint64 {
	return uint64(h.clock.Now().Unix())
}

// Execute runs fn as a top-level transaction with sender as caller and
// self as the executing contract. Writes and events made through the
// frame commit together when fn returns nil and are discarded otherwise.
func (h *Host) Execute(ctx context.Context, sender, self common.Address, fn func(env *Env) error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}

	tx := state.NewTx(h.backend)
	env := h.rootEnv(ctx, tx, sender, self, false)
	if err := fn(env); err != nil {
		tx.Discard()
		h.logger.Debug("tx reverted", zap.String("sender", sender.Hex()), zap.String("to", self.Hex()), zap.Error(err))
		return err
	}

	logs := tx.Logs()
	if err := tx.Commit(); err != nil {
		h.logger.Error("tx commit failed", zap.Error(err))
		return err
	}
	h.publish(logs)
	return nil
}

// View runs fn read-only. Nothing it does is persisted.
func (h *Host) View(ctx context.Context, sender, self common.Address, fn func(env *Env) error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := state.NewTx(h.backend)
	defer tx.Discard()
	return fn(h.rootEnv(ctx, tx, sender, self, true))
}

// Call sends ABI-encoded input to the contract at to.
func (h *Host) Call(ctx context.Context, sender, to common.Address, input []byte) ([]byte, error) {
	var out []byte
	err := h.Execute(ctx, sender, to, func(env *Env) error {
		var err error
		out, err = env.run(input)
		return err
	})
	return out, err
}

// StaticCall is the read-only variant of Call.
func (h *Host) StaticCall(ctx context.Context, sender, to common.Address, input []byte) ([]byte, error) {
	var out []byte
	err := h.View(ctx, sender, to, func(env *Env) error {
		var err error
		out, err = env.run(input)
		return err
	})
	return out, err
}

func (h *Host) rootEnv(ctx context.Context, tx *state.Tx, sender, self common.Address, readOnly bool) *Env {
	return &Env{
		ctx:      ctx,
		host:     h,
		tx:       tx,
		self:     self,
		caller:   sender,
		origin:   sender,
		time:     h.Now(),
		readOnly: readOnly,
	}
}

func (h *Host) publish(logs []any) {
	if len(logs) == 0 {
		return
	}
	h.subMu.RLock()
	subs := append([]func(Event){}, h.subs...)
	h.subMu.RUnlock()

	for _, l := range logs {
		ev, ok := l.(Event)
		if !ok {
			continue
		}
		if line, err := json.Marshal(ev); err == nil {
			h.events.Append(string(line))
		}
		for _, fn := range subs {
			fn(ev)
		}
	}
}
