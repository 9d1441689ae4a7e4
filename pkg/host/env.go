package host

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/irswap/pkg/state"
)

// Env is one call frame.
type Env struct {
	ctx      context.Context
	host     *Host
	tx       *state.Tx
	self     common.Address
	caller   common.Address
	origin   common.Address
	time     uint64
	readOnly bool
	depth    int
}

func (e *Env) Context() context.Context { return e.ctx }
func (e *Env) Self() common.Address     { return e.self }
func (e *Env) Caller() common.Address   { return e.caller }
func (e *Env) Origin() common.Address   { return e.origin }
func (e *Env) Time() uint64             { return e.time }
func (e *Env) ReadOnly() bool           { return e.readOnly }
func (e *Env) Depth() int               { return e.depth }

// Storage is the executing contract's key space.
func (e *Env) Storage() *state.Storage {
	return e.tx.Storage(e.self, e.readOnly)
}

// Emit records an event on behalf of the executing contract.
func (e *Env) Emit(name string, data any) error {
	if e.readOnly {
		return ErrWriteProtection
	}
	e.tx.AddLog(Event{Address: e.self, Name: name, Data: data, Time: e.time})
	return nil
}

// Call invokes another contract with the current contract as caller. A
// failed callee has its writes rolled back before the error is returned.
func (e *Env) Call(to common.Address, input []byte) ([]byte, error) {
	return e.call(to, input, e.readOnly)
}

// StaticCall invokes another contract in read-only mode.
func (e *Env) StaticCall(to common.Address, input []byte) ([]byte, error) {
	return e.call(to, input, true)
}

func (e *Env) call(to common.Address, input []byte, readOnly bool) ([]byte, error) {
	if e.depth+1 > MaxCallDepth {
		return nil, ErrCallDepth
	}
	if err := e.ctx.Err(); err != nil {
		return nil, err
	}
	child := &Env{
		ctx:      e.ctx,
		host:     e.host,
		tx:       e.tx,
		self:     to,
		caller:   e.self,
		origin:   e.origin,
		time:     e.time,
		readOnly: readOnly,
		depth:    e.depth + 1,
	}
	snap := e.tx.Snapshot()
	out, err := child.run(input)
	if err != nil {
		e.tx.RevertToSnapshot(snap)
		return nil, err
	}
	return out, nil
}

func (e *Env) run(input []byte) ([]byte, error) {
	c, ok := e.host.contract(e.self)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoContract, e.self.Hex())
	}
	return c.Run(e, input)
}
