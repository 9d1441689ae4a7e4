package host

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Handler receives decoded arguments and returns values matching the
// method's outputs.
type Handler func(env *Env, args []any) ([]any, error)

// Router is a Contract that dispatches on the 4-byte selector of an ABI.
// Bytes past the declared arguments are ignored by the decoder, so
// callers may append opaque suffixes.
type Router struct {
	abi      abi.ABI
	handlers map[string]Handler
}

func NewRouter(abiJSON string) (*Router, error) {
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		return nil, fmt.Errorf("host: parse abi: %w", err)
	}
	return &Router{abi: parsed, handlers: make(map[string]Handler)}, nil
}

func MustRouter(abiJSON string) *Router {
	r, err := NewRouter(abiJSON)
	if err != nil {
		panic(err)
	}
	return r
}

// Handle binds a method. It panics on a name the ABI does not declare.
func (r *Router) Handle(name string, h Handler) *Router {
	if _, ok := r.abi.Methods[name]; !ok {
		panic(fmt.Sprintf("host: abi has no method %q", name))
	}
	r.handlers[name] = h
	return r
}

func (r *Router) ABI() *abi.ABI { return &r.abi }

// Pack encodes a call to one of the router's methods.
func (r *Router) Pack(name string, args ...any) ([]byte, error) {
	return r.abi.Pack(name, args...)
}

func (r *Router) Run(env *Env, input []byte) ([]byte, error) {
	if len(input) < 4 {
		return nil, ErrShortInput
	}
	method, err := r.abi.MethodById(input[:4])
	if err != nil {
		return nil, fmt.Errorf("%w: %x", ErrUnknownSelector, input[:4])
	}
	h, ok := r.handlers[method.Name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSelector, method.Name)
	}
	args, err := method.Inputs.Unpack(input[4:])
	if err != nil {
		return nil, fmt.Errorf("host: decode %s: %w", method.Name, err)
	}
	out, err := h(env, args)
	if err != nil {
		return nil, err
	}
	if err := checkOutputs(method, out); err != nil {
		return nil, err
	}
	return method.Outputs.Pack(out...)
}

// checkOutputs refuses integer results the encoder would otherwise
// truncate to their low-order bits.
func checkOutputs(method *abi.Method, out []any) error {
	for i, arg := range method.Outputs {
		if i >= len(out) {
			break
		}
		v, ok := out[i].(*big.Int)
		if !ok || v == nil {
			continue
		}
		var fits bool
		switch arg.Type.T {
		case abi.UintTy:
			fits = v.Sign() >= 0 && v.BitLen() <= arg.Type.Size
		case abi.IntTy:
			mag := v
			if v.Sign() < 0 {
				mag = new(big.Int).Not(v) // -v-1
			}
			fits = mag.BitLen() < arg.Type.Size
		default:
			continue
		}
		if !fits {
			return fmt.Errorf("%w: %s output %d is %s", ErrOutputRange, method.Name, i, v)
		}
	}
	return nil
}

var _ Contract = (*Router)(nil)
