// Package token is an ERC20-style ledger with EIP-2612 permits. It is the
// asset that orders post margin in.
package token

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/uhyunpark/irswap/pkg/crypto"
	"github.com/uhyunpark/irswap/pkg/host"
	"github.com/uhyunpark/irswap/pkg/state"
)

const (
	EventTransfer = "Transfer"
	EventApproval = "Approval"

	permitType = "Permit"
)

var (
	ErrInsufficientBalance    = errors.New("token: transfer amount exceeds balance")
	ErrInsufficientAllowance  = errors.New("token: insufficient allowance")
	ErrZeroAddress            = errors.New("token: zero address")
	ErrNotOwner               = errors.New("token: caller is not the owner")
	ErrPermitExpired          = errors.New("expired deadline")
	ErrPermitInvalidSignature = errors.New("ERC20Permit: invalid signature")
)

var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// MaxAllowance never decreases when spent.
func MaxAllowance() *big.Int { return new(big.Int).Set(maxUint256) }

const ABI = `[
	{"type":"function","name":"name","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
	{"type":"function","name":"symbol","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
	{"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
	{"type":"function","name":"totalSupply","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"allowance","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"nonces","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"DOMAIN_SEPARATOR","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"bytes32"}]},
	{"type":"function","name":"transfer","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"approve","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"transferFrom","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"mint","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"permit","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"},{"name":"value","type":"uint256"},{"name":"deadline","type":"uint256"},{"name":"v","type":"uint8"},{"name":"r","type":"bytes32"},{"name":"s","type":"bytes32"}],"outputs":[]}
]`

var permitTypes = apitypes.Types{
	permitType: []apitypes.Type{
		{Name: "owner", Type: "address"},
		{Name: "spender", Type: "address"},
		{Name: "value", Type: "uint256"},
		{Name: "nonce", Type: "uint256"},
		{Name: "deadline", Type: "uint256"},
	},
}

type Transfer struct {
	From  common.Address `json:"from"`
	To    common.Address `json:"to"`
	Value *big.Int       `json:"value"`
}

type Approval struct {
	Owner   common.Address `json:"owner"`
	Spender common.Address `json:"spender"`
	Value   *big.Int       `json:"value"`
}

// Config describes one deployment. Version is the permit domain version.
type Config struct {
	Name     string
	Symbol   string
	Version  string
	Decimals uint8
	Owner    common.Address
	ChainID  *big.Int
	Address  common.Address
}

// Token is the contract. Deploy it on a host at cfg.Address.
type Token struct {
	*host.Router
	cfg     Config
	permits *crypto.TypedHasher
}

func New(cfg Config) (*Token, error) {
	if cfg.Version == "" {
		cfg.Version = "1"
	}
	permits, err := crypto.NewTypedHasher(crypto.Domain{
		Name:              cfg.Name,
		Version:           cfg.Version,
		ChainID:           cfg.ChainID,
		VerifyingContract: cfg.Address,
	}, permitTypes)
	if err != nil {
		return nil, fmt.Errorf("token: permit domain: %w", err)
	}
	t := &Token{Router: host.MustRouter(ABI), cfg: cfg, permits: permits}
	t.register()
	return t, nil
}

func (t *Token) Address() common.Address { return t.cfg.Address }

func (t *Token) Config() Config { return t.cfg }

func (t *Token) DomainSeparator() common.Hash { return t.permits.DomainSeparator() }

func balanceKey(who common.Address) string { return "balance/" + who.Hex() }

func allowanceKey(owner, spender common.Address) string {
	return "allowance/" + owner.Hex() + "/" + spender.Hex()
}

func permitNonceKey(owner common.Address) string { return "permitnonce/" + owner.Hex() }

const supplyKey = "supply"

// BalanceOf reads a balance from the token's storage.
func BalanceOf(st *state.Storage, who common.Address) (*big.Int, error) {
	v, _, err := st.GetBig(balanceKey(who))
	return v, err
}

func Allowance(st *state.Storage, owner, spender common.Address) (*big.Int, error) {
	v, _, err := st.GetBig(allowanceKey(owner, spender))
	return v, err
}

func PermitNonce(st *state.Storage, owner common.Address) (*big.Int, error) {
	v, _, err := st.GetBig(permitNonceKey(owner))
	return v, err
}

func TotalSupply(st *state.Storage) (*big.Int, error) {
	v, _, err := st.GetBig(supplyKey)
	return v, err
}

func move(env *host.Env, from, to common.Address, amount *big.Int) error {
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	st := env.Storage()
	fromBal, err := BalanceOf(st, from)
	if err != nil {
		return err
	}
	if fromBal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientBalance, from.Hex(), fromBal, amount)
	}
	if err := st.SetBig(balanceKey(from), fromBal.Sub(fromBal, amount)); err != nil {
		return err
	}
	toBal, err := BalanceOf(st, to)
	if err != nil {
		return err
	}
	if err := st.SetBig(balanceKey(to), toBal.Add(toBal, amount)); err != nil {
		return err
	}
	return env.Emit(EventTransfer, Transfer{From: from, To: to, Value: new(big.Int).Set(amount)})
}

func approve(env *host.Env, owner, spender common.Address, amount *big.Int) error {
	if spender == (common.Address{}) {
		return ErrZeroAddress
	}
	if err := env.Storage().SetBig(allowanceKey(owner, spender), amount); err != nil {
		return err
	}
	return env.Emit(EventApproval, Approval{Owner: owner, Spender: spender, Value: new(big.Int).Set(amount)})
}

func spend(env *host.Env, owner, spender common.Address, amount *big.Int) error {
	allowed, err := Allowance(env.Storage(), owner, spender)
	if err != nil {
		return err
	}
	if allowed.Cmp(maxUint256) == 0 {
		return nil
	}
	if allowed.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s allows %s, needs %s", ErrInsufficientAllowance, owner.Hex(), allowed, amount)
	}
	return env.Storage().SetBig(allowanceKey(owner, spender), allowed.Sub(allowed, amount))
}

func (t *Token) mint(env *host.Env, to common.Address, amount *big.Int) error {
	if env.Caller() != t.cfg.Owner {
		return ErrNotOwner
	}
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	st := env.Storage()
	supply, err := TotalSupply(st)
	if err != nil {
		return err
	}
	supply.Add(supply, amount)
	if supply.Cmp(maxUint256) > 0 {
		return fmt.Errorf("token: supply overflow")
	}
	if err := st.SetBig(supplyKey, supply); err != nil {
		return err
	}
	bal, err := BalanceOf(st, to)
	if err != nil {
		return err
	}
	if err := st.SetBig(balanceKey(to), bal.Add(bal, amount)); err != nil {
		return err
	}
	return env.Emit(EventTransfer, Transfer{To: to, Value: new(big.Int).Set(amount)})
}

func permitMessage(owner, spender common.Address, value, nonce, deadline *big.Int) apitypes.TypedDataMessage {
	return apitypes.TypedDataMessage{
		"owner":    owner.Hex(),
		"spender":  spender.Hex(),
		"value":    value,
		"nonce":    nonce,
		"deadline": deadline,
	}
}

func (t *Token) permit(env *host.Env, owner, spender common.Address, value, deadline *big.Int, v uint8, r, s [32]byte) error {
	if new(big.Int).SetUint64(env.Time()).Cmp(deadline) > 0 {
		return ErrPermitExpired
	}
	st := env.Storage()
	nonce, err := PermitNonce(st, owner)
	if err != nil {
		return err
	}
	signer, err := t.permits.Recover(permitType, permitMessage(owner, spender, value, nonce, deadline), crypto.JoinSignature(v, r, s))
	if err != nil || signer != owner {
		return ErrPermitInvalidSignature
	}
	if err := st.SetBig(permitNonceKey(owner), nonce.Add(nonce, big.NewInt(1))); err != nil {
		return err
	}
	return approve(env, owner, spender, value)
}

func (t *Token) register() {
	r := t.Router
	r.Handle("name", func(*host.Env, []any) ([]any, error) { return []any{t.cfg.Name}, nil })
	r.Handle("symbol", func(*host.Env, []any) ([]any, error) { return []any{t.cfg.Symbol}, nil })
	r.Handle("decimals", func(*host.Env, []any) ([]any, error) { return []any{t.cfg.Decimals}, nil })
	r.Handle("DOMAIN_SEPARATOR", func(*host.Env, []any) ([]any, error) {
		return []any{[32]byte(t.DomainSeparator())}, nil
	})
	r.Handle("totalSupply", func(env *host.Env, _ []any) ([]any, error) {
		v, err := TotalSupply(env.Storage())
		return []any{v}, err
	})
	r.Handle("balanceOf", func(env *host.Env, args []any) ([]any, error) {
		v, err := BalanceOf(env.Storage(), args[0].(common.Address))
		return []any{v}, err
	})
	r.Handle("allowance", func(env *host.Env, args []any) ([]any, error) {
		v, err := Allowance(env.Storage(), args[0].(common.Address), args[1].(common.Address))
		return []any{v}, err
	})
	r.Handle("nonces", func(env *host.Env, args []any) ([]any, error) {
		v, err := PermitNonce(env.Storage(), args[0].(common.Address))
		return []any{v}, err
	})
	r.Handle("transfer", func(env *host.Env, args []any) ([]any, error) {
		if err := move(env, env.Caller(), args[0].(common.Address), args[1].(*big.Int)); err != nil {
			return nil, err
		}
		return []any{true}, nil
	})
	r.Handle("approve", func(env *host.Env, args []any) ([]any, error) {
		if err := approve(env, env.Caller(), args[0].(common.Address), args[1].(*big.Int)); err != nil {
			return nil, err
		}
		return []any{true}, nil
	})
	r.Handle("transferFrom", func(env *host.Env, args []any) ([]any, error) {
		from, to, amount := args[0].(common.Address), args[1].(common.Address), args[2].(*big.Int)
		if env.Caller() != from {
			if err := spend(env, from, env.Caller(), amount); err != nil {
				return nil, err
			}
		}
		if err := move(env, from, to, amount); err != nil {
			return nil, err
		}
		return []any{true}, nil
	})
	r.Handle("mint", func(env *host.Env, args []any) ([]any, error) {
		return nil, t.mint(env, args[0].(common.Address), args[1].(*big.Int))
	})
	r.Handle("permit", func(env *host.Env, args []any) ([]any, error) {
		return nil, t.permit(env,
			args[0].(common.Address), args[1].(common.Address),
			args[2].(*big.Int), args[3].(*big.Int),
			args[4].(uint8), args[5].([32]byte), args[6].([32]byte))
	})
}
