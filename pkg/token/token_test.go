package token

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/irswap/pkg/calldata"
	"github.com/uhyunpark/irswap/pkg/crypto"
	"github.com/uhyunpark/irswap/pkg/host"
	"github.com/uhyunpark/irswap/pkg/storage"
	"github.com/uhyunpark/irswap/pkg/util"
)

var (
	daiAddr = common.HexToAddress("0x00000000000000000000000000000000000000da")
	owner   = common.HexToAddress("0x00000000000000000000000000000000000000f0")
	spender = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	bob     = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

type fixture struct {
	host  *host.Host
	clock *util.ManualClock
	token *Token
}

func setup(t *testing.T) *fixture {
	t.Helper()
	clock := util.NewManualClock(time.Unix(1_700_000_000, 0))
	h := host.New(storage.NewMemKV(), host.WithClock(clock))
	tok, err := New(Config{
		Name:     "Dai Stablecoin",
		Symbol:   "DAI",
		Decimals: 18,
		Owner:    owner,
		ChainID:  big.NewInt(31337),
		Address:  daiAddr,
	})
	require.NoError(t, err)
	h.Deploy(daiAddr, tok)
	return &fixture{host: h, clock: clock, token: tok}
}

func (f *fixture) call(t *testing.T, from common.Address, method string, args ...any) error {
	t.Helper()
	input, err := Pack(method, args...)
	require.NoError(t, err)
	_, err = f.host.Call(context.Background(), from, daiAddr, input)
	return err
}

func (f *fixture) view(t *testing.T, method string, args ...any) *big.Int {
	t.Helper()
	input, err := Pack(method, args...)
	require.NoError(t, err)
	out, err := f.host.StaticCall(context.Background(), bob, daiAddr, input)
	require.NoError(t, err)
	vals, err := Unpack(method, out)
	require.NoError(t, err)
	return vals[0].(*big.Int)
}

func TestMintIsOwnerOnly(t *testing.T) {
	f := setup(t)
	require.NoError(t, f.call(t, owner, "mint", bob, big.NewInt(500)))
	assert.ErrorIs(t, f.call(t, bob, "mint", bob, big.NewInt(500)), ErrNotOwner)

	assert.Equal(t, big.NewInt(500), f.view(t, "balanceOf", bob))
	assert.Equal(t, big.NewInt(500), f.view(t, "totalSupply"))
}

func TestTransferFromSpendsAllowance(t *testing.T) {
	f := setup(t)
	require.NoError(t, f.call(t, owner, "mint", bob, big.NewInt(100)))

	err := f.call(t, spender, "transferFrom", bob, spender, big.NewInt(10))
	assert.ErrorIs(t, err, ErrInsufficientAllowance)

	require.NoError(t, f.call(t, bob, "approve", spender, big.NewInt(30)))
	require.NoError(t, f.call(t, spender, "transferFrom", bob, spender, big.NewInt(10)))

	assert.Equal(t, big.NewInt(20), f.view(t, "allowance", bob, spender))
	assert.Equal(t, big.NewInt(90), f.view(t, "balanceOf", bob))
	assert.Equal(t, big.NewInt(10), f.view(t, "balanceOf", spender))

	err = f.call(t, spender, "transferFrom", bob, spender, big.NewInt(21))
	assert.ErrorIs(t, err, ErrInsufficientAllowance)
}

func TestInfiniteAllowanceIsNotSpent(t *testing.T) {
	f := setup(t)
	require.NoError(t, f.call(t, owner, "mint", bob, big.NewInt(100)))
	require.NoError(t, f.call(t, bob, "approve", spender, MaxAllowance()))
	require.NoError(t, f.call(t, spender, "transferFrom", bob, spender, big.NewInt(60)))
	assert.Equal(t, MaxAllowance(), f.view(t, "allowance", bob, spender))

	err := f.call(t, spender, "transferFrom", bob, spender, big.NewInt(60))
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Equal(t, big.NewInt(40), f.view(t, "balanceOf", bob), "failed transfer leaves balances alone")
}

func permitArgs(t *testing.T, f *fixture, signer *crypto.Signer, nonce, deadline *big.Int) []any {
	t.Helper()
	sig, err := f.token.SignPermit(signer, spender, big.NewInt(100), nonce, deadline)
	require.NoError(t, err)
	v, r, s, err := crypto.SplitSignature(sig)
	require.NoError(t, err)
	return []any{signer.Address(), spender, big.NewInt(100), deadline, v, r, s}
}

func TestPermit(t *testing.T) {
	f := setup(t)
	holder, err := crypto.GenerateKey()
	require.NoError(t, err)
	deadline := new(big.Int).SetUint64(f.host.Now() + 3600)

	args := permitArgs(t, f, holder, big.NewInt(0), deadline)
	require.NoError(t, f.call(t, bob, "permit", args...))
	assert.Equal(t, big.NewInt(100), f.view(t, "allowance", holder.Address(), spender))
	assert.Equal(t, big.NewInt(1), f.view(t, "nonces", holder.Address()))

	assert.ErrorIs(t, f.call(t, bob, "permit", args...), ErrPermitInvalidSignature, "replay")
}

func TestPermitRejectsOtherSigner(t *testing.T) {
	f := setup(t)
	holder, _ := crypto.GenerateKey()
	mallory, _ := crypto.GenerateKey()
	deadline := new(big.Int).SetUint64(f.host.Now() + 3600)

	args := permitArgs(t, f, mallory, big.NewInt(0), deadline)
	args[0] = holder.Address()
	assert.ErrorIs(t, f.call(t, bob, "permit", args...), ErrPermitInvalidSignature)
	assert.Zero(t, f.view(t, "nonces", holder.Address()).Sign())
}

func TestPermitExpires(t *testing.T) {
	f := setup(t)
	holder, _ := crypto.GenerateKey()
	deadline := new(big.Int).SetUint64(f.host.Now() + 60)
	args := permitArgs(t, f, holder, big.NewInt(0), deadline)

	f.clock.Advance(2 * time.Minute)
	assert.ErrorIs(t, f.call(t, bob, "permit", args...), ErrPermitExpired)
}

func TestPermitBlobRoundTrip(t *testing.T) {
	f := setup(t)
	holder, _ := crypto.GenerateKey()
	blob, err := f.token.PermitBlob(holder, spender, big.NewInt(100), big.NewInt(0), MaxAllowance())
	require.NoError(t, err)

	target, args, err := calldata.SplitTarget(blob)
	require.NoError(t, err)
	assert.Equal(t, daiAddr, target)

	_, err = f.host.Call(context.Background(), bob, target, PermitCall(args))
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(100), f.view(t, "allowance", holder.Address(), spender))
}
