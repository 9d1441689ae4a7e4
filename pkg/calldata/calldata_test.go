package calldata

import (
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const getterABI = `[{"type":"function","name":"getTakerAmount","inputs":[
	{"name":"orderMakerAmount","type":"uint256"},
	{"name":"orderTakerAmount","type":"uint256"},
	{"name":"swapMakerAmount","type":"uint256"}],
	"outputs":[{"name":"","type":"uint256"}]}]`

// proportional decodes getTakerAmount calls and answers them directly.
type proportional struct {
	abi   abi.ABI
	calls int
	fail  error
}

func (p *proportional) StaticCall(_ common.Address, input []byte) ([]byte, error) {
	p.calls++
	if p.fail != nil {
		return nil, p.fail
	}
	args, err := p.abi.Methods["getTakerAmount"].Inputs.Unpack(input[4:])
	if err != nil {
		return nil, err
	}
	m, tk, swap := args[0].(*big.Int), args[1].(*big.Int), args[2].(*big.Int)
	out := new(big.Int).Mul(swap, tk)
	return Word(out.Quo(out, m)), nil
}

func newProportional(t *testing.T) *proportional {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(getterABI))
	require.NoError(t, err)
	return &proportional{abi: parsed}
}

func TestTemplateCutsLastWord(t *testing.T) {
	p := newProportional(t)
	full, err := p.abi.Pack("getTakerAmount", big.NewInt(10), big.NewInt(2), big.NewInt(9))
	require.NoError(t, err)

	tmpl, err := Template(&p.abi, "getTakerAmount", big.NewInt(10), big.NewInt(2))
	require.NoError(t, err)
	assert.Len(t, tmpl, 4+2*WordSize)
	assert.Equal(t, full, AppendAmount(tmpl, big.NewInt(9)))
}

func TestCallAmount(t *testing.T) {
	p := newProportional(t)
	tmpl, _ := Template(&p.abi, "getTakerAmount", big.NewInt(10), big.NewInt(2))

	got, err := CallAmount(p, common.Address{}, tmpl, big.NewInt(9))
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Int64(), "9*2/10 floors to 1")
}

func TestCallAmountFailure(t *testing.T) {
	p := newProportional(t)
	p.fail = errors.New("reverted")
	tmpl, _ := Template(&p.abi, "getTakerAmount", big.NewInt(10), big.NewInt(2))

	_, err := CallAmount(p, common.Address{}, tmpl, big.NewInt(9))
	assert.ErrorIs(t, err, ErrGetAmountCallFailed)
	assert.ErrorIs(t, err, p.fail)
}

func TestResolveEmptyTemplate(t *testing.T) {
	p := newProportional(t)

	got, err := Resolve(p, common.Address{}, nil, big.NewInt(10), big.NewInt(10), big.NewInt(2))
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Int64())

	_, err = Resolve(p, common.Address{}, nil, big.NewInt(5), big.NewInt(10), big.NewInt(2))
	assert.ErrorIs(t, err, ErrAmbiguousAmount)
	assert.Zero(t, p.calls, "empty templates never call out")
}

func TestTargetSplitting(t *testing.T) {
	target := common.HexToAddress("0x00000000000000000000000000000000000000bb")
	blob := WithTarget(target, []byte{1, 2, 3})

	got, rest, err := SplitTarget(blob)
	require.NoError(t, err)
	assert.Equal(t, target, got)
	assert.Equal(t, []byte{1, 2, 3}, rest)

	_, _, err = SplitTarget([]byte{1})
	assert.ErrorIs(t, err, ErrNoTarget)
}

func TestDecodeBool(t *testing.T) {
	v, err := DecodeBool(Word(big.NewInt(1)))
	require.NoError(t, err)
	assert.True(t, v)

	v, err = DecodeBool(Word(big.NewInt(0)))
	require.NoError(t, err)
	assert.False(t, v)

	_, err = DecodeBool(Word(big.NewInt(2)))
	assert.ErrorIs(t, err, ErrBadResult)

	_, err = DecodeBool([]byte{1})
	assert.ErrorIs(t, err, ErrBadResult)
}
