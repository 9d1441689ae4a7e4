package token

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/irswap/pkg/calldata"
	"github.com/uhyunpark/irswap/pkg/crypto"
)

var parsedABI = func() abi.ABI {
	a, err := abi.JSON(strings.NewReader(ABI))
	if err != nil {
		panic(err)
	}
	return a
}()

// Pack encodes a call to a token method, for contracts and clients that
// talk to a token they do not hold a *Token for.
func Pack(method string, args ...any) ([]byte, error) {
	return parsedABI.Pack(method, args...)
}

// Unpack decodes the outputs of a token method.
func Unpack(method string, out []byte) ([]any, error) {
	return parsedABI.Unpack(method, out)
}

// SignPermit signs an allowance of value from signer to spender. nonce
// must be the signer's current permit nonce.
func (t *Token) SignPermit(signer *crypto.Signer, spender common.Address, value, nonce, deadline *big.Int) ([]byte, error) {
	return t.permits.Sign(signer, permitType, permitMessage(signer.Address(), spender, value, nonce, deadline))
}

// PermitArgs encodes the arguments of permit() without the selector.
func PermitArgs(owner, spender common.Address, value, deadline *big.Int, signature []byte) ([]byte, error) {
	v, r, s, err := crypto.SplitSignature(signature)
	if err != nil {
		return nil, err
	}
	return parsedABI.Methods["permit"].Inputs.Pack(owner, spender, value, deadline, v, r, s)
}

// PermitBlob is the form orders and fillOrderToWithPermit carry: the
// token address followed by the permit arguments.
func (t *Token) PermitBlob(signer *crypto.Signer, spender common.Address, value, nonce, deadline *big.Int) ([]byte, error) {
	sig, err := t.SignPermit(signer, spender, value, nonce, deadline)
	if err != nil {
		return nil, err
	}
	args, err := PermitArgs(signer.Address(), spender, value, deadline, sig)
	if err != nil {
		return nil, err
	}
	return calldata.WithTarget(t.cfg.Address, args), nil
}

// PermitCall restores the selector on permit arguments.
func PermitCall(args []byte) []byte {
	id := parsedABI.Methods["permit"].ID
	out := make([]byte, 0, len(id)+len(args))
	out = append(out, id...)
	return append(out, args...)
}
