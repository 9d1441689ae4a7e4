package predicate

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// The encoders below build predicate calldata for makers. Nested nodes
// address the protocol contract itself as their target.

func EncodeAnd(targets []common.Address, data [][]byte) ([]byte, error) {
	return helpers.Pack("and", targets, data)
}

func EncodeOr(targets []common.Address, data [][]byte) ([]byte, error) {
	return helpers.Pack("or", targets, data)
}

func EncodeEq(value *big.Int, target common.Address, data []byte) ([]byte, error) {
	return helpers.Pack("eq", value, target, data)
}

func EncodeLt(value *big.Int, target common.Address, data []byte) ([]byte, error) {
	return helpers.Pack("lt", value, target, data)
}

func EncodeGt(value *big.Int, target common.Address, data []byte) ([]byte, error) {
	return helpers.Pack("gt", value, target, data)
}

func EncodeTimestampBelow(time uint64) ([]byte, error) {
	return helpers.Pack("timestampBelow", new(big.Int).SetUint64(time))
}

func EncodeNonceEquals(maker common.Address, n uint64) ([]byte, error) {
	return helpers.Pack("nonceEquals", maker, new(big.Int).SetUint64(n))
}

func EncodeArbitraryStaticCall(target common.Address, data []byte) ([]byte, error) {
	return helpers.Pack("arbitraryStaticCall", target, data)
}
