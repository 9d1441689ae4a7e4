package storage

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Every contract gets its own key space:
//
//	c:{address}:{contract key}
//
// Contract keys are slash-separated paths such as
// "remaining/0xabc..." or "allowance/0xowner/0xspender".
const prefixContract = "c:"

// ContractPrefix returns the prefix shared by all keys of a contract.
func ContractPrefix(addr common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixContract, addr.Hex()))
}

// ContractKey returns the backend key of a contract storage slot.
func ContractKey(addr common.Address, key string) []byte {
	return append(ContractPrefix(addr), key...)
}

// KeyUpperBound returns the exclusive upper bound for a prefix scan
// Example: prefix "c:0x123:" -> upper bound "c:0x123;"
func KeyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	for i := len(bound) - 1; i >= 0; i-- {
		if bound[i] < 0xff {
			bound[i]++
			return bound[:i+1]
		}
	}
	return nil
}
