package engine

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Storage schema inside the engine's contract namespace.
// Nonces live alongside under "nonce/" (see package nonce).
const (
	prefixRemaining   = "remaining/"
	prefixParticipant = "participant/"
	prefixAsset       = "asset/"
	prefixFill        = "fill/"
	keyFillSeq        = "fillseq"
)

// remainingKey holds the unfilled maker amount of an order.
// Format: "remaining/{orderHash}"
// Absent until the first fill or cancel.
func remainingKey(hash common.Hash) string {
	return prefixRemaining + hash.Hex()
}

// participantKey holds the legs credited to an address by an order.
// Format: "participant/{orderHash}/{address}"
func participantKey(hash common.Hash, who common.Address) string {
	return fmt.Sprintf("%s%s/%s", prefixParticipant, hash.Hex(), who.Hex())
}

// assetKey holds the margin model parameters of an asset.
// Format: "asset/{address}"
func assetKey(asset common.Address) string {
	return prefixAsset + asset.Hex()
}

// fillKey holds one fill record. The sequence number is zero-padded to
// 20 digits so a prefix scan returns fills in execution order.
// Format: "fill/{orderHash}/{seq}"
func fillKey(hash common.Hash, seq uint64) string {
	return fmt.Sprintf("%s%020d", fillPrefix(hash), seq)
}

// fillPrefix covers every fill of one order.
// Format: "fill/{orderHash}/"
func fillPrefix(hash common.Hash) string {
	return prefixFill + hash.Hex() + "/"
}
