package crypto

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Domain is the EIP-712 domain of a verifying contract.
// It prevents replay across chains and contracts.
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

var domainType = []apitypes.Type{
	{Name: "name", Type: "string"},
	{Name: "version", Type: "string"},
	{Name: "chainId", Type: "uint256"},
	{Name: "verifyingContract", Type: "address"},
}

func (d Domain) typed() apitypes.TypedDataDomain {
	return apitypes.TypedDataDomain{
		Name:              d.Name,
		Version:           d.Version,
		ChainId:           (*math.HexOrDecimal256)(d.ChainID),
		VerifyingContract: d.VerifyingContract.Hex(),
	}
}

// TypedHasher hashes and signs structs of a fixed type set under one domain.
type TypedHasher struct {
	domain    Domain
	types     apitypes.Types
	separator common.Hash
}

// NewTypedHasher precomputes the domain separator. types must not
// include EIP712Domain.
func NewTypedHasher(domain Domain, types apitypes.Types) (*TypedHasher, error) {
	all := apitypes.Types{"EIP712Domain": domainType}
	for name, fields := range types {
		all[name] = fields
	}
	h := &TypedHasher{domain: domain, types: all}

	td := h.typedData("", nil)
	sep, err := td.HashStruct("EIP712Domain", td.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}
	h.separator = common.BytesToHash(sep)
	return h, nil
}

func (h *TypedHasher) typedData(primaryType string, msg apitypes.TypedDataMessage) apitypes.TypedData {
	return apitypes.TypedData{
		Types:       h.types,
		PrimaryType: primaryType,
		Domain:      h.domain.typed(),
		Message:     msg,
	}
}

func (h *TypedHasher) Domain() Domain { return h.domain }

func (h *TypedHasher) DomainSeparator() common.Hash { return h.separator }

// StructHash returns hashStruct(message).
func (h *TypedHasher) StructHash(primaryType string, msg apitypes.TypedDataMessage) (common.Hash, error) {
	td := h.typedData(primaryType, msg)
	hash, err := td.HashStruct(primaryType, msg)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to hash message: %w", err)
	}
	return common.BytesToHash(hash), nil
}

// Digest returns keccak256("\x19\x01" || domainSeparator || hashStruct(message)),
// the value that is actually signed.
func (h *TypedHasher) Digest(primaryType string, msg apitypes.TypedDataMessage) (common.Hash, error) {
	structHash, err := h.StructHash(primaryType, msg)
	if err != nil {
		return common.Hash{}, err
	}
	return TypedDigest(h.separator, structHash), nil
}

// TypedDigest combines a domain separator with a struct hash.
func TypedDigest(separator, structHash common.Hash) common.Hash {
	return crypto.Keccak256Hash([]byte{0x19, 0x01}, separator.Bytes(), structHash.Bytes())
}

// Sign signs the digest of msg.
func (h *TypedHasher) Sign(signer *Signer, primaryType string, msg apitypes.TypedDataMessage) ([]byte, error) {
	digest, err := h.Digest(primaryType, msg)
	if err != nil {
		return nil, err
	}
	return signer.Sign(digest.Bytes())
}

// Recover returns the address that signed msg.
func (h *TypedHasher) Recover(primaryType string, msg apitypes.TypedDataMessage, signature []byte) (common.Address, error) {
	digest, err := h.Digest(primaryType, msg)
	if err != nil {
		return common.Address{}, err
	}
	return RecoverAddress(digest.Bytes(), signature)
}

// ToJSON renders msg as eth_signTypedData_v4 input for wallets.
func (h *TypedHasher) ToJSON(primaryType string, msg apitypes.TypedDataMessage) (string, error) {
	td := h.typedData(primaryType, msg)
	jsonBytes, err := json.MarshalIndent(td, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return string(jsonBytes), nil
}
