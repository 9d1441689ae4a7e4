package state

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/irswap/pkg/storage"
)

// Storage is a contract's view of a Tx.
type Storage struct {
	tx       *Tx
	addr     common.Address
	readOnly bool
}

func (s *Storage) Address() common.Address { return s.addr }

func (s *Storage) Get(key string) ([]byte, error) {
	return s.tx.get(storage.ContractKey(s.addr, key))
}

func (s *Storage) Set(key string, val []byte) error {
	if s.readOnly {
		return ErrReadOnly
	}
	return s.tx.put(storage.ContractKey(s.addr, key), val)
}

func (s *Storage) Delete(key string) error {
	return s.Set(key, nil)
}

// GetBig reads a signed integer. Missing keys read as zero with ok=false.
func (s *Storage) GetBig(key string) (v *big.Int, ok bool, err error) {
	raw, err := s.Get(key)
	if err != nil {
		return nil, false, err
	}
	if raw == nil {
		return new(big.Int), false, nil
	}
	v, ok = new(big.Int).SetString(string(raw), 10)
	if !ok {
		return nil, false, fmt.Errorf("state: corrupt integer at %s", key)
	}
	return v, true, nil
}

func (s *Storage) SetBig(key string, v *big.Int) error {
	return s.Set(key, []byte(v.Text(10)))
}

func (s *Storage) GetUint64(key string) (uint64, error) {
	raw, err := s.Get(key)
	if err != nil || raw == nil {
		return 0, err
	}
	if len(raw) != 8 {
		return 0, fmt.Errorf("state: corrupt counter at %s", key)
	}
	return binary.BigEndian.Uint64(raw), nil
}

func (s *Storage) SetUint64(key string, v uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return s.Set(key, buf[:])
}

// GetJSON decodes the value at key into v and reports whether it existed.
func (s *Storage) GetJSON(key string, v any) (bool, error) {
	raw, err := s.Get(key)
	if err != nil || raw == nil {
		return false, err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("state: decode %s: %w", key, err)
	}
	return true, nil
}

func (s *Storage) SetJSON(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("state: encode %s: %w", key, err)
	}
	return s.Set(key, data)
}
