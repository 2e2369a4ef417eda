package state

import (
	"fmt"
	"reflect"
	"slices"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"creditchain/storage/trie"
)

// Manager provides RLP-encoded key/value access to the state trie. Engines
// receive it through their narrow store interfaces.
type Manager struct {
	trie *trie.Trie
}

// NewManager creates a state manager operating on the provided trie.
func NewManager(tr *trie.Trie) *Manager {
	return &Manager{trie: tr}
}

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

// KVPut stores the provided value under the supplied key using RLP encoding.
// The key is automatically hashed with keccak256 to match the requirements of
// the underlying trie implementation.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return m.trie.Update(kvKey(key), encoded)
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.trie.Get(kvKey(key))
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// KVDelete removes the value stored under the supplied key.
func (m *Manager) KVDelete(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	return m.trie.Delete(kvKey(key))
}

// KVSetAdd inserts value into the ascending uint64 set stored under key and
// reports whether the set changed.
func (m *Manager) KVSetAdd(key []byte, value uint64) (bool, error) {
	var set []uint64
	if err := m.KVGetList(key, &set); err != nil {
		return false, err
	}
	pos, found := slices.BinarySearch(set, value)
	if found {
		return false, nil
	}
	return true, m.KVPut(key, slices.Insert(set, pos, value))
}

// KVSetRemove deletes value from the ascending uint64 set stored under key and
// reports whether it was present. Emptied sets are removed from state.
func (m *Manager) KVSetRemove(key []byte, value uint64) (bool, error) {
	var set []uint64
	if err := m.KVGetList(key, &set); err != nil {
		return false, err
	}
	pos, found := slices.BinarySearch(set, value)
	if !found {
		return false, nil
	}
	set = slices.Delete(set, pos, pos+1)
	if len(set) == 0 {
		return true, m.KVDelete(key)
	}
	return true, m.KVPut(key, set)
}

// KVGetList retrieves an RLP-encoded slice stored under the provided key and
// decodes it into the supplied destination slice pointer. When no value is
// present the destination is initialised with an empty slice.
func (m *Manager) KVGetList(key []byte, out interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.trie.Get(kvKey(key))
	if err != nil {
		return err
	}
	if len(data) == 0 {
		val := reflect.ValueOf(out)
		if val.Kind() != reflect.Ptr || val.IsNil() {
			return fmt.Errorf("kv: destination must be a non-nil pointer")
		}
		elem := val.Elem()
		if elem.Kind() != reflect.Slice {
			return fmt.Errorf("kv: destination must point to a slice")
		}
		elem.Set(reflect.MakeSlice(elem.Type(), 0, 0))
		return nil
	}
	return rlp.DecodeBytes(data, out)
}
