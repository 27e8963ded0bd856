package state

import (
	"errors"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"slotmarket/storage"
)

var (
	errTxClosed = errors.New("state: transaction already closed")
	errNilDB    = errors.New("state: database not configured")
)

// Manager owns the market's persisted key space. All mutations go through a Tx
// so a ledger call is applied to storage in a single batch or not at all.
type Manager struct {
	db storage.Database
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

func readRaw(db storage.Database, hashed []byte) ([]byte, bool, error) {
	if db == nil {
		return nil, false, errNilDB
	}
	data, err := db.Get(hashed)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// KVGet decodes the committed value stored under key into out. The boolean
// reports whether the key existed.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if m == nil {
		return false, errNilDB
	}
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, ok, err := readRaw(m.db, kvKey(key))
	if err != nil || !ok {
		return false, err
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// Begin opens a buffered overlay on top of the committed state.
func (m *Manager) Begin() *Tx {
	return &Tx{
		db:      m.db,
		writes:  make(map[string][]byte),
		deletes: make(map[string]struct{}),
	}
}

// Tx is a write overlay. Reads see the overlay first and fall through to the
// committed database. Nothing reaches storage until Commit.
type Tx struct {
	db      storage.Database
	writes  map[string][]byte
	deletes map[string]struct{}
	closed  bool
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (tx *Tx) KVGet(key []byte, out interface{}) (bool, error) {
	if tx.closed {
		return false, errTxClosed
	}
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	hashed := string(kvKey(key))
	if _, deleted := tx.deletes[hashed]; deleted {
		return false, nil
	}
	data, ok := tx.writes[hashed]
	if !ok {
		var err error
		data, ok, err = readRaw(tx.db, []byte(hashed))
		if err != nil || !ok {
			return false, err
		}
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// KVPut RLP-encodes value and stages it under key.
func (tx *Tx) KVPut(key []byte, value interface{}) error {
	if tx.closed {
		return errTxClosed
	}
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	hashed := string(kvKey(key))
	delete(tx.deletes, hashed)
	tx.writes[hashed] = encoded
	return nil
}

// KVDelete stages the removal of key.
func (tx *Tx) KVDelete(key []byte) error {
	if tx.closed {
		return errTxClosed
	}
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	hashed := string(kvKey(key))
	delete(tx.writes, hashed)
	tx.deletes[hashed] = struct{}{}
	return nil
}

// Pending reports the number of staged writes and deletes.
func (tx *Tx) Pending() int {
	return len(tx.writes) + len(tx.deletes)
}

// Commit applies every staged change in one storage batch and closes the
// transaction.
func (tx *Tx) Commit() error {
	if tx.closed {
		return errTxClosed
	}
	if tx.db == nil {
		return errNilDB
	}
	tx.closed = true
	if tx.Pending() == 0 {
		return nil
	}
	batch := tx.db.NewBatch()
	for key, value := range tx.writes {
		batch.Put([]byte(key), value)
	}
	for key := range tx.deletes {
		batch.Delete([]byte(key))
	}
	return batch.Write()
}

// Discard drops every staged change. Calling Discard after Commit is a no-op.
func (tx *Tx) Discard() {
	if tx.closed {
		return
	}
	tx.closed = true
	tx.writes = nil
	tx.deletes = nil
}
