package ledger

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v3"

	"github.com/bardlex/gocoal/internal/account"
)

var (
	accountPrefix = []byte("acct/")
	slotHashesKey = []byte("sysvar/slot_hashes")
)

// Store persists bank state in badger.
type Store struct {
	db *badger.DB
}

// OpenStore opens or creates the store at path. An empty path opens an
// in-memory store.
func OpenStore(path string) (*Store, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func accountKey(key account.Pubkey) []byte {
	return append(append([]byte(nil), accountPrefix...), key[:]...)
}

// SaveAccounts writes every account, owner first then data.
func (s *Store) SaveAccounts(accounts map[account.Pubkey]Account) error {
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	for key, acct := range accounts {
		value := append(append(make([]byte, 0, 32+len(acct.Data)), acct.Owner[:]...), acct.Data...)
		if err := wb.Set(accountKey(key), value); err != nil {
			return fmt.Errorf("failed to stage account %s: %w", key, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("failed to flush accounts: %w", err)
	}
	return nil
}

// LoadAccounts reads every stored account.
func (s *Store) LoadAccounts() (map[account.Pubkey]Account, error) {
	out := make(map[account.Pubkey]Account)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = accountPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key, err := account.PubkeyFromBytes(item.Key()[len(accountPrefix):])
			if err != nil {
				return err
			}
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if len(value) < 32 {
				return fmt.Errorf("account %s: truncated record", key)
			}
			var acct Account
			copy(acct.Owner[:], value[:32])
			acct.Data = value[32:]
			out[key] = acct
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load accounts: %w", err)
	}
	return out, nil
}

// SaveSlotHashes writes the slot-hash history.
func (s *Store) SaveSlotHashes(h *SlotHashes) error {
	data := h.Encode()
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(slotHashesKey, data)
	})
}

// LoadSlotHashes reads the slot-hash history. A store without one returns
// an empty history.
func (s *Store) LoadSlotHashes() ([]SlotHash, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(slotHashesKey)
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load slot hashes: %w", err)
	}
	return DecodeSlotHashes(data)
}

// Save persists the bank's accounts and slot history.
func (s *Store) Save(b *Bank) error {
	if err := s.SaveAccounts(b.Snapshot()); err != nil {
		return err
	}
	return s.SaveSlotHashes(b.SlotHashes())
}

// Restore loads persisted state into b and reports whether any was found.
func (s *Store) Restore(b *Bank) (bool, error) {
	accounts, err := s.LoadAccounts()
	if err != nil {
		return false, err
	}
	entries, err := s.LoadSlotHashes()
	if err != nil {
		return false, err
	}
	b.Load(accounts)
	b.SlotHashes().Restore(entries)
	return len(accounts) > 0, nil
}
