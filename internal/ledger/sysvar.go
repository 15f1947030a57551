package ledger

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/bardlex/gocoal/internal/account"
	"github.com/bardlex/gocoal/internal/pow"
)

// MaxSlotHashes is the depth of the slot-hash history exposed to programs.
const MaxSlotHashes = 512

const slotHashEntrySize = 8 + 32

// ErrStaleSlot is returned when a pushed slot does not advance the history.
var ErrStaleSlot = errors.New("ledger: slot does not advance history")

// SlotHash is one entry of the slot-hash history.
type SlotHash struct {
	Slot uint64
	Hash account.Hash
}

// SlotHashes is the bounded, newest-first slot-hash history.
type SlotHashes struct {
	mu      sync.RWMutex
	entries []SlotHash
}

// NewSlotHashes returns an empty history.
func NewSlotHashes() *SlotHashes {
	return &SlotHashes{entries: make([]SlotHash, 0, MaxSlotHashes)}
}

// Push records hash as the newest slot.
func (s *SlotHashes) Push(slot uint64, hash account.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.entries) > 0 && slot <= s.entries[0].Slot {
		return fmt.Errorf("%w: %d after %d", ErrStaleSlot, slot, s.entries[0].Slot)
	}
	if len(s.entries) < MaxSlotHashes {
		s.entries = append(s.entries, SlotHash{})
	}
	copy(s.entries[1:], s.entries)
	s.entries[0] = SlotHash{Slot: slot, Hash: hash}
	return nil
}

// Tick appends a locally derived slot: the next slot number, hashed with the
// previous newest hash. It is the slot source when no external feed is
// configured.
func (s *SlotHashes) Tick() SlotHash {
	s.mu.Lock()
	defer s.mu.Unlock()

	var next SlotHash
	if len(s.entries) > 0 {
		prev := s.entries[0]
		next.Slot = prev.Slot + 1
		next.Hash = pow.Keccak(prev.Hash[:], binary.LittleEndian.AppendUint64(nil, next.Slot))
	} else {
		next.Hash = pow.Keccak([]byte("slot"), make([]byte, 8))
	}
	if len(s.entries) < MaxSlotHashes {
		s.entries = append(s.entries, SlotHash{})
	}
	copy(s.entries[1:], s.entries)
	s.entries[0] = next
	return next
}

// Newest returns the latest entry.
func (s *SlotHashes) Newest() (SlotHash, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.entries) == 0 {
		return SlotHash{}, false
	}
	return s.entries[0], true
}

// CurrentSlot is the slot being executed: one past the newest hashed slot.
func (s *SlotHashes) CurrentSlot() uint64 {
	newest, ok := s.Newest()
	if !ok {
		return 0
	}
	return newest.Slot + 1
}

// Entries returns a copy of the history, newest first.
func (s *SlotHashes) Entries() []SlotHash {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]SlotHash(nil), s.entries...)
}

// Encode returns the sysvar layout: u64 count, then slot u64 and hash per entry.
func (s *SlotHashes) Encode() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()

	buf := make([]byte, 0, 8+len(s.entries)*slotHashEntrySize)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(len(s.entries)))
	for _, e := range s.entries {
		buf = binary.LittleEndian.AppendUint64(buf, e.Slot)
		buf = append(buf, e.Hash[:]...)
	}
	return buf
}

// DecodeSlotHashes parses the sysvar layout.
func DecodeSlotHashes(data []byte) ([]SlotHash, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("slot hashes: %d bytes", len(data))
	}
	n := binary.LittleEndian.Uint64(data)
	if n > MaxSlotHashes || uint64(len(data)-8) != n*slotHashEntrySize {
		return nil, fmt.Errorf("slot hashes: %d entries in %d bytes", n, len(data))
	}
	out := make([]SlotHash, n)
	for i := range out {
		off := 8 + i*slotHashEntrySize
		out[i].Slot = binary.LittleEndian.Uint64(data[off:])
		copy(out[i].Hash[:], data[off+8:off+slotHashEntrySize])
	}
	return out, nil
}

// Restore replaces the history, e.g. after loading it from the store.
func (s *SlotHashes) Restore(entries []SlotHash) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(entries) > MaxSlotHashes {
		entries = entries[:MaxSlotHashes]
	}
	s.entries = append(s.entries[:0], entries...)
}

func encodeClock(slot uint64, unix int64) []byte {
	buf := binary.LittleEndian.AppendUint64(nil, slot)
	return binary.LittleEndian.AppendUint64(buf, uint64(unix))
}
