package account

import (
	"encoding/binary"
	"fmt"

	"github.com/bardlex/gocoal/internal/protocol"
)

// Discriminator identifies the record type stored in an account.
type Discriminator uint8

const (
	DiscriminatorBus         Discriminator = 100
	DiscriminatorConfig      Discriminator = 101
	DiscriminatorProof       Discriminator = 102
	DiscriminatorTool        Discriminator = 103
	DiscriminatorGuildConfig Discriminator = 110
	DiscriminatorGuildMember Discriminator = 111
)

// HeaderSize is the length of the discriminator header preceding every record.
const HeaderSize = 8

// Record sizes including the header.
const (
	BusSize         = HeaderSize + 4*8
	ConfigSize      = HeaderSize + 4*8
	ProofSize       = HeaderSize + 3*32 + 5*8
	ToolSize        = HeaderSize + 3*32 + 2*8
	GuildConfigSize = HeaderSize + 2*8
	GuildMemberSize = HeaderSize + 2*32 + 8
)

// DiscriminatorOf returns the header byte of data, or false when data is too short.
func DiscriminatorOf(data []byte) (Discriminator, bool) {
	if len(data) < HeaderSize {
		return 0, false
	}
	return Discriminator(data[0]), true
}

func checkHeader(data []byte, d Discriminator, size int) error {
	if len(data) != size {
		return fmt.Errorf("%w: expected %d bytes for discriminator %d, got %d",
			protocol.ErrInvalidAccountData, size, d, len(data))
	}
	if Discriminator(data[0]) != d {
		return fmt.Errorf("%w: discriminator %d, want %d",
			protocol.ErrInvalidAccountData, data[0], d)
	}
	return nil
}

// writer appends packed little-endian fields after a header.
type writer struct {
	buf []byte
}

func newWriter(d Discriminator, size int) *writer {
	buf := make([]byte, HeaderSize, size)
	buf[0] = byte(d)
	return &writer{buf: buf}
}

func (w *writer) u64(v uint64)   { w.buf = binary.LittleEndian.AppendUint64(w.buf, v) }
func (w *writer) i64(v int64)    { w.u64(uint64(v)) }
func (w *writer) key(k [32]byte) { w.buf = append(w.buf, k[:]...) }

// reader consumes packed fields; bounds are checked once by checkHeader.
type reader struct {
	buf []byte
	off int
}

func newReader(data []byte) *reader { return &reader{buf: data, off: HeaderSize} }

func (r *reader) u64() uint64 {
	v := binary.LittleEndian.Uint64(r.buf[r.off:])
	r.off += 8
	return v
}

func (r *reader) i64() int64 { return int64(r.u64()) }

func (r *reader) key() (k [32]byte) {
	copy(k[:], r.buf[r.off:r.off+32])
	r.off += 32
	return k
}
