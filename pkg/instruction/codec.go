package instruction

import (
	"bytes"
	"encoding/binary"
	"fmt"

	bin "github.com/gagliardetto/binary"
)

// CommandSize is the width of the command ordinal prefix.
const CommandSize = 4

// writer serializes fields into instruction data. Writes go to an in-memory
// buffer and cannot fail.
type writer struct {
	buf bytes.Buffer
	enc *bin.Encoder
}

func newWriter(cmd Command) *writer {
	w := &writer{}
	w.enc = bin.NewBinEncoder(&w.buf)
	w.u32(uint32(cmd))
	return w
}

func (w *writer) u8(v uint8) {
	_ = w.enc.WriteUint8(v)
}

func (w *writer) u32(v uint32) {
	_ = w.enc.WriteUint32(v, binary.LittleEndian)
}

func (w *writer) u64(v uint64) {
	_ = w.enc.WriteUint64(v, binary.LittleEndian)
}

func (w *writer) bytes() []byte {
	return w.buf.Bytes()
}

// reader consumes fields from instruction data. The first failure is sticky;
// later reads return zero values and finish reports the error.
type reader struct {
	dec *bin.Decoder
	err error
}

func newReader(data []byte) *reader {
	return &reader{dec: bin.NewBinDecoder(data)}
}

func (r *reader) need(n int, field string) bool {
	if r.err != nil {
		return false
	}
	if r.dec.Remaining() < n {
		r.err = fmt.Errorf("%w: %s needs %d bytes, %d remaining", ErrMalformedInstructionData, field, n, r.dec.Remaining())
		return false
	}
	return true
}

func (r *reader) command() Command {
	return Command(r.u32("command"))
}

func (r *reader) u8(field string) uint8 {
	if !r.need(1, field) {
		return 0
	}
	v, err := r.dec.ReadUint8()
	if err != nil {
		r.err = fmt.Errorf("%w: %s: %v", ErrMalformedInstructionData, field, err)
	}
	return v
}

func (r *reader) u32(field string) uint32 {
	if !r.need(4, field) {
		return 0
	}
	v, err := r.dec.ReadUint32(binary.LittleEndian)
	if err != nil {
		r.err = fmt.Errorf("%w: %s: %v", ErrMalformedInstructionData, field, err)
	}
	return v
}

func (r *reader) u64(field string) uint64 {
	if !r.need(8, field) {
		return 0
	}
	v, err := r.dec.ReadUint64(binary.LittleEndian)
	if err != nil {
		r.err = fmt.Errorf("%w: %s: %v", ErrMalformedInstructionData, field, err)
	}
	return v
}

// finish reports the first read error, or an error if unread bytes remain.
func (r *reader) finish() error {
	if r.err != nil {
		return r.err
	}
	if n := r.dec.Remaining(); n != 0 {
		return fmt.Errorf("%w: %d trailing bytes", ErrMalformedInstructionData, n)
	}
	return nil
}
