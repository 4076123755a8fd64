package mobi

import "github.com/htol/mobidecode/varint"

// Buffer is a bounds-checked big-endian reader/writer over an owned or
// borrowed byte slice. Once a read or write would exceed the declared
// length, the buffer latches ErrBufferEnd (or ErrParamErr for a bad
// argument) and every subsequent operation becomes a no-op returning the
// zero value; the error is never cleared, so after inspecting Err the
// caller discards the buffer. This mirrors the source's sticky-error buffer: a long sequence
// of header-field reads can run unchecked and the caller tests Err once
// at a logical boundary.
type Buffer struct {
	data   []byte
	offset int
	maxlen int
	err    error
}

// NewBuffer wraps data for reading/writing starting at offset 0. The
// buffer never reads or writes past len(data).
func NewBuffer(data []byte) *Buffer {
	return &Buffer{data: data, maxlen: len(data)}
}

// Err returns the sticky error, if any.
func (b *Buffer) Err() error { return b.err }

// Offset returns the current read/write position.
func (b *Buffer) Offset() int { return b.offset }

// Len returns the buffer's declared length.
func (b *Buffer) Len() int { return b.maxlen }

// Bytes returns the underlying slice (not a copy).
func (b *Buffer) Bytes() []byte { return b.data }

// SetMaxLen restricts the effective declared length, e.g. to confine a
// sub-parse (EXTH, MOBI header) to its own declared size within a larger
// record buffer. Passing a value greater than len(data) is a no-op.
func (b *Buffer) SetMaxLen(n int) {
	if n <= len(b.data) {
		b.maxlen = n
	}
}

func (b *Buffer) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

func (b *Buffer) checkAvail(n int) bool {
	if b.err != nil {
		return false
	}
	if n < 0 || b.offset+n > b.maxlen {
		b.fail(ErrBufferEnd)
		return false
	}
	return true
}

// Get8 reads one big-endian unsigned byte and advances the offset.
func (b *Buffer) Get8() uint8 {
	if !b.checkAvail(1) {
		return 0
	}
	v := b.data[b.offset]
	b.offset++
	return v
}

// Get16 reads a big-endian uint16 and advances the offset.
func (b *Buffer) Get16() uint16 {
	if !b.checkAvail(2) {
		return 0
	}
	v := uint16(b.data[b.offset])<<8 | uint16(b.data[b.offset+1])
	b.offset += 2
	return v
}

// Get32 reads a big-endian uint32 and advances the offset.
func (b *Buffer) Get32() uint32 {
	if !b.checkAvail(4) {
		return 0
	}
	v := uint32(b.data[b.offset])<<24 | uint32(b.data[b.offset+1])<<16 |
		uint32(b.data[b.offset+2])<<8 | uint32(b.data[b.offset+3])
	b.offset += 4
	return v
}

// Add8 writes a big-endian byte and advances the offset.
func (b *Buffer) Add8(v uint8) {
	if !b.checkAvail(1) {
		return
	}
	b.data[b.offset] = v
	b.offset++
}

// Add16 writes a big-endian uint16 and advances the offset.
func (b *Buffer) Add16(v uint16) {
	if !b.checkAvail(2) {
		return
	}
	b.data[b.offset] = byte(v >> 8)
	b.data[b.offset+1] = byte(v)
	b.offset += 2
}

// Add32 writes a big-endian uint32 and advances the offset.
func (b *Buffer) Add32(v uint32) {
	if !b.checkAvail(4) {
		return
	}
	b.data[b.offset] = byte(v >> 24)
	b.data[b.offset+1] = byte(v >> 16)
	b.data[b.offset+2] = byte(v >> 8)
	b.data[b.offset+3] = byte(v)
	b.offset += 4
}

// GetRaw reads n raw bytes and advances the offset. The returned slice is
// a copy; the buffer's own backing array is never aliased out.
func (b *Buffer) GetRaw(n int) []byte {
	if !b.checkAvail(n) {
		return nil
	}
	out := make([]byte, n)
	copy(out, b.data[b.offset:b.offset+n])
	b.offset += n
	return out
}

// AddRaw writes raw bytes and advances the offset.
func (b *Buffer) AddRaw(p []byte) {
	if !b.checkAvail(len(p)) {
		return
	}
	copy(b.data[b.offset:], p)
	b.offset += len(p)
}

// GetString reads n bytes and returns them as a string, trimming
// trailing NUL bytes as the caller would when nul-terminating a fixed
// field.
func (b *Buffer) GetString(n int) string {
	raw := b.GetRaw(n)
	if raw == nil {
		return ""
	}
	end := len(raw)
	for end > 0 && raw[end-1] == 0 {
		end--
	}
	return string(raw[:end])
}

// AddString writes the string's bytes without a terminator; callers
// writing fixed-width fields pad or nul-terminate themselves.
func (b *Buffer) AddString(s string) {
	b.AddRaw([]byte(s))
}

// GetStringSkipZeros copies n bytes but drops embedded zero bytes,
// matching the malformed-orth-label tolerance the source documents.
func (b *Buffer) GetStringSkipZeros(n int) string {
	raw := b.GetRaw(n)
	if raw == nil {
		return ""
	}
	out := make([]byte, 0, len(raw))
	for _, c := range raw {
		if c != 0 {
			out = append(out, c)
		}
	}
	return string(out)
}

// MatchMagic reports whether the next len(s) bytes equal s, without
// advancing the offset.
func (b *Buffer) MatchMagic(s []byte) bool {
	if b.err != nil {
		return false
	}
	if b.offset+len(s) > b.maxlen {
		return false
	}
	for i, c := range s {
		if b.data[b.offset+i] != c {
			return false
		}
	}
	return true
}

// Seek moves the offset by a relative delta.
func (b *Buffer) Seek(delta int) {
	if b.err != nil {
		return
	}
	n := b.offset + delta
	if n < 0 || n > b.maxlen {
		b.fail(ErrBufferEnd)
		return
	}
	b.offset = n
}

// SetPos moves the offset to an absolute position.
func (b *Buffer) SetPos(n int) {
	if b.err != nil {
		return
	}
	if n < 0 || n > b.maxlen {
		b.fail(ErrBufferEnd)
		return
	}
	b.offset = n
}

// GetVarlenForward reads a forward variable-length integer: up to 4
// bytes, each contributing its low 7 bits shifted into val, terminating
// on the first byte with the high bit set. bytesRead receives the
// number of bytes consumed.
func (b *Buffer) GetVarlenForward(bytesRead *int) uint32 {
	if b.err != nil {
		*bytesRead = 0
		return 0
	}
	end := b.offset + 4
	if end > b.maxlen {
		end = b.maxlen
	}
	val, count, err := varint.DecodeForward(b.data[b.offset:end])
	if err != nil {
		b.fail(ErrBufferEnd)
		*bytesRead = 0
		return 0
	}
	b.offset += count
	*bytesRead = count
	return val
}

// GetVarlenBackward reads a variable-length integer backwards, starting
// at and including the byte currently at offset, then walking toward
// the start of the buffer. Each byte processed shifts the accumulated
// value left 7 bits before ORing in the byte's low 7 bits — the mirror
// image of the forward reader, just walking memory in the other
// direction — and the scan stops (inclusive of the terminating byte)
// once a byte with the high bit set is seen, or after 4 bytes. On
// return, offset sits on the last byte consumed (the one nearest the
// start of the buffer). This is the text-record trailing-entry-size
// algorithm.
func (b *Buffer) GetVarlenBackward(bytesRead *int) uint32 {
	var val uint32
	count := 0
	pos := b.offset
	for count < 4 {
		if pos < 0 || pos >= b.maxlen || b.err != nil {
			b.fail(ErrBufferEnd)
			*bytesRead = count
			return 0
		}
		c := b.data[pos]
		val = (val << 7) | uint32(c&0x7F)
		count++
		pos--
		if c&0x80 != 0 {
			break
		}
	}
	b.offset = pos + 1
	*bytesRead = count
	return val
}
