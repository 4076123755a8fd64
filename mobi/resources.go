package mobi

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
)

const (
	fontHeaderLen     = 24
	fontObfuscatedLen = 1040

	fontFlagZlib = 1 << 0
	fontFlagXOR  = 1 << 1
)

// decodeFontResource unpacks a FONT record: a 24-byte descriptor
// (decoded size, flags, data offset, XOR key position) followed by
// the font payload, optionally XOR-obfuscated over its first 1040
// bytes and optionally zlib-deflated.
func decodeFontResource(data []byte) ([]byte, FileType, error) {
	buf := NewBuffer(data)
	magic := buf.GetRaw(4)
	if buf.Err() != nil || string(magic) != "FONT" {
		return nil, FileTypeUnknown, fmt.Errorf("font: bad magic: %w", ErrDataCorrupt)
	}
	decodedSize := buf.Get32()
	flags := buf.Get32()
	dataOffset := buf.Get32()
	xorKeyLen := buf.Get32()
	xorKeyOff := buf.Get32()
	if buf.Err() != nil || decodedSize == 0 {
		return nil, FileTypeUnknown, fmt.Errorf("font: truncated header: %w", ErrDataCorrupt)
	}
	if int(dataOffset) > len(data) {
		return nil, FileTypeUnknown, fmt.Errorf("font: data offset out of range: %w", ErrDataCorrupt)
	}
	payload := make([]byte, len(data)-int(dataOffset))
	copy(payload, data[dataOffset:])

	if flags&fontFlagXOR != 0 && xorKeyLen > 0 {
		if int(xorKeyOff)+int(xorKeyLen) > len(data) {
			return nil, FileTypeUnknown, fmt.Errorf("font: xor key out of range: %w", ErrDataCorrupt)
		}
		key := data[xorKeyOff : xorKeyOff+xorKeyLen]
		n := len(payload)
		if n > fontObfuscatedLen {
			n = fontObfuscatedLen
		}
		for i := 0; i < n; i++ {
			payload[i] ^= key[i%len(key)]
		}
	}
	if flags&fontFlagZlib != 0 {
		zr, err := zlib.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, FileTypeUnknown, fmt.Errorf("font: zlib stream: %w", ErrDataCorrupt)
		}
		defer zr.Close()
		inflated, err := io.ReadAll(io.LimitReader(zr, int64(decodedSize)))
		if err != nil {
			return nil, FileTypeUnknown, fmt.Errorf("font: inflate: %w", ErrDataCorrupt)
		}
		payload = inflated
	}
	typ := FileTypeTTF
	if len(payload) >= 4 && string(payload[:4]) == "OTTO" {
		typ = FileTypeOTF
	}
	return payload, typ, nil
}

// decodeMediaResource unpacks an AUDI or VIDE record: a 4-byte magic
// plus a 32-bit offset to the raw media stream.
func decodeMediaResource(data []byte) ([]byte, error) {
	buf := NewBuffer(data)
	buf.Seek(4)
	offset := buf.Get32()
	if buf.Err() != nil || int(offset) > len(data) {
		return nil, fmt.Errorf("media: offset out of range: %w", ErrDataCorrupt)
	}
	payload := make([]byte, len(data)-int(offset))
	copy(payload, data[offset:])
	return payload, nil
}

// firstResourceSeq returns the sequence number of the first resource
// record, or 0 to scan the whole record list when the header does not
// say.
func firstResourceSeq(doc *Document) int {
	if doc.Mobi != nil && doc.Mobi.ImageIndex != nil && *doc.Mobi.ImageIndex != notSet32 {
		return int(*doc.Mobi.ImageIndex) + doc.kf8Offset
	}
	return 0
}

// reconstructResources walks the resource records, classifies each by
// magic prefix and decodes FONT/AUDI/VIDE payloads. Unknown records
// are skipped; a BOUNDARY record ends the walk.
func reconstructResources(doc *Document, rawml *Rawml) error {
	seq := firstResourceSeq(doc)
	if recordBySeq(doc.Records, seq) == nil {
		return fmt.Errorf("resources: first resource record %d not found: %w", seq, ErrDataCorrupt)
	}
	for i := seq; i < len(doc.Records); i++ {
		rec := doc.Records[i]
		typ := classifyResource(rec.Data)
		if typ == FileTypeUnknown {
			continue
		}
		if typ == FileTypeBreak {
			break
		}
		part := &Part{UID: uint32(i - seq)}
		switch typ {
		case FileTypeFont:
			payload, fontType, err := decodeFontResource(rec.Data)
			if err != nil {
				return err
			}
			part.Type = fontType
			part.Data = payload
		case FileTypeAudio, FileTypeVideo:
			payload, err := decodeMediaResource(rec.Data)
			if err != nil {
				return err
			}
			part.Type = typ
			part.Data = payload
		default:
			data := make([]byte, len(rec.Data))
			copy(data, rec.Data)
			part.Type = typ
			part.Data = data
		}
		rawml.Resources = append(rawml.Resources, part)
	}
	return nil
}
