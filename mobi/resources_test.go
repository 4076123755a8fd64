package mobi

import (
	"bytes"
	"testing"

	"github.com/klauspost/compress/zlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildFontRecord assembles a FONT resource record around payload,
// optionally deflating it and XOR-obfuscating its head.
func buildFontRecord(t *testing.T, payload []byte, deflate bool, xorKey []byte) []byte {
	t.Helper()
	flags := uint32(0)
	body := payload
	if deflate {
		flags |= fontFlagZlib
		var zbuf bytes.Buffer
		zw := zlib.NewWriter(&zbuf)
		_, err := zw.Write(payload)
		require.NoError(t, err)
		require.NoError(t, zw.Close())
		body = zbuf.Bytes()
	}
	if len(xorKey) > 0 {
		flags |= fontFlagXOR
		obfuscated := append([]byte(nil), body...)
		n := len(obfuscated)
		if n > fontObfuscatedLen {
			n = fontObfuscatedLen
		}
		for i := 0; i < n; i++ {
			obfuscated[i] ^= xorKey[i%len(xorKey)]
		}
		body = obfuscated
	}
	dataOffset := uint32(fontHeaderLen + len(xorKey))
	rec := make([]byte, int(dataOffset)+len(body))
	b := NewBuffer(rec)
	b.AddRaw([]byte("FONT"))
	b.Add32(uint32(len(payload)))
	b.Add32(flags)
	b.Add32(dataOffset)
	b.Add32(uint32(len(xorKey)))
	b.Add32(fontHeaderLen)
	b.AddRaw(xorKey)
	b.AddRaw(body)
	require.NoError(t, b.Err())
	return rec
}

func TestDecodeFontResourceZlib(t *testing.T) {
	payload := append([]byte("OTTO"), bytes.Repeat([]byte{0xAB}, 64)...)
	rec := buildFontRecord(t, payload, true, nil)
	got, typ, err := decodeFontResource(rec)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	assert.Equal(t, FileTypeOTF, typ)
}

func TestDecodeFontResourceXORAndZlib(t *testing.T) {
	payload := append([]byte{0x00, 0x01, 0x00, 0x00}, bytes.Repeat([]byte{0x42}, 32)...)
	rec := buildFontRecord(t, payload, true, []byte{0x5A, 0xA5})
	got, typ, err := decodeFontResource(rec)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	assert.Equal(t, FileTypeTTF, typ)
}

func TestDecodeFontResourceBadMagic(t *testing.T) {
	_, _, err := decodeFontResource([]byte("NOTF\x00\x00\x00\x00"))
	assert.ErrorIs(t, err, ErrDataCorrupt)
}

func TestDecodeMediaResource(t *testing.T) {
	rec := make([]byte, 8+4)
	b := NewBuffer(rec)
	b.AddRaw([]byte("AUDI"))
	b.Add32(8)
	b.AddRaw([]byte("mp3!"))
	require.NoError(t, b.Err())

	got, err := decodeMediaResource(rec)
	require.NoError(t, err)
	assert.Equal(t, "mp3!", string(got))
}

func TestReconstructResourcesStopsAtBoundary(t *testing.T) {
	gif := []byte("GIF89a data")
	png := []byte("\x89PNG data")
	doc := recordsDoc(gif, []byte("junk record"), []byte("BOUNDARY"), png)
	idx := uint32(0)
	doc.Mobi = &MobiHeader{ImageIndex: &idx}

	rawml := &Rawml{}
	require.NoError(t, reconstructResources(doc, rawml))
	require.Len(t, rawml.Resources, 1)
	assert.Equal(t, FileTypeGIF, rawml.Resources[0].Type)
	assert.Equal(t, uint32(0), rawml.Resources[0].UID)
	assert.Equal(t, gif, rawml.Resources[0].Data)
}
