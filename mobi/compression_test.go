package mobi

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPalmDOCRoundTrip(t *testing.T) {
	// "Hello, World! Hello, World!" compressed by a reference PalmDOC
	// encoder: 14 literal bytes, then a distance-14 back-reference of
	// length 10 and another of length 3.
	compressed := append([]byte("Hello, World! "), 0x80, 0x77, 0x80, 0x70)
	out, err := decompressPalmDOC(compressed, 4096)
	require.NoError(t, err)
	assert.Equal(t, "Hello, World! Hello, World!", string(out))
	assert.Len(t, out, 27)
}

func TestPalmDOCBackReferenceOverlap(t *testing.T) {
	// two literal bytes then a distance-2 length-3 self-overlapping
	// back-reference
	out, err := decompressPalmDOC([]byte{0x02, 'A', 'B', 0x80, 0x10}, 4096)
	require.NoError(t, err)
	assert.Equal(t, "ABABA", string(out))
}

func TestPalmDOCSpaceHighBitPair(t *testing.T) {
	out, err := decompressPalmDOC([]byte{0xE1}, 4096)
	require.NoError(t, err)
	assert.Equal(t, " a", string(out))
}

func TestPalmDOCLiteralZeroByte(t *testing.T) {
	out, err := decompressPalmDOC([]byte{0x00, 'x'}, 4096)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 'x'}, out)
}

func TestPalmDOCTruncatedBackReference(t *testing.T) {
	_, err := decompressPalmDOC([]byte{0x80}, 4096)
	assert.ErrorIs(t, err, ErrDataCorrupt)
}

func TestPalmDOCBackReferenceBeforeStart(t *testing.T) {
	_, err := decompressPalmDOC([]byte{0x80, 0x10}, 4096)
	assert.ErrorIs(t, err, ErrDataCorrupt)
}

func TestPalmDOCTruncatedLiteralRun(t *testing.T) {
	_, err := decompressPalmDOC([]byte{0x04, 'a'}, 4096)
	assert.ErrorIs(t, err, ErrDataCorrupt)
}

// newTestHuffCdic builds a one-bit-code decoder: every bit set to 1
// decodes to the terminal symbol "X"; every 0 bit decodes to a
// compressed symbol whose payload is a further Huffman stream of
// eight 1 bits.
func newTestHuffCdic() *HuffCdic {
	huff := &huffTable{}
	for i := 0; i < 256; i++ {
		// code length 1, termination bit set, partial maxcode 1
		huff.table1[i] = 1<<8 | 0x80 | 1
	}
	cdic := &cdicTable{
		codeLength: 8,
		indexCount: 2,
		symbols: []cdicSymbol{
			{data: []byte("X"), decompressed: true},
			{data: []byte{0xFF}, decompressed: false},
		},
	}
	return &HuffCdic{huff: huff, cdics: []*cdicTable{cdic}}
}

func TestHuffCdicTerminalSymbols(t *testing.T) {
	hc := newTestHuffCdic()
	// 0b11000000: two leading 1 bits, output capped at two bytes
	out, err := hc.decompressHuffman([]byte{0xC0}, 2)
	require.NoError(t, err)
	assert.Equal(t, "XX", string(out))
}

func TestHuffCdicRecursiveSymbolExpansion(t *testing.T) {
	hc := newTestHuffCdic()
	// every 0 bit expands a nested stream of eight terminal symbols
	out, err := hc.decompressHuffman([]byte{0x00}, 16)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("X", 16), string(out))
}

func TestHuffCdicRecursionDepthBounded(t *testing.T) {
	huff := &huffTable{}
	for i := 0; i < 256; i++ {
		huff.table1[i] = 1<<8 | 0x80 | 1
	}
	// symbol 0 expands to itself forever
	cdic := &cdicTable{
		codeLength: 8,
		indexCount: 2,
		symbols: []cdicSymbol{
			{data: []byte{0xC0}, decompressed: false},
			{data: []byte{0xC0}, decompressed: false},
		},
	}
	hc := &HuffCdic{huff: huff, cdics: []*cdicTable{cdic}}
	_, err := hc.decompressHuffman([]byte{0xC0}, 4096)
	assert.ErrorIs(t, err, ErrDataCorrupt)
}

func TestGetRecordExtraSizeSingleTrailingEntry(t *testing.T) {
	// flag bit 1 set: one backward varlen at the record end declaring
	// a 3-byte trailer (the varlen byte included in its own count)
	data := []byte{'a', 'b', 'c', 'd', 'x', 'y', 0x83}
	extra, err := GetRecordExtraSize(data, 0x0002)
	require.NoError(t, err)
	assert.Equal(t, 3, extra)
}

func TestGetRecordExtraSizeMultibyteFlag(t *testing.T) {
	// flag bit 0 alone: low two bits of the final byte + 1
	data := []byte{'a', 'b', 'c', 0x01}
	extra, err := GetRecordExtraSize(data, 0x0001)
	require.NoError(t, err)
	assert.Equal(t, 2, extra)
}

func TestGetRecordExtraSizeCombinedFlags(t *testing.T) {
	// bit 1: trailing entry of 2 bytes; then bit 0: one more byte
	// whose low bits are zero
	data := []byte{'a', 'b', 'c', 0x00, 'z', 0x82}
	extra, err := GetRecordExtraSize(data, 0x0003)
	require.NoError(t, err)
	assert.Equal(t, 3, extra)
}
