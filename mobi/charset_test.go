package mobi

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecodeBase32(t *testing.T) {
	cases := []struct {
		in   string
		want uint64
	}{
		{"001A", 42},
		{"VVVV", 32*32*32*31 + 32*32*31 + 32*31 + 31},
		{"0", 0},
		{"0000000010", 32},
		{"vvvv", 32*32*32*31 + 32*32*31 + 32*31 + 31}, // case-insensitive
	}
	for _, c := range cases {
		t.Run(c.in, func(t *testing.T) {
			got, ok := decodeBase32(c.in)
			assert.True(t, ok)
			assert.Equal(t, c.want, got)
		})
	}
}

func TestDecodeBase32RejectsInvalidChars(t *testing.T) {
	_, ok := decodeBase32("00W0")
	assert.False(t, ok)
	_, ok = decodeBase32("-1")
	assert.False(t, ok)
}

func TestEncodeBase32RoundTrip(t *testing.T) {
	for _, v := range []uint64{0, 1, 31, 32, 42, 1048575} {
		got, ok := decodeBase32(encodeBase32(v))
		assert.True(t, ok)
		assert.Equal(t, v, got)
	}
}

func TestDecodeCP1252SmartQuotes(t *testing.T) {
	// 0x93/0x94 are the CP-1252 curly quotes
	assert.Equal(t, "“hi”", decodeCP1252([]byte{0x93, 'h', 'i', 0x94}))
}

func TestEncodeCP1252RoundTrip(t *testing.T) {
	in := "café"
	assert.Equal(t, in, decodeCP1252(encodeCP1252(in)))
}

func TestLigatureToCP1252(t *testing.T) {
	assert.Equal(t, byte(0x8C), ligatureToCP1252(1, 'E'))
	assert.Equal(t, byte(0x9C), ligatureToCP1252(2, 'e'))
	assert.Equal(t, byte(0xC6), ligatureToCP1252(3, 'E'))
	assert.Equal(t, byte(0xE6), ligatureToCP1252(4, 'e'))
	assert.Equal(t, byte(0xDF), ligatureToCP1252(5, 's'))
	assert.Equal(t, byte(0), ligatureToCP1252(1, 'x'))
	assert.Equal(t, byte(0), ligatureToCP1252(9, 'E'))
}

func TestLigatureToUTF16(t *testing.T) {
	assert.Equal(t, uint16(0x0152), ligatureToUTF16(1, 'E'))
	assert.Equal(t, uint16(0x00DF), ligatureToUTF16(5, 's'))
	assert.Equal(t, uint16(0), ligatureToUTF16(2, 'x'))
}

func TestBitcount(t *testing.T) {
	assert.Equal(t, 0, bitcount(0x00))
	assert.Equal(t, 1, bitcount(0x08))
	assert.Equal(t, 4, bitcount(0x0F))
	assert.Equal(t, 8, bitcount(0xFF))
}

func TestClassifyResource(t *testing.T) {
	cases := []struct {
		data []byte
		want FileType
	}{
		{[]byte("GIF89a..."), FileTypeGIF},
		{[]byte{0xFF, 0xD8, 0xFF, 0xE0}, FileTypeJPEG},
		{[]byte("\x89PNG\r\n"), FileTypePNG},
		{[]byte("BM6"), FileTypeBMP},
		{[]byte("FONT\x00\x00"), FileTypeFont},
		{[]byte("AUDI\x00\x00"), FileTypeAudio},
		{[]byte("VIDE\x00\x00"), FileTypeVideo},
		{[]byte("BOUNDARY"), FileTypeBreak},
		{[]byte("plain text"), FileTypeUnknown},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, classifyResource(c.data))
	}
}

func TestDecodeLocale(t *testing.T) {
	lc := decodeLocale(9)
	assert.Equal(t, "en", lc.Language)
	assert.Equal(t, "", lc.Dialect)

	lc = decodeLocale(0x0409)
	assert.Equal(t, "en", lc.Language)
	assert.NotEqual(t, "", lc.Dialect)

	lc = decodeLocale(0xFF)
	assert.Equal(t, "und", lc.Language)
}
