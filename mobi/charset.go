package mobi

import (
	"strings"

	"golang.org/x/text/encoding/charmap"
)

// decodeCP1252 converts a Windows-1252 byte slice (the legacy KF7
// text encoding) to a UTF-8 string. Any byte not in the CP-1252
// table decodes via charmap's replacement behavior rather than
// failing the whole read, since record text is not validated ahead
// of decode time.
func decodeCP1252(data []byte) string {
	out, err := charmap.Windows1252.NewDecoder().Bytes(data)
	if err != nil {
		return string(data)
	}
	return string(out)
}

// encodeCP1252 converts a UTF-8 string back to Windows-1252 bytes,
// used when rewriting rawml fields that must stay in the legacy KF7
// encoding.
func encodeCP1252(s string) []byte {
	out, err := charmap.Windows1252.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return []byte(s)
	}
	return out
}

// ligatureToCP1252 decodes a two-byte ligature marker found in index
// labels: c1 is a control byte (1..5) selecting the ligature family,
// c2 is the expected base letter. Returns the precomposed CP-1252
// byte, or 0 when the pair does not encode a ligature.
func ligatureToCP1252(c1, c2 byte) byte {
	switch c1 {
	case 1:
		if c2 == 'E' {
			return 0x8C // OE
		}
	case 2:
		if c2 == 'e' {
			return 0x9C // oe
		}
	case 3:
		if c2 == 'E' {
			return 0xC6 // AE
		}
	case 4:
		if c2 == 'e' {
			return 0xE6 // ae
		}
	case 5:
		if c2 == 's' {
			return 0xDF // ss
		}
	}
	return 0
}

// ligatureToUTF16 is the UTF-16 counterpart of ligatureToCP1252, used
// when the index encoding is UTF-16.
func ligatureToUTF16(c1, c2 byte) uint16 {
	switch c1 {
	case 1:
		if c2 == 'E' {
			return 0x0152 // OE
		}
	case 2:
		if c2 == 'e' {
			return 0x0153 // oe
		}
	case 3:
		if c2 == 'E' {
			return 0x00C6 // AE
		}
	case 4:
		if c2 == 'e' {
			return 0x00E6 // ae
		}
	case 5:
		if c2 == 's' {
			return 0x00DF // ss
		}
	}
	return 0
}

const base32Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUV"

// decodeBase32 decodes the digit-and-uppercase-letter base32 variant
// used in kindle: link fragment ids ("fid", "aid"), returning the
// numeric value and whether every character was valid.
func decodeBase32(s string) (uint64, bool) {
	var v uint64
	for _, c := range strings.ToUpper(s) {
		idx := strings.IndexRune(base32Alphabet, c)
		if idx < 0 {
			return 0, false
		}
		v = v*32 + uint64(idx)
	}
	return v, true
}

// encodeBase32 renders v using the same alphabet as decodeBase32,
// used when generating fid/aid fragments for rewritten links.
func encodeBase32(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [16]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = base32Alphabet[v%32]
		v /= 32
	}
	return string(buf[i:])
}

// bitcount returns the number of set bits in b, used to distinguish
// single-value from multi-value TAGX control masks.
func bitcount(b uint8) int {
	n := 0
	for b != 0 {
		n += int(b & 1)
		b >>= 1
	}
	return n
}

// FileType classifies a reconstructed flow, markup or resource part.
type FileType int

const (
	FileTypeUnknown FileType = iota
	FileTypeHTML
	FileTypeCSS
	FileTypeSVG
	FileTypeGIF
	FileTypeJPEG
	FileTypePNG
	FileTypeBMP
	FileTypeFont
	FileTypeTTF
	FileTypeOTF
	FileTypeAudio
	FileTypeVideo
	FileTypePDF
	FileTypeNCX
	FileTypeOPF
	FileTypeBreak
)

// fileTypeInfo carries the file extension and MIME type a FileType
// maps to, used when naming reconstructed resource files.
type fileTypeInfo struct {
	ext  string
	mime string
}

var fileTypeTable = map[FileType]fileTypeInfo{
	FileTypeHTML:  {"html", "application/xhtml+xml"},
	FileTypeCSS:   {"css", "text/css"},
	FileTypeSVG:   {"svg", "image/svg+xml"},
	FileTypeGIF:   {"gif", "image/gif"},
	FileTypeJPEG:  {"jpg", "image/jpeg"},
	FileTypePNG:   {"png", "image/png"},
	FileTypeBMP:   {"bmp", "image/bmp"},
	FileTypeFont:  {"ttf", "application/x-font-truetype"},
	FileTypeTTF:   {"ttf", "application/x-font-truetype"},
	FileTypeOTF:   {"otf", "application/vnd.ms-opentype"},
	FileTypeAudio: {"mp3", "audio/mpeg"},
	FileTypeVideo: {"mp4", "video/mp4"},
	FileTypePDF:   {"pdf", "application/pdf"},
	FileTypeNCX:   {"ncx", "application/x-dtbncx+xml"},
	FileTypeOPF:   {"opf", "application/oebps-package+xml"},
}

// fileTypeExt returns the file extension a part type maps to,
// defaulting to "raw" for unrecognized payloads.
func fileTypeExt(t FileType) string {
	if info, ok := fileTypeTable[t]; ok {
		return info.ext
	}
	return "raw"
}

// resourceMagics maps the first bytes of a resource record to its
// FileType, mirroring mobi_determine_resource_type's magic checks.
var resourceMagics = []struct {
	magic string
	typ   FileType
}{
	{"GIF87a", FileTypeGIF},
	{"GIF89a", FileTypeGIF},
	{"\xFF\xD8\xFF", FileTypeJPEG},
	{"\x89PNG", FileTypePNG},
	{"BM", FileTypeBMP},
	{"FONT", FileTypeFont},
	{"AUDI", FileTypeAudio},
	{"VIDE", FileTypeVideo},
	{"BOUNDARY", FileTypeBreak},
}

// classifyResource returns the FileType for a resource record's raw
// payload, or FileTypeUnknown if no known magic matches.
func classifyResource(data []byte) FileType {
	for _, m := range resourceMagics {
		if len(data) >= len(m.magic) && string(data[:len(m.magic)]) == m.magic {
			return m.typ
		}
	}
	return FileTypeUnknown
}

// localeCode holds a MOBI locale's language and dialect bytes, as
// read from the low 16 bits of the Locale header field.
type localeCode struct {
	Language string
	Dialect  string
}

// localeTable maps the low byte (language id) of a MOBI locale field
// to its ISO code, covering the languages the format actually ships.
var localeTable = map[uint32]string{
	0x01: "ar",
	0x02: "bg",
	0x03: "ca",
	0x04: "zh",
	0x05: "cs",
	0x06: "da",
	0x07: "de",
	0x08: "el",
	0x09: "en",
	0x0A: "es",
	0x0B: "fi",
	0x0C: "fr",
	0x0D: "he",
	0x0E: "hu",
	0x0F: "is",
	0x10: "it",
	0x11: "ja",
	0x12: "ko",
	0x13: "nl",
	0x14: "no",
	0x15: "pl",
	0x16: "pt",
	0x17: "rm",
	0x18: "ro",
	0x19: "ru",
	0x1A: "hr",
	0x1B: "sk",
	0x1C: "sq",
	0x1D: "sv",
	0x1E: "th",
	0x1F: "tr",
	0x20: "ur",
	0x21: "id",
	0x22: "uk",
}

// decodeLocale splits a MOBI Locale field into language and dialect
// codes, following the format's packed-byte convention: the low
// byte is the language id, the next byte is a dialect sub-id.
func decodeLocale(v uint32) localeCode {
	lang := v & 0xFF
	dialect := (v >> 8) & 0xFF
	code, ok := localeTable[lang]
	if !ok {
		code = "und"
	}
	lc := localeCode{Language: code}
	if dialect != 0 {
		lc.Dialect = string(rune('a' + (dialect - 1)))
	}
	return lc
}
