package mobi

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/text/encoding/unicode"
)

// Text encodings carried by the MOBI header and INDX records.
const (
	EncodingCP1252 = 1252
	EncodingUTF8   = 65001
	EncodingUTF16  = 65002
)

const (
	indxLabelSizeMax = 1024
	indxTagValuesMax = 100
)

// Predefined (tagID, valueIndex) addresses inside index entries,
// mirroring the reference tag catalog.
var (
	indxTagGuideTitleCNCX = [2]int{1, 0}

	indxTagNCXFilepos  = [2]int{1, 0}
	indxTagNCXTextCNCX = [2]int{3, 0}
	indxTagNCXLevel    = [2]int{4, 0}
	indxTagNCXKindCNCX = [2]int{5, 0}
	indxTagNCXPosFid   = [2]int{6, 0}
	indxTagNCXPosOff   = [2]int{6, 1}

	indxTagSkelCount    = [2]int{1, 0}
	indxTagSkelPosition = [2]int{6, 0}
	indxTagSkelLength   = [2]int{6, 1}

	indxTagFragAidCNCX   = [2]int{2, 0}
	indxTagFragFileNr    = [2]int{3, 0}
	indxTagFragSeqNr     = [2]int{4, 0}
	indxTagFragPosition  = [2]int{6, 0}
	indxTagFragLength    = [2]int{6, 1}

	indxTagOrthStartPos = [2]int{21, 0}
	indxTagOrthEndPos   = [2]int{22, 0}
)

// tagxTag is one row of the TAGX schema: which tag id a control-byte
// bit selects, how many values it carries per repeat, and the bitmask
// inside the control byte.
type tagxTag struct {
	tag         uint8
	valuesCount uint8
	bitmask     uint8
	controlByte uint8
}

// tagx is the parsed TAGX schema shared by every data record of one
// index.
type tagx struct {
	controlByteCount int
	tags             []tagxTag
}

// ordt holds the ORDT character-remapping tables. ordt1 is read and
// discarded (present but unused in the format); ordt2 maps label
// lookup keys to UTF-16 code units.
type ordt struct {
	typ          uint32
	offsetsCount int
	ordt1        []uint8
	ordt2        []uint16
}

// IndexTag is one decoded tag of an index entry: its id plus the
// varlen-decoded values.
type IndexTag struct {
	ID     uint8
	Values []uint32
}

// IndexEntry is one entry of a parsed INDX hierarchy.
type IndexEntry struct {
	Label string
	Tags  []IndexTag
}

// Indx is a fully parsed INDX hierarchy: one meta record's schema
// applied over a run of data records, plus the CNCX string pool that
// follows them.
type Indx struct {
	Type              uint32
	Encoding          uint32
	EntriesCount      int
	TotalEntriesCount int
	CncxRecordsCount  int
	CncxRecord        *Record

	Entries []IndexEntry

	ordtOffset       uint32
	ligtOffset       uint32
	ordtEntriesCount uint32

	// cncxCache interns CNCX strings by content hash so repeated
	// label references share one Go string.
	cncxCache map[uint64]string
}

// GetTagValue returns entry tag value addr[1] of the tag with id
// addr[0], the lookup every reconstruction step uses to read
// positions and lengths out of skeleton/fragment/orth entries.
func (e *IndexEntry) GetTagValue(addr [2]int) (uint32, error) {
	for _, t := range e.Tags {
		if int(t.ID) == addr[0] {
			if addr[1] >= len(t.Values) {
				return 0, fmt.Errorf("indx: tag %d has no value %d: %w", addr[0], addr[1], ErrDataCorrupt)
			}
			return t.Values[addr[1]], nil
		}
	}
	return 0, fmt.Errorf("indx: tag %d not found in entry %q: %w", addr[0], e.Label, ErrDataCorrupt)
}

// parseTagx parses the TAGX section at buf's current offset.
func parseTagx(buf *Buffer) (*tagx, error) {
	buf.Seek(4) // magic, verified by caller
	headerLength := buf.Get32()
	if buf.Err() != nil || headerLength < 12 ||
		int(headerLength)-8 > buf.Len()-buf.Offset() {
		return nil, fmt.Errorf("tagx: header too short: %w", ErrDataCorrupt)
	}
	t := &tagx{}
	t.controlByteCount = int(buf.Get32())
	rows := (int(headerLength) - 12) / 4
	t.tags = make([]tagxTag, 0, rows)
	for i := 0; i < rows; i++ {
		row := tagxTag{
			tag:         buf.Get8(),
			valuesCount: buf.Get8(),
			bitmask:     buf.Get8(),
			controlByte: buf.Get8(),
		}
		t.tags = append(t.tags, row)
	}
	if buf.Err() != nil {
		return nil, fmt.Errorf("tagx: truncated rows: %w", ErrDataCorrupt)
	}
	return t, nil
}

// parseOrdt reads the ORDT1 and ORDT2 sections. ORDT1 bytes are read
// and kept but never consulted; label decoding goes through ORDT2.
func parseOrdt(data []byte, o *ordt, ordt1Offset, ordt2Offset uint32) {
	buf := NewBuffer(data)
	buf.SetPos(int(ordt1Offset))
	if o.offsetsCount > len(data) {
		return
	}
	if buf.Err() == nil && buf.MatchMagic([]byte("ORDT")) {
		buf.Seek(4)
		o.ordt1 = make([]uint8, 0, o.offsetsCount)
		for i := 0; i < o.offsetsCount; i++ {
			o.ordt1 = append(o.ordt1, buf.Get8())
		}
		if buf.Err() != nil {
			o.ordt1 = nil
		}
	}
	buf = NewBuffer(data)
	buf.SetPos(int(ordt2Offset))
	if buf.Err() == nil && buf.MatchMagic([]byte("ORDT")) {
		buf.Seek(4)
		o.ordt2 = make([]uint16, 0, o.offsetsCount)
		for i := 0; i < o.offsetsCount; i++ {
			o.ordt2 = append(o.ordt2, buf.Get16())
		}
		if buf.Err() != nil {
			o.ordt2 = nil
		}
	}
}

// parseIdxt reads the IDXT entry-offset table: entriesCount 16-bit
// offsets plus a sentinel equal to the IDXT section's own position,
// so entry i spans offsets[i]..offsets[i+1].
func parseIdxt(buf *Buffer, entriesCount int) ([]uint32, error) {
	idxtOffset := uint32(buf.Offset())
	if !buf.MatchMagic([]byte("IDXT")) {
		return nil, fmt.Errorf("idxt: bad magic: %w", ErrDataCorrupt)
	}
	buf.Seek(4)
	offsets := make([]uint32, entriesCount+1)
	for i := 0; i < entriesCount; i++ {
		offsets[i] = uint32(buf.Get16())
	}
	offsets[entriesCount] = idxtOffset
	if buf.Err() != nil {
		return nil, fmt.Errorf("idxt: truncated offsets: %w", ErrDataCorrupt)
	}
	return offsets, nil
}

// decodeOrdtLabel decodes label bytes through the ORDT2 table into
// UTF-8, resolving UTF-16 surrogate pairs and substituting U+FFFD for
// anything unpaired or reserved.
func decodeOrdtLabel(buf *Buffer, labelLength int, o *ordt) string {
	units := make([]byte, 0, labelLength*2)
	i := 0
	for i < labelLength {
		var offset uint16
		if o.typ == 1 {
			offset = uint16(buf.Get8())
			i++
		} else {
			offset = buf.Get16()
			i += 2
		}
		if buf.Err() != nil {
			break
		}
		unit := offset
		if int(offset) < o.offsetsCount && int(offset) < len(o.ordt2) {
			unit = o.ordt2[offset]
		}
		units = append(units, byte(unit>>8), byte(unit))
	}
	dec := unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM).NewDecoder()
	out, err := dec.Bytes(units)
	if err != nil {
		return ""
	}
	if len(out) > indxLabelSizeMax {
		out = out[:indxLabelSizeMax]
	}
	return string(out)
}

// decodePlainLabel decodes label bytes without ORDT: zero bytes are
// dropped, control bytes 0x01..0x05 start a two-byte ligature decode
// against the index encoding, everything else passes through.
func decodePlainLabel(buf *Buffer, labelLength int, encoding uint32) string {
	raw := buf.GetRaw(labelLength)
	if raw == nil {
		return ""
	}
	out := make([]byte, 0, len(raw))
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if c == 0 {
			continue
		}
		if c <= 5 && i+1 < len(raw) {
			if encoding == EncodingUTF16 {
				if lig := ligatureToUTF16(c, raw[i+1]); lig != 0 {
					out = append(out, []byte(string(rune(lig)))...)
					i++
					continue
				}
			} else {
				if lig := ligatureToCP1252(c, raw[i+1]); lig != 0 {
					out = append(out, lig)
					i++
					continue
				}
			}
			continue
		}
		out = append(out, c)
	}
	if len(out) > indxLabelSizeMax {
		out = out[:indxLabelSizeMax]
	}
	return string(out)
}

// parseIndexEntry parses one entry between two IDXT offsets: label,
// control bytes, then the TAGX-schema-driven varlen tag values.
func parseIndexEntry(indx *Indx, data []byte, start, end uint32, tagx *tagx, o *ordt) (IndexEntry, error) {
	var entry IndexEntry
	if start >= end || int(end) > len(data) {
		return entry, fmt.Errorf("indx: entry span out of range: %w", ErrDataCorrupt)
	}
	buf := NewBuffer(data)
	buf.SetMaxLen(int(end))
	buf.SetPos(int(start))
	labelLength := int(buf.Get8())
	if buf.Err() != nil || labelLength > int(end-start) {
		return entry, fmt.Errorf("indx: label length too long: %w", ErrDataCorrupt)
	}
	if o != nil && o.ordt2 != nil {
		entry.Label = decodeOrdtLabel(buf, labelLength, o)
	} else {
		entry.Label = decodePlainLabel(buf, labelLength, indx.Encoding)
	}

	controlBytes := make([]uint8, tagx.controlByteCount)
	for i := range controlBytes {
		controlBytes[i] = buf.Get8()
	}
	if buf.Err() != nil {
		return entry, fmt.Errorf("indx: truncated control bytes: %w", ErrDataCorrupt)
	}

	// First pass over the schema: which tags are present and how many
	// values each carries.
	type pendingTag struct {
		tag        uint8
		valueCount uint32 // repeats, notSet32 when byte-counted
		valueBytes uint32 // in-band byte count, notSet32 when repeat-counted
		perValue   uint8
	}
	var pending []pendingTag
	cb := 0
	for _, row := range tagx.tags {
		if row.controlByte&1 == 1 {
			cb++
			continue
		}
		if cb >= len(controlBytes) {
			return entry, fmt.Errorf("indx: control byte index out of range: %w", ErrDataCorrupt)
		}
		value := controlBytes[cb] & row.bitmask
		if value == 0 {
			continue
		}
		p := pendingTag{tag: row.tag, valueCount: notSet32, valueBytes: notSet32, perValue: row.valuesCount}
		if value == row.bitmask {
			if bitcount(row.bitmask) > 1 {
				var n int
				p.valueBytes = buf.GetVarlenForward(&n)
			} else {
				p.valueCount = 1
			}
		} else {
			mask := row.bitmask
			for mask&1 == 0 {
				mask >>= 1
				value >>= 1
			}
			p.valueCount = uint32(value)
		}
		pending = append(pending, p)
	}

	// Second pass: pull the varlen values themselves.
	for _, p := range pending {
		tag := IndexTag{ID: p.tag}
		if p.valueCount != notSet32 {
			count := int(p.valueCount) * int(p.perValue)
			for count > 0 && len(tag.Values) < indxTagValuesMax {
				var n int
				v := buf.GetVarlenForward(&n)
				tag.Values = append(tag.Values, v)
				count--
			}
		} else {
			consumed := 0
			for consumed < int(p.valueBytes) && len(tag.Values) < indxTagValuesMax {
				var n int
				v := buf.GetVarlenForward(&n)
				if n == 0 {
					break
				}
				tag.Values = append(tag.Values, v)
				consumed += n
			}
		}
		entry.Tags = append(entry.Tags, tag)
	}
	if buf.Err() != nil {
		return entry, fmt.Errorf("indx: truncated tag values: %w", ErrDataCorrupt)
	}
	return entry, nil
}

// parseIndx parses one INDX record. The first (meta) record carries
// the TAGX schema and optional ORDT tables and declares how many data
// records follow; data records carry IDXT-offset entries parsed with
// the meta record's schema.
func parseIndx(rec *Record, indx *Indx, tgx **tagx, o *ordt) error {
	if rec == nil {
		return fmt.Errorf("indx: missing record: %w", ErrDataCorrupt)
	}
	data := rec.Data
	buf := NewBuffer(data)
	magic := buf.GetRaw(4)
	headerLength := buf.Get32()
	if buf.Err() != nil || string(magic) != "INDX" || headerLength == 0 {
		return fmt.Errorf("indx: bad magic or header length: %w", ErrDataCorrupt)
	}
	buf.Seek(4) // zeros
	indx.Type = buf.Get32()
	buf.Seek(4) // gen
	idxtOffset := buf.Get32()
	entriesCount := int(buf.Get32())
	indx.Encoding = buf.Get32()
	buf.Seek(4) // zeros
	totalEntriesCount := int(buf.Get32())
	if indx.TotalEntriesCount == 0 {
		indx.TotalEntriesCount = totalEntriesCount
	}
	indx.ordtOffset = buf.Get32()
	indx.ligtOffset = buf.Get32()
	indx.ordtEntriesCount = buf.Get32()
	indx.CncxRecordsCount = int(buf.Get32())
	if buf.Err() != nil {
		return fmt.Errorf("indx: truncated header: %w", ErrDataCorrupt)
	}

	// The ORDT metadata block at 164 exists whenever the header
	// reaches that far.
	var ordtType, ordtEntriesCount, ordt1Offset, ordt2Offset uint32
	if int(headerLength) > 180 && len(data) > 180 {
		p := NewBuffer(data)
		p.SetPos(164)
		ordtType = p.Get32()
		ordtEntriesCount = p.Get32()
		ordt1Offset = p.Get32()
		ordt2Offset = p.Get32()
		if p.Err() != nil {
			return fmt.Errorf("indx: truncated ordt block: %w", ErrDataCorrupt)
		}
	}

	buf.SetPos(int(headerLength))
	if buf.Err() != nil {
		return fmt.Errorf("indx: header length past record end: %w", ErrDataCorrupt)
	}

	// Meta record: TAGX (+ORDT) only, no entries.
	if buf.MatchMagic([]byte("TAGX")) {
		t, err := parseTagx(buf)
		if err != nil {
			return err
		}
		*tgx = t
		if indx.Encoding == EncodingUTF16 || ordtEntriesCount > 0 {
			o.offsetsCount = int(ordtEntriesCount)
			o.typ = ordtType
			parseOrdt(data, o, ordt1Offset, ordt2Offset)
		}
		indx.EntriesCount = entriesCount
		return nil
	}

	// Data record: IDXT offsets then entries.
	if idxtOffset == 0 {
		return fmt.Errorf("indx: missing idxt offset: %w", ErrDataCorrupt)
	}
	if *tgx == nil {
		return fmt.Errorf("indx: data record before tagx schema: %w", ErrInit)
	}
	if entriesCount > len(data)/2 {
		return fmt.Errorf("indx: entry count exceeds record size: %w", ErrDataCorrupt)
	}
	buf.SetPos(int(idxtOffset))
	if buf.Err() != nil {
		return fmt.Errorf("indx: idxt offset past record end: %w", ErrDataCorrupt)
	}
	offsets, err := parseIdxt(buf, entriesCount)
	if err != nil {
		return err
	}
	for i := 0; i < entriesCount; i++ {
		entry, err := parseIndexEntry(indx, data, offsets[i], offsets[i+1], *tgx, o)
		if err != nil {
			return err
		}
		indx.Entries = append(indx.Entries, entry)
	}
	indx.EntriesCount = len(indx.Entries)
	return nil
}

// parseIndex parses a whole index: the meta INDX record at
// firstRecNum, the data records it declares, and the trailing CNCX
// string pool if one is present.
func parseIndex(doc *Document, firstRecNum int) (*Indx, error) {
	indx := &Indx{}
	var tgx *tagx
	o := &ordt{}
	rec := recordBySeq(doc.Records, firstRecNum)
	if err := parseIndx(rec, indx, &tgx, o); err != nil {
		return nil, err
	}
	cncxCount := indx.CncxRecordsCount
	dataRecords := indx.EntriesCount
	indx.EntriesCount = 0
	indx.Entries = nil
	last := firstRecNum
	for i := 1; i <= dataRecords; i++ {
		last = firstRecNum + i
		rec := recordBySeq(doc.Records, last)
		if err := parseIndx(rec, indx, &tgx, o); err != nil {
			return nil, err
		}
	}
	if cncxCount > 0 {
		indx.CncxRecordsCount = cncxCount
		indx.CncxRecord = recordBySeq(doc.Records, last+1)
	}
	return indx, nil
}

// CncxString resolves a CNCX offset into its varlen-prefixed string.
// Identical strings are interned by content hash, since aid labels
// repeat heavily across fragment entries.
func (indx *Indx) CncxString(offset uint32) string {
	if indx.CncxRecord == nil {
		return ""
	}
	buf := NewBuffer(indx.CncxRecord.Data)
	buf.SetPos(int(offset))
	var n int
	length := buf.GetVarlenForward(&n)
	raw := buf.GetRaw(int(length))
	if buf.Err() != nil || raw == nil {
		return ""
	}
	key := xxhash.Sum64(raw)
	if s, ok := indx.cncxCache[key]; ok && s == string(raw) {
		return s
	}
	if indx.cncxCache == nil {
		indx.cncxCache = make(map[uint64]string)
	}
	s := string(raw)
	indx.cncxCache[key] = s
	return s
}
