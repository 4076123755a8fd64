package mobi

import "fmt"

// Document is a fully loaded MOBI container: its PalmDB record
// directory plus the parsed record-0 headers and EXTH metadata.
// A hybrid KF7/KF8 file loads as two sibling Documents sharing the
// same underlying record slice, linked through Next and exchangeable
// via Swap.
type Document struct {
	UseKF8 bool

	PalmDB  *PalmDBHeader
	Record0 *Record0Header
	Mobi    *MobiHeader
	EXTH    []ExthRecord

	Records []*Record

	// Next is the sibling Document for the other format of a hybrid
	// file, or nil for a single-format file.
	Next *Document

	// kf8Offset is the record sequence number the KF8 half's headers
	// count from: index fields inside a hybrid file's KF8 MOBI header
	// are relative to the record right after the boundary marker.
	kf8Offset int

	decrypt   DecryptFunc
	huffDepth int
}

// Version returns the MOBI format version, or 0 when the header does
// not carry one.
func (d *Document) Version() uint32 {
	if d.Mobi == nil {
		return 0
	}
	return u32(d.Mobi.FileVersion, 0)
}

// DecryptFunc decrypts one encrypted text record's payload. It is
// supplied by the embedding program; the decoder itself carries no
// cipher or key-derivation code. Hook errors (expired license,
// missing key) are surfaced to the caller unchanged.
type DecryptFunc func(data []byte) ([]byte, error)

// Options configures Load.
type Options struct {
	preferKF7 bool
	decrypt   DecryptFunc
	huffDepth int
}

// Option mutates Options; see PreferKF7, WithDecryptHook and
// WithHuffmanDepth.
type Option func(*Options)

// PreferKF7 makes Load return the KF7-format view as the primary
// Document for a hybrid file, with the KF8 view reachable through
// Next. Without this option the primary Document is KF8.
func PreferKF7() Option {
	return func(o *Options) { o.preferKF7 = true }
}

// WithDecryptHook installs the record decryption hook used when the
// container declares an encryption type.
func WithDecryptHook(fn DecryptFunc) Option {
	return func(o *Options) { o.decrypt = fn }
}

// WithHuffmanDepth overrides the HUFF/CDIC symbol recursion bound.
func WithHuffmanDepth(n int) Option {
	return func(o *Options) { o.huffDepth = n }
}

// Load parses a whole MOBI/PalmDOC file image into a Document.
func Load(data []byte, opts ...Option) (*Document, error) {
	var cfg Options
	for _, opt := range opts {
		opt(&cfg)
	}

	palmHeader, records, err := loadPalmDB(data)
	if err != nil {
		return nil, err
	}

	doc := &Document{
		PalmDB:    palmHeader,
		Records:   records,
		decrypt:   cfg.decrypt,
		huffDepth: cfg.huffDepth,
	}

	rec0 := recordBySeq(records, 0)
	if rec0 == nil {
		return nil, fmt.Errorf("document: missing record 0: %w", ErrDataCorrupt)
	}
	buf := NewBuffer(rec0.Data)
	buf.SetMaxLen(len(rec0.Data))

	r0h, err := parseRecord0Header(buf)
	if err != nil {
		return nil, err
	}
	doc.Record0 = r0h

	if buf.MatchMagic([]byte("MOBI")) {
		mh, err := parseMobiHeader(buf)
		if err != nil {
			return nil, err
		}
		doc.Mobi = mh

		if buf.MatchMagic([]byte("EXTH")) {
			exth, err := parseEXTH(buf)
			if err != nil {
				return nil, err
			}
			doc.EXTH = exth
		}
	}

	if err := detectHybrid(doc); err != nil {
		return nil, err
	}

	// A hybrid pair loads with the KF8 half active unless the caller
	// asked for KF7.
	if doc.Next != nil {
		if cfg.preferKF7 {
			if doc.UseKF8 {
				doc = doc.Next
			}
		} else if !doc.UseKF8 {
			doc = doc.Next
		}
	}

	return doc, nil
}

// detectHybrid checks for EXTH tag 121 (KF8 boundary) pointing at a
// record literally starting with "BOUNDARY", and when present builds
// the sibling Document and swaps record-0-derived headers between the
// two, mirroring mobi_load_file's hybrid setup plus mobi_swap_mobidata.
func detectHybrid(doc *Document) error {
	rec, ok := exthByTag(doc.EXTH, ExthKF8BoundaryOffset)
	if !ok {
		doc.UseKF8 = doc.Mobi != nil && u32(doc.Mobi.FileVersion, 0) >= 8
		return nil
	}
	// The EXTH value points one past the boundary marker record.
	seq := int(rec.Numeric()) - 1
	boundary := recordBySeq(doc.Records, seq)
	if boundary == nil || !hasPrefix(boundary.Data, "BOUNDARY") {
		doc.UseKF8 = doc.Mobi != nil && u32(doc.Mobi.FileVersion, 0) >= 8
		return nil
	}

	kf8Rec0 := recordBySeq(doc.Records, seq+1)
	if kf8Rec0 == nil {
		return fmt.Errorf("document: kf8 boundary points past end of file: %w", ErrDataCorrupt)
	}
	kf8Buf := NewBuffer(kf8Rec0.Data)
	kf8Buf.SetMaxLen(len(kf8Rec0.Data))
	kf8R0H, err := parseRecord0Header(kf8Buf)
	if err != nil {
		return err
	}
	sibling := &Document{
		PalmDB:    doc.PalmDB,
		Record0:   kf8R0H,
		Records:   doc.Records,
		UseKF8:    true,
		kf8Offset: seq + 1,
		decrypt:   doc.decrypt,
		huffDepth: doc.huffDepth,
	}
	if kf8Buf.MatchMagic([]byte("MOBI")) {
		mh, err := parseMobiHeader(kf8Buf)
		if err != nil {
			return err
		}
		sibling.Mobi = mh
		if kf8Buf.MatchMagic([]byte("EXTH")) {
			exth, err := parseEXTH(kf8Buf)
			if err != nil {
				return err
			}
			sibling.EXTH = exth
		}
	}

	doc.UseKF8 = false
	doc.Next = sibling
	sibling.Next = doc
	return nil
}

func hasPrefix(data []byte, prefix string) bool {
	if len(data) < len(prefix) {
		return false
	}
	return string(data[:len(prefix)]) == prefix
}

// Swap exchanges which of a hybrid pair is "this" Document's active
// format view by returning the sibling. Swap is involutive:
// doc.Swap().Swap() == doc.
func (d *Document) Swap() *Document {
	if d.Next == nil {
		return d
	}
	return d.Next
}

// GetRecordByUID returns the record with the given uid, or nil.
func (d *Document) GetRecordByUID(uid uint32) *Record {
	return recordByUID(d.Records, uid)
}

// GetRecordBySeqNumber returns the record at sequence position num,
// or nil if out of range.
func (d *Document) GetRecordBySeqNumber(num int) *Record {
	return recordBySeq(d.Records, num)
}

// GetFullName reads the book's full title from record 0 at the offset
// and length the MOBI header declares.
func (d *Document) GetFullName() (string, error) {
	if d.Mobi == nil || d.Mobi.FullNameOffset == nil || d.Mobi.FullNameLength == nil {
		return "", fmt.Errorf("document: no full name fields: %w", ErrDataCorrupt)
	}
	rec0 := recordBySeq(d.Records, 0)
	if rec0 == nil {
		return "", fmt.Errorf("document: missing record 0: %w", ErrDataCorrupt)
	}
	off := int(*d.Mobi.FullNameOffset)
	n := int(*d.Mobi.FullNameLength)
	if off < 0 || n < 0 || off+n > len(rec0.Data) {
		return "", fmt.Errorf("document: full name out of range: %w", ErrDataCorrupt)
	}
	return decodeCP1252(rec0.Data[off : off+n]), nil
}

// GetKF8Boundary reports the sequence number of the boundary record
// named by this Document's own EXTH tag 121, and whether that record
// exists and starts with "BOUNDARY". Only the EXTH of this Document is
// consulted, so the KF8 half of a hybrid pair reports false when its
// own EXTH does not carry tag 121.
func (d *Document) GetKF8Boundary() (int, bool) {
	rec, ok := exthByTag(d.EXTH, ExthKF8BoundaryOffset)
	if !ok {
		return 0, false
	}
	seq := int(rec.Numeric()) - 1
	boundary := recordBySeq(d.Records, seq)
	if boundary == nil || !hasPrefix(boundary.Data, "BOUNDARY") {
		return 0, false
	}
	return seq, true
}
