package mobi

import "fmt"

// exthValueKind classifies how an EXTH record's payload should be
// interpreted.
type exthValueKind int

const (
	exthNumeric exthValueKind = iota
	exthString
	exthBinary
)

// ExthTag identifies a single EXTH tag_id.
type ExthTag uint32

// EXTH tag catalog, mirroring original_source/src/mobi.h's
// MOBI_EXTH_* constants.
const (
	ExthDRMServer       ExthTag = 1
	ExthDRMCommerce     ExthTag = 2
	ExthDRMEbookbase    ExthTag = 3
	ExthTitle           ExthTag = 503
	ExthAuthor          ExthTag = 100
	ExthPublisher       ExthTag = 101
	ExthImprint         ExthTag = 102
	ExthDescription     ExthTag = 103
	ExthISBN            ExthTag = 104
	ExthSubject         ExthTag = 105
	ExthPublishingDate  ExthTag = 106
	ExthReview          ExthTag = 107
	ExthContributor     ExthTag = 108
	ExthRights          ExthTag = 109
	ExthSubjectCode     ExthTag = 110
	ExthType            ExthTag = 111
	ExthSource          ExthTag = 112
	ExthASIN            ExthTag = 113
	ExthVersionNumber   ExthTag = 114
	ExthSample          ExthTag = 115
	ExthStartReading    ExthTag = 116
	ExthAdult           ExthTag = 117
	ExthRetailPrice     ExthTag = 118
	ExthRetailCurrency  ExthTag = 119
	ExthKF8BoundaryOffset ExthTag = 121
	ExthFixedLayout     ExthTag = 122
	ExthBookType        ExthTag = 123
	ExthOrientationLock ExthTag = 124
	ExthCountResources  ExthTag = 125
	ExthOrigResolution  ExthTag = 126
	ExthZeroGutter      ExthTag = 127
	ExthZeroMargin      ExthTag = 128
	ExthKF8CoverURI     ExthTag = 129
	ExthRegionMagni     ExthTag = 132
	ExthDictName        ExthTag = 200
	ExthCoverOffset     ExthTag = 201
	ExthThumbOffset     ExthTag = 202
	ExthHasFakeCover    ExthTag = 203
	ExthCreatorSoftware ExthTag = 204
	ExthCreatorMajor    ExthTag = 205
	ExthCreatorMinor    ExthTag = 206
	ExthCreatorBuild    ExthTag = 207
	ExthCreatorBuildNum ExthTag = 208
	ExthWatermark       ExthTag = 209
	ExthTamperKeys      ExthTag = 210
	ExthFontSignature   ExthTag = 300
	ExthClippingLimit   ExthTag = 401
	ExthPublisherLimit  ExthTag = 402
	ExthTTSFlag         ExthTag = 404
	ExthRentalIndicator ExthTag = 405
	ExthRentalExpireTime ExthTag = 406
	ExthLanguage        ExthTag = 524
	ExthInputLanguage   ExthTag = 525
	ExthOutputLanguage  ExthTag = 526
)

var exthKinds = map[ExthTag]exthValueKind{
	ExthDRMServer:       exthString,
	ExthDRMCommerce:     exthString,
	ExthDRMEbookbase:    exthString,
	ExthTitle:           exthString,
	ExthAuthor:          exthString,
	ExthPublisher:       exthString,
	ExthImprint:         exthString,
	ExthDescription:     exthString,
	ExthISBN:            exthString,
	ExthSubject:         exthString,
	ExthPublishingDate:  exthString,
	ExthReview:          exthString,
	ExthContributor:     exthString,
	ExthRights:          exthString,
	ExthSubjectCode:     exthString,
	ExthType:            exthString,
	ExthSource:          exthString,
	ExthASIN:            exthString,
	ExthVersionNumber:   exthString,
	ExthSample:          exthNumeric,
	ExthStartReading:    exthNumeric,
	ExthAdult:           exthNumeric,
	ExthRetailPrice:     exthString,
	ExthRetailCurrency:  exthString,
	ExthKF8BoundaryOffset: exthNumeric,
	ExthFixedLayout:     exthString,
	ExthBookType:        exthString,
	ExthOrientationLock: exthString,
	ExthCountResources:  exthNumeric,
	ExthOrigResolution:  exthString,
	ExthZeroGutter:      exthString,
	ExthZeroMargin:      exthString,
	ExthKF8CoverURI:     exthString,
	ExthRegionMagni:     exthString,
	ExthDictName:        exthString,
	ExthCoverOffset:     exthNumeric,
	ExthThumbOffset:     exthNumeric,
	ExthHasFakeCover:    exthNumeric,
	ExthCreatorSoftware: exthNumeric,
	ExthCreatorMajor:    exthNumeric,
	ExthCreatorMinor:    exthNumeric,
	ExthCreatorBuild:    exthNumeric,
	ExthCreatorBuildNum: exthString,
	ExthWatermark:       exthString,
	ExthTamperKeys:      exthBinary,
	ExthFontSignature:   exthBinary,
	ExthClippingLimit:   exthNumeric,
	ExthPublisherLimit:  exthNumeric,
	ExthTTSFlag:         exthNumeric,
	ExthRentalIndicator: exthNumeric,
	ExthRentalExpireTime: exthBinary,
	ExthLanguage:        exthString,
	ExthInputLanguage:   exthString,
	ExthOutputLanguage:  exthString,
}

// kindOf reports the value kind for a tag, defaulting to binary for
// any tag not in the catalog: unknown tags are passed through as
// opaque payloads rather than rejected.
func kindOf(tag ExthTag) exthValueKind {
	if k, ok := exthKinds[tag]; ok {
		return k
	}
	return exthBinary
}

// ExthRecord is one parsed EXTH tag/value pair.
type ExthRecord struct {
	Tag  ExthTag
	Data []byte
}

// Numeric interprets Data as a big-endian unsigned integer, as
// appropriate for exthNumeric tags (1, 2 or 4 bytes).
func (r ExthRecord) Numeric() uint32 {
	var v uint32
	for _, c := range r.Data {
		v = v<<8 | uint32(c)
	}
	return v
}

// String interprets Data as a raw string payload.
func (r ExthRecord) String() string {
	return string(r.Data)
}

const exthHeaderLen = 12

// parseEXTH parses an EXTH header and its records from buf, confined
// to the EXTH header's own declared length: EXTH magic + length +
// rec_count, then rec_count * (tag_id, size, data).
func parseEXTH(buf *Buffer) ([]ExthRecord, error) {
	magic := buf.GetRaw(4)
	if buf.Err() != nil || string(magic) != "EXTH" {
		return nil, fmt.Errorf("exth: bad magic: %w", ErrDataCorrupt)
	}
	length := buf.Get32()
	count := buf.Get32()
	if buf.Err() != nil {
		return nil, fmt.Errorf("exth: truncated header: %w", ErrDataCorrupt)
	}
	end := buf.Offset() - exthHeaderLen + int(length)

	limit := end
	if limit > buf.Len() {
		limit = buf.Len()
	}
	capHint := int(count)
	if max := (limit - buf.Offset()) / 8; capHint > max {
		capHint = max
	}
	if capHint < 0 {
		capHint = 0
	}
	records := make([]ExthRecord, 0, capHint)
	for i := uint32(0); i < count; i++ {
		if buf.Offset() >= end {
			return nil, fmt.Errorf("exth: record %d past header end: %w", i, ErrDataCorrupt)
		}
		tagID := buf.Get32()
		size := buf.Get32()
		if buf.Err() != nil || size < 8 {
			return nil, fmt.Errorf("exth: record %d bad size: %w", i, ErrDataCorrupt)
		}
		data := buf.GetRaw(int(size) - 8)
		if buf.Err() != nil {
			return nil, fmt.Errorf("exth: record %d truncated data: %w", i, ErrDataCorrupt)
		}
		records = append(records, ExthRecord{Tag: ExthTag(tagID), Data: data})
	}
	if buf.Offset() < end {
		buf.SetPos(end)
	}
	return records, nil
}

// exthByTag scans for the first EXTH record with the given tag,
// mirroring mobi_get_exthtag_by_uid's linear search.
func exthByTag(records []ExthRecord, tag ExthTag) (ExthRecord, bool) {
	for _, r := range records {
		if r.Tag == tag {
			return r, true
		}
	}
	return ExthRecord{}, false
}

// exthAllByTag returns every EXTH record matching tag, in file order,
// since some tags (e.g. subject) may legitimately repeat.
func exthAllByTag(records []ExthRecord, tag ExthTag) []ExthRecord {
	var out []ExthRecord
	for _, r := range records {
		if r.Tag == tag {
			out = append(out, r)
		}
	}
	return out
}
