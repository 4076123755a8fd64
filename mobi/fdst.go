package mobi

import "fmt"

// FDST is the flow division table: (start, end) byte pairs that
// partition the decompressed rawml into flow sections.
type FDST struct {
	SectionStarts []uint32
	SectionEnds   []uint32
}

// SectionCount returns the number of flow sections the table declares.
func (f *FDST) SectionCount() int {
	return len(f.SectionStarts)
}

// parseFDST loads the FDST record named by the KF8 MOBI header.
func parseFDST(doc *Document) (*FDST, error) {
	if doc.Mobi == nil || doc.Mobi.FDSTIndex == nil {
		return nil, fmt.Errorf("fdst: no fdst record: %w", ErrDataCorrupt)
	}
	rec := recordBySeq(doc.Records, int(*doc.Mobi.FDSTIndex)+doc.kf8Offset)
	if rec == nil {
		return nil, fmt.Errorf("fdst: missing record: %w", ErrDataCorrupt)
	}
	buf := NewBuffer(rec.Data)
	magic := buf.GetRaw(4)
	if buf.Err() != nil || string(magic) != "FDST" {
		return nil, fmt.Errorf("fdst: bad magic: %w", ErrDataCorrupt)
	}
	dataOffset := buf.Get32()
	sectionCount := int(buf.Get32())
	if buf.Err() != nil || sectionCount == 0 || sectionCount > len(rec.Data)/8 {
		return nil, fmt.Errorf("fdst: truncated header: %w", ErrDataCorrupt)
	}
	if doc.Mobi.FDSTSectionCount != nil && int(*doc.Mobi.FDSTSectionCount) != sectionCount {
		return nil, fmt.Errorf("fdst: section count mismatch: %w", ErrDataCorrupt)
	}
	buf.SetPos(int(dataOffset))
	f := &FDST{
		SectionStarts: make([]uint32, 0, sectionCount),
		SectionEnds:   make([]uint32, 0, sectionCount),
	}
	for i := 0; i < sectionCount; i++ {
		f.SectionStarts = append(f.SectionStarts, buf.Get32())
		f.SectionEnds = append(f.SectionEnds, buf.Get32())
	}
	if buf.Err() != nil {
		return nil, fmt.Errorf("fdst: truncated section table: %w", ErrDataCorrupt)
	}
	return f, nil
}
