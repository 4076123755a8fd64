package mobi

import "fmt"

// PalmDB container layout constants.
const (
	palmDBHeaderLen     = 78
	palmDBNameSizeMax   = 32
	pdbRecordInfoSize   = 8
)

// PalmDBHeader is the 78-byte header every PalmDB container starts
// with.
type PalmDBHeader struct {
	Name           string
	Attributes     uint16
	Version        uint16
	CTime          uint32
	MTime          uint32
	BTime          uint32
	ModNum         uint32
	AppInfoOffset  uint32
	SortInfoOffset uint32
	Type           string
	Creator        string
	UID            uint32
	NextRec        uint32
	RecCount       uint16
}

func parsePalmDBHeader(buf *Buffer) (*PalmDBHeader, error) {
	h := &PalmDBHeader{}
	h.Name = buf.GetString(palmDBNameSizeMax)
	h.Attributes = buf.Get16()
	h.Version = buf.Get16()
	h.CTime = buf.Get32()
	h.MTime = buf.Get32()
	h.BTime = buf.Get32()
	h.ModNum = buf.Get32()
	h.AppInfoOffset = buf.Get32()
	h.SortInfoOffset = buf.Get32()
	h.Type = buf.GetString(4)
	h.Creator = buf.GetString(4)
	h.UID = buf.Get32()
	h.NextRec = buf.Get32()
	h.RecCount = buf.Get16()
	if buf.Err() != nil {
		return nil, fmt.Errorf("palmdb header: %w", ErrDataCorrupt)
	}
	return h, nil
}

// loadPalmDB parses the PalmDB header and record directory from a
// whole-file byte slice and loads every record's raw payload.
func loadPalmDB(data []byte) (*PalmDBHeader, []*Record, error) {
	if len(data) < palmDBHeaderLen {
		return nil, nil, fmt.Errorf("palmdb: short file: %w", ErrDataCorrupt)
	}
	buf := NewBuffer(data)
	buf.SetMaxLen(palmDBHeaderLen)
	header, err := parsePalmDBHeader(buf)
	if err != nil {
		return nil, nil, err
	}
	if header.Type != "BOOK" && header.Type != "TEXt" {
		return nil, nil, fmt.Errorf("palmdb: unsupported type %q: %w", header.Type, ErrUnsupportedFormat)
	}
	if header.RecCount == 0 {
		return nil, nil, fmt.Errorf("palmdb: no records: %w", ErrDataCorrupt)
	}

	dirBuf := NewBuffer(data)
	dirBuf.SetMaxLen(len(data))
	dirBuf.SetPos(palmDBHeaderLen)

	type recInfo struct {
		offset     uint32
		attributes uint8
		uid        uint32
	}
	infos := make([]recInfo, header.RecCount)
	for i := range infos {
		infos[i].offset = dirBuf.Get32()
		infos[i].attributes = dirBuf.Get8()
		hi := dirBuf.Get8()
		lo := dirBuf.Get16()
		infos[i].uid = uint32(hi)<<16 | uint32(lo)
	}
	if dirBuf.Err() != nil {
		return nil, nil, fmt.Errorf("palmdb: truncated record directory: %w", ErrDataCorrupt)
	}

	records := make([]*Record, header.RecCount)
	for i, info := range infos {
		var size int
		if i+1 < len(infos) {
			size = int(infos[i+1].offset) - int(info.offset)
		} else {
			size = len(data) - int(info.offset)
		}
		if size < 0 || int(info.offset)+size > len(data) {
			return nil, nil, fmt.Errorf("palmdb: record %d out of bounds: %w", i, ErrDataCorrupt)
		}
		payload := make([]byte, size)
		copy(payload, data[info.offset:int(info.offset)+size])
		records[i] = &Record{
			UID:        info.uid,
			Offset:     info.offset,
			Size:       size,
			Attributes: info.attributes,
			Data:       payload,
		}
	}
	return header, records, nil
}
