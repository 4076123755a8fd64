package mobi

import (
	"bytes"
	"fmt"
	"strconv"
)

// Part is one reconstructed document piece: a flow section, an HTML
// markup part, or an embedded resource.
type Part struct {
	UID  uint32
	Type FileType
	Data []byte
}

// Rawml is the reconstructed document tree: flow sections, markup
// parts, resources, and the parsed navigational indices.
type Rawml struct {
	Version uint32

	Flow      []*Part
	Markup    []*Part
	Resources []*Part

	Skel  *Indx
	Frag  *Indx
	Guide *Indx
	Ncx   *Indx
	Orth  *Indx
	Fdst  *FDST
}

// GetPartByUID returns the markup part with the given uid, or nil.
func (r *Rawml) GetPartByUID(uid uint32) *Part {
	for _, p := range r.Markup {
		if p.UID == uid {
			return p
		}
	}
	return nil
}

// GetFlowByUID returns the flow part with the given uid, or nil.
func (r *Rawml) GetFlowByUID(uid uint32) *Part {
	for _, p := range r.Flow {
		if p.UID == uid {
			return p
		}
	}
	return nil
}

// GetResourceByUID returns the resource part with the given uid, or
// nil.
func (r *Rawml) GetResourceByUID(uid uint32) *Part {
	for _, p := range r.Resources {
		if p.UID == uid {
			return p
		}
	}
	return nil
}

const replicaMagic = "%MOP"

// processReplica extracts the embedded PDF from a Print Replica
// (azw4) text stream: offset and length live at bytes 12 and 16.
func processReplica(text []byte) ([]byte, error) {
	buf := NewBuffer(text)
	buf.SetPos(12)
	pdfOffset := buf.Get32()
	pdfLength := buf.Get32()
	if buf.Err() != nil || int(pdfLength) > len(text) {
		return nil, fmt.Errorf("replica: header out of range: %w", ErrDataCorrupt)
	}
	buf.SetPos(int(pdfOffset))
	pdf := buf.GetRaw(int(pdfLength))
	if buf.Err() != nil {
		return nil, fmt.Errorf("replica: pdf data out of range: %w", ErrDataCorrupt)
	}
	return pdf, nil
}

// flowPartType sniffs a flow section's content type: the first
// section is the main HTML stream, later sections are CSS unless they
// carry SVG markup.
func flowPartType(data []byte, uid int) FileType {
	if uid == 0 {
		return FileTypeHTML
	}
	head := data
	if len(head) > 1024 {
		head = head[:1024]
	}
	if bytes.Contains(head, []byte("<svg")) {
		return FileTypeSVG
	}
	return FileTypeCSS
}

// reconstructFlow splits the decompressed rawml into flow parts at
// the FDST section boundaries, or emits a single part when no table
// exists. A Print Replica stream becomes a single PDF part.
func reconstructFlow(rawml *Rawml, text []byte) error {
	if rawml.Fdst != nil && rawml.Fdst.SectionCount() > 1 {
		for i := 0; i < rawml.Fdst.SectionCount(); i++ {
			start := int(rawml.Fdst.SectionStarts[i])
			end := int(rawml.Fdst.SectionEnds[i])
			if start > end || end > len(text) {
				return fmt.Errorf("flow: fdst section %d out of range: %w", i, ErrDataCorrupt)
			}
			data := make([]byte, end-start)
			copy(data, text[start:end])
			rawml.Flow = append(rawml.Flow, &Part{
				UID:  uint32(i),
				Type: flowPartType(data, i),
				Data: data,
			})
		}
		return nil
	}
	if len(text) >= 4 && string(text[:4]) == replicaMagic {
		pdf, err := processReplica(text)
		if err != nil {
			return err
		}
		rawml.Flow = append(rawml.Flow, &Part{UID: 0, Type: FileTypePDF, Data: pdf})
		return nil
	}
	data := make([]byte, len(text))
	copy(data, text)
	rawml.Flow = append(rawml.Flow, &Part{UID: 0, Type: FileTypeHTML, Data: data})
	return nil
}

// reconstructParts rebuilds the HTML markup parts by splicing
// fragment chunks into their skeleton shells at the labeled byte
// positions.
func reconstructParts(rawml *Rawml) error {
	if len(rawml.Flow) == 0 {
		return fmt.Errorf("parts: flow not initialized: %w", ErrInit)
	}
	raw := rawml.Flow[0].Data

	// No skeleton index: the whole flow is one markup part.
	if rawml.Skel == nil {
		data := make([]byte, len(raw))
		copy(data, raw)
		rawml.Markup = append(rawml.Markup, &Part{UID: 0, Type: rawml.Flow[0].Type, Data: data})
		return nil
	}
	if rawml.Frag == nil {
		return fmt.Errorf("parts: skeleton index without fragment index: %w", ErrDataCorrupt)
	}

	j := 0
	for i := range rawml.Skel.Entries {
		entry := &rawml.Skel.Entries[i]
		fragmentsCount, err := entry.GetTagValue(indxTagSkelCount)
		if err != nil {
			return err
		}
		skelPosition, err := entry.GetTagValue(indxTagSkelPosition)
		if err != nil {
			return err
		}
		skelLength, err := entry.GetTagValue(indxTagSkelLength)
		if err != nil {
			return err
		}
		if int(skelPosition)+int(skelLength) > len(raw) {
			return fmt.Errorf("parts: skeleton %d out of range: %w", i, ErrDataCorrupt)
		}
		skelText := make([]byte, skelLength)
		copy(skelText, raw[skelPosition:skelPosition+skelLength])

		for ; fragmentsCount > 0; fragmentsCount-- {
			if j >= len(rawml.Frag.Entries) {
				return fmt.Errorf("parts: fragment cursor past index end: %w", ErrDataCorrupt)
			}
			frag := &rawml.Frag.Entries[j]
			insertPosition, err := strconv.ParseUint(frag.Label, 10, 32)
			if err != nil {
				return fmt.Errorf("parts: bad fragment label %q: %w", frag.Label, ErrDataCorrupt)
			}
			fileNumber, err := frag.GetTagValue(indxTagFragFileNr)
			if err != nil {
				return err
			}
			if fileNumber != uint32(i) {
				return fmt.Errorf("parts: fragment %d file number %d does not match skeleton %d: %w", j, fileNumber, i, ErrDataCorrupt)
			}
			fragPosition, err := frag.GetTagValue(indxTagFragPosition)
			if err != nil {
				return err
			}
			fragLength, err := frag.GetTagValue(indxTagFragLength)
			if err != nil {
				return err
			}
			if int(fragPosition)+int(fragLength) > len(raw) {
				return fmt.Errorf("parts: fragment %d out of range: %w", j, ErrDataCorrupt)
			}
			local := int(insertPosition) - int(skelPosition)
			if local < 0 || local > len(skelText) {
				return fmt.Errorf("parts: fragment %d insert position out of range: %w", j, ErrDataCorrupt)
			}
			spliced := make([]byte, 0, len(skelText)+int(fragLength))
			spliced = append(spliced, skelText[:local]...)
			spliced = append(spliced, raw[fragPosition:fragPosition+fragLength]...)
			spliced = append(spliced, skelText[local:]...)
			skelText = spliced
			j++
		}
		rawml.Markup = append(rawml.Markup, &Part{UID: uint32(i), Type: FileTypeHTML, Data: skelText})
	}
	return nil
}

// ParseRawml runs the full reconstruction pipeline over a loaded
// Document: decompress the text stream, split flow parts, classify
// resources, parse the navigational indices, assemble markup parts
// and rewrite links.
func ParseRawml(doc *Document) (*Rawml, error) {
	if doc == nil || doc.Record0 == nil {
		return nil, fmt.Errorf("rawml: document not loaded: %w", ErrInit)
	}
	rawml := &Rawml{Version: doc.Version()}

	text, err := decompressContent(doc)
	if err != nil {
		return nil, err
	}

	if rawml.Version >= 8 && doc.Mobi != nil && doc.Mobi.FDSTSectionCount != nil &&
		*doc.Mobi.FDSTSectionCount > 1 {
		fdst, err := parseFDST(doc)
		if err != nil {
			return nil, err
		}
		rawml.Fdst = fdst
	}
	if err := reconstructFlow(rawml, text); err != nil {
		return nil, err
	}
	if err := reconstructResources(doc, rawml); err != nil {
		return nil, err
	}

	mh := doc.Mobi
	if mh != nil {
		if mh.SkeletonIndex != nil && *mh.SkeletonIndex != notSet32 &&
			mh.FragmentIndex != nil && *mh.FragmentIndex != notSet32 {
			skel, err := parseIndex(doc, int(*mh.SkeletonIndex)+doc.kf8Offset)
			if err != nil {
				return nil, err
			}
			rawml.Skel = skel
			frag, err := parseIndex(doc, int(*mh.FragmentIndex)+doc.kf8Offset)
			if err != nil {
				return nil, err
			}
			rawml.Frag = frag
		}
		// Secondary indices: corruption here drops the index, not the
		// whole parse.
		if mh.GuideIndex != nil && *mh.GuideIndex != notSet32 {
			if guide, err := parseIndex(doc, int(*mh.GuideIndex)+doc.kf8Offset); err == nil {
				rawml.Guide = guide
			}
		}
		if mh.NCXIndex != nil && *mh.NCXIndex != notSet32 {
			if ncx, err := parseIndex(doc, int(*mh.NCXIndex)+doc.kf8Offset); err == nil {
				rawml.Ncx = ncx
			}
		}
		if rawml.Version < 8 && mh.OrthIndex != nil && *mh.OrthIndex != notSet32 {
			if orth, err := parseIndex(doc, int(*mh.OrthIndex)+doc.kf8Offset); err == nil {
				rawml.Orth = orth
			}
		}
	}

	if err := reconstructParts(rawml); err != nil {
		return nil, err
	}
	if err := reconstructLinks(rawml); err != nil {
		return nil, err
	}
	if doc.Mobi != nil && u32(doc.Mobi.TextEncoding, 0) == EncodingCP1252 {
		if err := iterateTxtParts(rawml, markupToUTF8); err != nil {
			return nil, err
		}
	}
	return rawml, nil
}
