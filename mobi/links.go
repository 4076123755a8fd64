package mobi

import (
	"fmt"
	"strconv"
	"strings"
)

const attrValueMaxSize = 150

// searchResult is one located attribute match: the byte span to be
// replaced and the collected attribute value text.
type searchResult struct {
	start int // value beginning, -1 when no match
	end   int // one past the value
	value string
	isURL bool // matched inside a CSS url(...) value
}

func isHTMLSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v'
}

// searchMarkup finds the next attribute (HTML) or url value (CSS)
// containing needle, starting at from. The scanner tracks the last
// tag/rule border so matches in text content are ignored.
func searchMarkup(data []byte, from int, typ FileType, needle string) searchResult {
	result := searchResult{start: -1, end: -1}
	tagOpen, tagClose := byte('<'), byte('>')
	if typ == FileTypeCSS {
		tagOpen, tagClose = '{', '}'
	}
	lastBorder := tagClose
	n := len(needle)
	pos := from
	for pos < len(data) {
		if data[pos] == tagOpen || data[pos] == tagClose {
			lastBorder = data[pos]
		}
		if pos+n <= len(data) && string(data[pos:pos+n]) == needle {
			if lastBorder != tagOpen {
				// not inside a tag, skip the match
				pos += n
				continue
			}
			// back up to the value beginning
			p := pos
			for p >= from && !isHTMLSpace(data[p]) && data[p] != tagOpen && data[p] != '=' && data[p] != '(' {
				p--
			}
			result.isURL = p >= from && data[p] == '('
			p++
			result.start = p
			var value []byte
			for p < len(data) && !isHTMLSpace(data[p]) && data[p] != tagClose && data[p] != ')' && len(value) < attrValueMaxSize {
				value = append(value, data[p])
				p++
			}
			// self closing tag
			if len(value) > 0 && p < len(data) && data[p-1] == '/' && data[p] == '>' {
				p--
				value = value[:len(value)-1]
			}
			result.end = p
			result.value = string(value)
			return result
		}
		pos++
	}
	return result
}

// searchLinksKF8 locates the next "kindle:" link inside a tag
// attribute or CSS url value.
func searchLinksKF8(data []byte, from int, typ FileType) searchResult {
	return searchMarkup(data, from, typ, "kindle:")
}

// searchLinksKF7 locates the next filepos= or recindex= attribute.
// The whole attribute (name included) is collected, since KF7
// rewriting replaces name and value together.
func searchLinksKF7(data []byte, from int) searchResult {
	result := searchResult{start: -1, end: -1}
	needles := []string{"filepos=", "recindex="}
	lastBorder := byte('>')
	pos := from
	for pos < len(data) {
		if data[pos] == '<' || data[pos] == '>' {
			lastBorder = data[pos]
		}
		for _, needle := range needles {
			n := len(needle)
			if pos+n > len(data) || string(data[pos:pos+n]) != needle {
				continue
			}
			if lastBorder != '<' {
				break
			}
			p := pos
			for p >= from && !isHTMLSpace(data[p]) && data[p] != '<' {
				p--
			}
			p++
			result.start = p
			var value []byte
			for p < len(data) && !isHTMLSpace(data[p]) && data[p] != '>' && len(value) < attrValueMaxSize {
				value = append(value, data[p])
				p++
			}
			if len(value) > 0 && p < len(data) && data[p-1] == '/' && data[p] == '>' {
				p--
				value = value[:len(value)-1]
			}
			result.end = p
			result.value = string(value)
			return result
		}
		pos++
	}
	return result
}

// getAttributeValue finds the first attribute with the given name and
// returns its value plus the offset of the value's first byte, or -1
// when absent. onlyQuoted rejects unquoted values (filepos=00001
// style) when set.
func getAttributeValue(data []byte, attribute string, onlyQuoted bool) (string, int) {
	attr := attribute + "="
	n := len(attr)
	lastBorder := byte(0)
	pos := 0
	for pos < len(data) {
		if data[pos] == '<' || data[pos] == '>' {
			lastBorder = data[pos]
		}
		if pos+n <= len(data) && string(data[pos:pos+n]) == attr {
			if lastBorder == '>' {
				// tag contents, not an attribute
				pos += n
				continue
			}
			if pos > 0 && data[pos-1] != '<' && !isHTMLSpace(data[pos-1]) {
				pos += n
				continue
			}
			p := pos + n
			var separator byte
			if p < len(data) && (data[p] == '\'' || data[p] == '"') {
				separator = data[p]
				p++
			} else {
				if onlyQuoted {
					pos += n
					continue
				}
				separator = ' '
			}
			valueStart := p
			var value []byte
			for p < len(data) && data[p] != separator && len(value) < attrValueMaxSize {
				if separator == ' ' && (isHTMLSpace(data[p]) || data[p] == '>') {
					break
				}
				value = append(value, data[p])
				p++
			}
			return string(value), valueStart
		}
		pos++
	}
	return "", -1
}

// getIDByOffset returns the value of the closest id attribute at or
// after offset in an html part, or the empty string.
func getIDByOffset(html *Part, offset int) (string, error) {
	if html == nil {
		return "", fmt.Errorf("links: nil part: %w", ErrParamErr)
	}
	if offset > len(html.Data) {
		return "", fmt.Errorf("links: offset past part end: %w", ErrParamErr)
	}
	id, off := getAttributeValue(html.Data[offset:], "id", true)
	if off < 0 {
		return "", nil
	}
	return id, nil
}

// getOffsetByPosOff resolves a kindle:pos:fid:x:off:y pair into the
// owning skeleton part number and a byte offset inside that part.
func getOffsetByPosOff(rawml *Rawml, posFid, posOff uint32) (uint32, int, error) {
	if rawml == nil || rawml.Frag == nil || rawml.Skel == nil {
		return 0, 0, fmt.Errorf("links: missing skeleton or fragment index: %w", ErrInit)
	}
	if int(posFid) >= len(rawml.Frag.Entries) {
		return 0, 0, fmt.Errorf("links: pos:fid %d out of range: %w", posFid, ErrDataCorrupt)
	}
	entry := &rawml.Frag.Entries[posFid]
	insertPosition, err := strconv.ParseUint(entry.Label, 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("links: bad fragment label %q: %w", entry.Label, ErrDataCorrupt)
	}
	fileNumber, err := entry.GetTagValue(indxTagFragFileNr)
	if err != nil {
		return 0, 0, err
	}
	if int(fileNumber) >= len(rawml.Skel.Entries) {
		return 0, 0, fmt.Errorf("links: skeleton part %d out of range: %w", fileNumber, ErrDataCorrupt)
	}
	skelPosition, err := rawml.Skel.Entries[fileNumber].GetTagValue(indxTagSkelPosition)
	if err != nil {
		return 0, 0, err
	}
	offset := int(insertPosition) - int(skelPosition) + int(posOff)
	return fileNumber, offset, nil
}

// posfidToLink renders a kindle:pos:fid:x:off:y token as a quoted
// part link, anchored at the closest id attribute after the target
// offset.
func posfidToLink(rawml *Rawml, value string) (string, error) {
	target := value[strings.Index(value, "kindle:pos:fid:"):]
	if len(target) < 34 {
		return "", fmt.Errorf("links: truncated pos:fid token %q: %w", value, ErrDataCorrupt)
	}
	strFid := target[15:19]
	strOff := target[24:34]
	posFid, ok := decodeBase32(strFid)
	if !ok {
		return "", fmt.Errorf("links: bad base32 fid %q: %w", strFid, ErrDataCorrupt)
	}
	posOff, ok := decodeBase32(strOff)
	if !ok {
		return "", fmt.Errorf("links: bad base32 offset %q: %w", strOff, ErrDataCorrupt)
	}
	fileNumber, offset, err := getOffsetByPosOff(rawml, uint32(posFid), uint32(posOff))
	if err != nil {
		return "", err
	}
	html := rawml.GetPartByUID(fileNumber)
	if html == nil {
		return "", fmt.Errorf("links: part %d not found: %w", fileNumber, ErrDataCorrupt)
	}
	if offset < 0 || offset > len(html.Data) {
		return "", fmt.Errorf("links: resolved offset out of range: %w", ErrDataCorrupt)
	}
	id, err := getIDByOffset(html, offset)
	if err != nil {
		return "", err
	}
	if posOff != 0 {
		return fmt.Sprintf("\"part%05d.html#%s\"", fileNumber, id), nil
	}
	return fmt.Sprintf("\"part%05d.html\"", fileNumber), nil
}

// flowToLink renders a kindle:flow:xxxx token as a quoted flow-part
// link.
func flowToLink(rawml *Rawml, value string) (string, error) {
	target := value[strings.Index(value, "kindle:flow:"):]
	if len(target) < 16 {
		return "", fmt.Errorf("links: truncated flow token %q: %w", value, ErrDataCorrupt)
	}
	partID, ok := decodeBase32(target[12:16])
	if !ok {
		return "", fmt.Errorf("links: bad base32 flow id: %w", ErrDataCorrupt)
	}
	flow := rawml.GetFlowByUID(uint32(partID))
	if flow == nil {
		return "", fmt.Errorf("links: flow part %d not found: %w", partID, ErrDataCorrupt)
	}
	return fmt.Sprintf("\"flow%05d.%s\"", partID, fileTypeExt(flow.Type)), nil
}

// embedToLink renders a kindle:embed:xxxx token as a quoted resource
// link. Embed ids count from one.
func embedToLink(rawml *Rawml, value string) (string, error) {
	target := value[strings.Index(value, "kindle:embed:"):]
	if len(target) < 17 {
		return "", fmt.Errorf("links: truncated embed token %q: %w", value, ErrDataCorrupt)
	}
	partID, ok := decodeBase32(target[13:17])
	if !ok || partID == 0 {
		return "", fmt.Errorf("links: bad embed id: %w", ErrDataCorrupt)
	}
	partID--
	resource := rawml.GetResourceByUID(uint32(partID))
	if resource == nil {
		return "", fmt.Errorf("links: resource %d not found: %w", partID, ErrDataCorrupt)
	}
	return fmt.Sprintf("\"resource%05d.%s\"", partID, fileTypeExt(resource.Type)), nil
}

// fragment is one chunk of a part under reconstruction: either a
// borrowed slice of the source markup (rawOffset is its position
// there) or an inserted replacement string (rawOffset < 0).
type fragment struct {
	rawOffset int
	data      []byte
	owned     bool
}

const fragmentInserted = -1

// fragmentsFlatten concatenates a fragment list into a fresh owned
// buffer.
func fragmentsFlatten(frags []fragment) []byte {
	total := 0
	for _, f := range frags {
		total += len(f.data)
	}
	out := make([]byte, 0, total)
	for _, f := range frags {
		out = append(out, f.data...)
	}
	return out
}

// fragmentsInsertAt splices an inserted chunk into the list at the
// given source-markup offset, splitting the borrowed fragment that
// straddles it.
func fragmentsInsertAt(frags []fragment, chunk fragment, offset int) ([]fragment, error) {
	for i := range frags {
		f := frags[i]
		if f.rawOffset == fragmentInserted || f.rawOffset > offset || f.rawOffset+len(f.data) < offset {
			continue
		}
		switch {
		case f.rawOffset == offset:
			// prepend
			frags = append(frags[:i], append([]fragment{chunk}, frags[i:]...)...)
		case f.rawOffset+len(f.data) == offset:
			// append
			frags = append(frags[:i+1], append([]fragment{chunk}, frags[i+1:]...)...)
		default:
			// split the borrowed fragment
			rel := offset - f.rawOffset
			head := fragment{rawOffset: f.rawOffset, data: f.data[:rel], owned: f.owned}
			tail := fragment{rawOffset: offset, data: f.data[rel:], owned: false}
			rest := append([]fragment{head, chunk, tail}, frags[i+1:]...)
			frags = append(frags[:i], rest...)
		}
		return frags, nil
	}
	return frags, fmt.Errorf("links: insert offset %d not found: %w", offset, ErrDataCorrupt)
}

// rewriteKF8Part scans one markup or css part for kindle: links and
// returns the rewritten buffer, or nil when nothing matched.
func rewriteKF8Part(rawml *Rawml, part *Part) ([]byte, error) {
	var frags []fragment
	dataIn := 0
	from := 0
	for {
		result := searchLinksKF8(part.Data, from, part.Type)
		if result.start < 0 {
			break
		}
		from = result.end
		var link string
		var err error
		switch {
		case strings.Contains(result.value, "kindle:pos:fid:"):
			link, err = posfidToLink(rawml, result.value)
		case strings.Contains(result.value, "kindle:flow:"):
			link, err = flowToLink(rawml, result.value)
		case strings.Contains(result.value, "kindle:embed:"):
			link, err = embedToLink(rawml, result.value)
		default:
			continue
		}
		if err != nil {
			return nil, err
		}
		if result.isURL {
			// url(...) values carry no quotes
			link = link[1 : len(link)-1]
		}
		frags = append(frags, fragment{rawOffset: dataIn, data: part.Data[dataIn:result.start]})
		frags = append(frags, fragment{rawOffset: fragmentInserted, data: []byte(link), owned: true})
		dataIn = result.end
	}
	if len(frags) == 0 {
		return nil, nil
	}
	frags = append(frags, fragment{rawOffset: dataIn, data: part.Data[dataIn:]})
	return fragmentsFlatten(frags), nil
}

// reconstructLinksKF8 rewrites kindle: links across the HTML and CSS
// parts among the markup parts and the non-primary flow parts; parts of
// other types (SVG, for one) are left untouched. All parts are scanned before any
// is replaced, since pos:fid targets resolve against the original
// byte offsets.
func reconstructLinksKF8(rawml *Rawml) error {
	var targets []*Part
	targets = append(targets, rawml.Markup...)
	if len(rawml.Flow) > 1 {
		targets = append(targets, rawml.Flow[1:]...)
	}
	rewritten := make(map[*Part][]byte)
	for _, part := range targets {
		if part.Type != FileTypeHTML && part.Type != FileTypeCSS {
			continue
		}
		data, err := rewriteKF8Part(rawml, part)
		if err != nil {
			return err
		}
		if data != nil {
			rewritten[part] = data
		}
	}
	for part, data := range rewritten {
		part.Data = data
	}
	return nil
}

// fileposArray collects every filepos link target in a part into the
// links array.
func fileposArray(links *Uint32Array, part *Part) {
	data := part.Data
	for {
		value, offset := getAttributeValue(data, "filepos", false)
		if offset < 0 {
			return
		}
		filepos, err := strconv.ParseUint(value, 10, 32)
		if err == nil && filepos > 0 {
			links.Insert(uint32(filepos))
		}
		data = data[offset:]
	}
}

// ncxFileposArray collects filepos targets referenced from NCX parts
// ("part00000.html#0000000000" src values).
func ncxFileposArray(links *Uint32Array, rawml *Rawml) {
	for _, part := range rawml.Markup[1:] {
		if part.Type != FileTypeNCX {
			continue
		}
		data := part.Data
		for {
			value, offset := getAttributeValue(data, "src", false)
			if offset < 0 {
				break
			}
			if len(value) >= 25 {
				if filepos, err := strconv.ParseUint(value[15:25], 10, 32); err == nil {
					links.Insert(uint32(filepos))
				}
			}
			data = data[offset:]
		}
	}
}

// reconstructLinksKF7 rewrites filepos= and recindex= attributes in
// the single KF7 markup part, injects empty anchors at every distinct
// link target, and brackets dictionary entries when an orth index is
// present.
func reconstructLinksKF7(rawml *Rawml) error {
	if len(rawml.Markup) == 0 {
		return fmt.Errorf("links: no markup part: %w", ErrInit)
	}
	part := rawml.Markup[0]
	links := NewUint32Array(25)
	fileposArray(links, part)
	ncxFileposArray(links, rawml)

	var frags []fragment
	dataIn := 0
	if links.Size() > 0 {
		links.Sort(true)
		from := 0
		for {
			result := searchLinksKF7(part.Data, from)
			if result.start < 0 {
				break
			}
			from = result.end
			digits := strings.IndexAny(result.value, "0123456789")
			if digits < 0 {
				dataIn = result.end
				continue
			}
			target, err := strconv.ParseUint(strings.TrimRight(result.value[digits:], "\"'"), 10, 32)
			if err != nil {
				dataIn = result.end
				continue
			}
			var link string
			switch result.value[0] {
			case 'f':
				link = fmt.Sprintf("href=\"#%010d\"", target)
			case 'r':
				if target > 0 {
					target--
				}
				ext := "raw"
				if res := rawml.GetResourceByUID(uint32(target)); res != nil {
					ext = fileTypeExt(res.Type)
				}
				link = fmt.Sprintf("src=\"resource%05d.%s\"", target, ext)
			default:
				dataIn = result.end
				continue
			}
			frags = append(frags, fragment{rawOffset: dataIn, data: part.Data[dataIn:result.start]})
			frags = append(frags, fragment{rawOffset: fragmentInserted, data: []byte(link), owned: true})
			dataIn = result.end
		}
	}
	if len(frags) > 0 {
		frags = append(frags, fragment{rawOffset: dataIn, data: part.Data[dataIn:]})
	} else {
		frags = append(frags, fragment{rawOffset: 0, data: part.Data})
	}

	// inject empty anchors at each distinct target offset
	for _, offset := range links.Values() {
		anchor := fmt.Sprintf("<a id=\"%010d\"></a>", offset)
		var err error
		frags, err = fragmentsInsertAt(frags, fragment{rawOffset: fragmentInserted, data: []byte(anchor), owned: true}, int(offset))
		if err != nil {
			return err
		}
	}

	// bracket dictionary entries
	if rawml.Orth != nil {
		for i := range rawml.Orth.Entries {
			entry := &rawml.Orth.Entries[i]
			startPos, err := entry.GetTagValue(indxTagOrthStartPos)
			if err != nil {
				return err
			}
			textLen, _ := entry.GetTagValue(indxTagOrthEndPos)
			var startTag string
			if textLen == 0 {
				startTag = fmt.Sprintf("<idx:entry><idx:orth value=\"%s\"></idx:orth></idx:entry>", entry.Label)
			} else {
				startTag = fmt.Sprintf("<idx:entry scriptable=\"yes\"><idx:orth value=\"%s\"></idx:orth>", entry.Label)
			}
			frags, err = fragmentsInsertAt(frags, fragment{rawOffset: fragmentInserted, data: []byte(startTag), owned: true}, int(startPos))
			if err != nil {
				return err
			}
			if textLen > 0 {
				frags, err = fragmentsInsertAt(frags, fragment{rawOffset: fragmentInserted, data: []byte("</idx:entry>"), owned: true}, int(startPos+textLen))
				if err != nil {
					return err
				}
			}
		}
	}

	if len(frags) > 1 {
		part.Data = fragmentsFlatten(frags)
	}
	return nil
}

// reconstructLinks dispatches to the KF8 or KF7 rewriter by format
// version.
func reconstructLinks(rawml *Rawml) error {
	if rawml == nil {
		return fmt.Errorf("links: rawml not initialized: %w", ErrInit)
	}
	if rawml.Version >= 8 {
		return reconstructLinksKF8(rawml)
	}
	return reconstructLinksKF7(rawml)
}

// iterateTxtParts applies cb to every HTML or CSS part among the markup
// parts and the non-primary flow parts; SVG flow parts are skipped.
func iterateTxtParts(rawml *Rawml, cb func(*Part) error) error {
	parts := append([]*Part{}, rawml.Markup...)
	if len(rawml.Flow) > 1 {
		parts = append(parts, rawml.Flow[1:]...)
	}
	for _, part := range parts {
		if part.Type == FileTypeHTML || part.Type == FileTypeCSS {
			if err := cb(part); err != nil {
				return err
			}
		}
	}
	return nil
}

// markupToUTF8 transcodes a CP-1252 text part to UTF-8 in place.
func markupToUTF8(part *Part) error {
	if part == nil {
		return fmt.Errorf("links: nil part: %w", ErrInit)
	}
	part.Data = []byte(decodeCP1252(part.Data))
	return nil
}
