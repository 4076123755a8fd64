package mobi

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// kf8LinkFixture builds a Rawml whose single skeleton part carries a
// kindle:pos link resolving to an id attribute at byte 82:
// fragment 1's label (100) minus the skeleton position (50) plus the
// base32 offset (0000000010 = 32).
func kf8LinkFixture() *Rawml {
	prefix := `<a href="kindle:pos:fid:0001:off:0000000010">x</a>`
	data := prefix + strings.Repeat(" ", 82-len(prefix)) + `<p id="anchor">target</p>`
	return &Rawml{
		Version: 8,
		Markup: []*Part{
			{UID: 0, Type: FileTypeHTML, Data: []byte(data)},
		},
		Flow: []*Part{
			{UID: 0, Type: FileTypeHTML},
			{UID: 1, Type: FileTypeCSS, Data: []byte("p{}")},
		},
		Skel: &Indx{Entries: []IndexEntry{{
			Label: "SKEL0000000",
			Tags: []IndexTag{
				{ID: 1, Values: []uint32{1}},
				{ID: 6, Values: []uint32{50, 100}},
			},
		}}},
		Frag: &Indx{Entries: []IndexEntry{
			{Label: "0", Tags: []IndexTag{{ID: 3, Values: []uint32{0}}}},
			{Label: "100", Tags: []IndexTag{{ID: 3, Values: []uint32{0}}}},
		}},
	}
}

func TestReconstructLinksKF8PosFid(t *testing.T) {
	rawml := kf8LinkFixture()
	require.NoError(t, reconstructLinksKF8(rawml))
	assert.True(t, strings.HasPrefix(string(rawml.Markup[0].Data),
		`<a href="part00000.html#anchor">x</a>`))
}

func TestReconstructLinksKF8Idempotent(t *testing.T) {
	rawml := kf8LinkFixture()
	require.NoError(t, reconstructLinksKF8(rawml))
	first := append([]byte(nil), rawml.Markup[0].Data...)
	require.NoError(t, reconstructLinksKF8(rawml))
	assert.Equal(t, first, rawml.Markup[0].Data)
}

func TestReconstructLinksKF8FlowAndEmbed(t *testing.T) {
	rawml := &Rawml{
		Version: 8,
		Markup: []*Part{{
			UID:  0,
			Type: FileTypeHTML,
			Data: []byte(`<link href="kindle:flow:0001?mime=text/css"/><img src="kindle:embed:0002?mime=image/jpeg"/>`),
		}},
		Flow: []*Part{
			{UID: 0, Type: FileTypeHTML},
			{UID: 1, Type: FileTypeCSS, Data: []byte("p{}")},
		},
		Resources: []*Part{
			{UID: 0, Type: FileTypePNG},
			{UID: 1, Type: FileTypeJPEG},
		},
	}
	require.NoError(t, reconstructLinksKF8(rawml))
	got := string(rawml.Markup[0].Data)
	assert.Contains(t, got, `<link href="flow00001.css"/>`)
	assert.Contains(t, got, `<img src="resource00001.jpg"/>`)
}

func TestReconstructLinksKF8CSSUrl(t *testing.T) {
	rawml := &Rawml{
		Version: 8,
		Flow: []*Part{
			{UID: 0, Type: FileTypeHTML},
			{UID: 1, Type: FileTypeCSS,
				Data: []byte(`p { background: url(kindle:embed:0001?mime=image/jpeg) }`)},
		},
		Resources: []*Part{{UID: 0, Type: FileTypeJPEG}},
	}
	require.NoError(t, reconstructLinksKF8(rawml))
	assert.Equal(t,
		`p { background: url(resource00000.jpg) }`,
		string(rawml.Flow[1].Data))
}

func TestReconstructLinksKF7FileposAndRecindex(t *testing.T) {
	head := `<html><a filepos=0000000060>go</a><img recindex=00001>`
	data := head + strings.Repeat(" ", 60-len(head)) + `rest</html>`
	rawml := &Rawml{
		Version:   6,
		Markup:    []*Part{{UID: 0, Type: FileTypeHTML, Data: []byte(data)}},
		Flow:      []*Part{{UID: 0, Type: FileTypeHTML}},
		Resources: []*Part{{UID: 0, Type: FileTypeGIF}},
	}
	require.NoError(t, reconstructLinksKF7(rawml))
	got := string(rawml.Markup[0].Data)
	assert.Contains(t, got, `<a href="#0000000060">go</a>`)
	assert.Contains(t, got, `<img src="resource00000.gif">`)
	// an empty anchor is spliced in at the original target offset
	assert.Contains(t, got, `<a id="0000000060"></a>rest`)
}

func TestReconstructLinksKF7Idempotent(t *testing.T) {
	data := `<html><a filepos=0000000040>go</a>` + strings.Repeat(" ", 6) + `x</html>`
	rawml := &Rawml{
		Version: 6,
		Markup:  []*Part{{UID: 0, Type: FileTypeHTML, Data: []byte(data)}},
		Flow:    []*Part{{UID: 0, Type: FileTypeHTML}},
	}
	require.NoError(t, reconstructLinksKF7(rawml))
	first := append([]byte(nil), rawml.Markup[0].Data...)
	require.NoError(t, reconstructLinksKF7(rawml))
	assert.Equal(t, first, rawml.Markup[0].Data)
}

func TestReconstructLinksKF7OrthBracketing(t *testing.T) {
	rawml := &Rawml{
		Version: 6,
		Markup:  []*Part{{UID: 0, Type: FileTypeHTML, Data: []byte("worddef")}},
		Flow:    []*Part{{UID: 0, Type: FileTypeHTML}},
		Orth: &Indx{Entries: []IndexEntry{{
			Label: "word",
			Tags: []IndexTag{
				{ID: 21, Values: []uint32{0}},
				{ID: 22, Values: []uint32{4}},
			},
		}}},
	}
	require.NoError(t, reconstructLinksKF7(rawml))
	assert.Equal(t,
		`<idx:entry scriptable="yes"><idx:orth value="word"></idx:orth>word</idx:entry>def`,
		string(rawml.Markup[0].Data))
}

func TestReconstructLinksKF7OrthSelfClosing(t *testing.T) {
	rawml := &Rawml{
		Version: 6,
		Markup:  []*Part{{UID: 0, Type: FileTypeHTML, Data: []byte("worddef")}},
		Flow:    []*Part{{UID: 0, Type: FileTypeHTML}},
		Orth: &Indx{Entries: []IndexEntry{{
			Label: "word",
			Tags:  []IndexTag{{ID: 21, Values: []uint32{0}}},
		}}},
	}
	require.NoError(t, reconstructLinksKF7(rawml))
	assert.Equal(t,
		`<idx:entry><idx:orth value="word"></idx:orth></idx:entry>worddef`,
		string(rawml.Markup[0].Data))
}

func TestFragmentsInsertAtSplits(t *testing.T) {
	src := []byte("0123456789")
	frags := []fragment{{rawOffset: 0, data: src}}
	frags, err := fragmentsInsertAt(frags,
		fragment{rawOffset: fragmentInserted, data: []byte("<X>"), owned: true}, 4)
	require.NoError(t, err)
	require.Len(t, frags, 3)

	out := fragmentsFlatten(frags)
	assert.Equal(t, "0123<X>456789", string(out))

	// flatten preserves total size
	total := 0
	for _, f := range frags {
		total += len(f.data)
	}
	assert.Equal(t, total, len(out))
}

func TestFragmentsInsertAtOffsetNotFound(t *testing.T) {
	frags := []fragment{{rawOffset: 0, data: []byte("abc")}}
	_, err := fragmentsInsertAt(frags,
		fragment{rawOffset: fragmentInserted, data: []byte("x"), owned: true}, 99)
	assert.ErrorIs(t, err, ErrDataCorrupt)
}

func TestSearchMarkupIgnoresTextContent(t *testing.T) {
	data := []byte(`<p>kindle:flow:0001</p><a href="kindle:flow:0001">`)
	result := searchLinksKF8(data, 0, FileTypeHTML)
	require.GreaterOrEqual(t, result.start, 0)
	// the match inside text content is skipped; the attribute hit wins
	assert.Equal(t, `"kindle:flow:0001"`, result.value)
}

func TestGetAttributeValue(t *testing.T) {
	data := []byte(`<p class="x" id="target">text</p>`)
	value, offset := getAttributeValue(data, "id", true)
	assert.Equal(t, "target", value)
	assert.Greater(t, offset, 0)

	value, offset = getAttributeValue(data, "missing", true)
	assert.Equal(t, "", value)
	assert.Equal(t, -1, offset)
}

func TestGetAttributeValueUnquoted(t *testing.T) {
	data := []byte(`<a filepos=0000000123>`)
	value, _ := getAttributeValue(data, "filepos", false)
	assert.Equal(t, "0000000123", value)

	_, offset := getAttributeValue(data, "filepos", true)
	assert.Equal(t, -1, offset)
}
