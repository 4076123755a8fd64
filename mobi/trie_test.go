package mobi

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTrieInsertAndLookup(t *testing.T) {
	tr := NewTrie()
	tr.InsertReversed("chapter01", "frag-1")
	tr.InsertReversed("chapter02", "frag-2")

	assert.Equal(t, []string{"frag-1"}, tr.Lookup("chapter01"))
	assert.Equal(t, []string{"frag-2"}, tr.Lookup("chapter02"))
	assert.Nil(t, tr.Lookup("missing"))
}

func TestTrieInsertSharedSuffixMultipleValues(t *testing.T) {
	tr := NewTrie()
	tr.InsertReversed("foo", "v1")
	tr.InsertReversed("foo", "v2")
	assert.ElementsMatch(t, []string{"v1", "v2"}, tr.Lookup("foo"))
}
