package document

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHash_StableAndHex(t *testing.T) {
	h1 := Hash([]byte("protocol body"))
	h2 := Hash([]byte("protocol body"))
	h3 := Hash([]byte("different body"))

	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, h3)
	assert.Len(t, h1, 64)
}

func TestInspect_RejectsNonPDF(t *testing.T) {
	_, err := Inspect([]byte("plain text, not a pdf"))
	assert.ErrorIs(t, err, ErrNotPDF)
}

func TestInfo_TextAndFindPage(t *testing.T) {
	info := &Info{
		PageCount: 3,
		PageText: []string{
			"Synopsis and objectives",
			"Inclusion criteria:\n  age >= 18   years",
			"Schedule of activities",
		},
	}

	assert.Equal(t, "Schedule of activities", info.Text(3))
	assert.Equal(t, "", info.Text(0))
	assert.Equal(t, "", info.Text(4))

	// Whitespace differences must not defeat the search.
	assert.Equal(t, 2, info.FindPage("age >= 18 years"))
	assert.Equal(t, 1, info.FindPage("Synopsis"))
	assert.Equal(t, 0, info.FindPage("not in any page"))
	assert.Equal(t, 0, info.FindPage("   "))
}

func TestStore_SaveReadPath(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "docs"))
	require.NoError(t, err)

	data := []byte("%PDF-1.7 fake")
	require.NoError(t, store.Save("prot-1", data))

	got, err := store.Read("prot-1")
	require.NoError(t, err)
	assert.Equal(t, data, got)

	// No stray temp files left behind.
	entries, err := os.ReadDir(filepath.Dir(store.Path("prot-1")))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "prot-1.pdf", entries[0].Name())
}

func TestStore_ReadMissing(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Read("nope")
	assert.ErrorIs(t, err, ErrDocumentNotFound)
}
