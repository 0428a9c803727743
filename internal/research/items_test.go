package research

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseItems_WrappedObject(t *testing.T) {
	items, err := ParseItems(`{"items": ["Allegany", "Anne Arundel", "Baltimore"]}`)
	require.NoError(t, err)
	assert.Equal(t, []string{"Allegany", "Anne Arundel", "Baltimore"}, items)
}

func TestParseItems_BareArray(t *testing.T) {
	items, err := ParseItems(`["Allegany", "Baltimore"]`)
	require.NoError(t, err)
	assert.Equal(t, []string{"Allegany", "Baltimore"}, items)
}

func TestParseItems_MarkdownFenced(t *testing.T) {
	items, err := ParseItems("```json\n{\"items\": [\"Allegany\"]}\n```")
	require.NoError(t, err)
	assert.Equal(t, []string{"Allegany"}, items)
}

func TestParseItems_DropsBlanksAndDuplicates(t *testing.T) {
	items, err := ParseItems(`{"items": ["Allegany", "", "  ", "Allegany", "Baltimore"]}`)
	require.NoError(t, err)
	assert.Equal(t, []string{"Allegany", "Baltimore"}, items)
}

func TestParseItems_EmptyListIsValid(t *testing.T) {
	items, err := ParseItems(`{"items": []}`)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestParseItems_Garbage(t *testing.T) {
	_, err := ParseItems("I could not find any items, sorry!")
	require.Error(t, err)
}

func TestExtractDomain(t *testing.T) {
	assert.Equal(t, "example.com", ExtractDomain("https://www.example.com/about"))
	assert.Equal(t, "example.com", ExtractDomain("http://example.com"))
	assert.Equal(t, "example.com", ExtractDomain("example.com/path"))
}
