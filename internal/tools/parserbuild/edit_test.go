package parserbuild

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEditBlocks(t *testing.T) {
	blocks, err := parseEditBlocks("⏪\nold line\n⏸️\nnew line\n⏩")
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	assert.Equal(t, "old line", blocks[0].search)
	assert.Equal(t, "new line", blocks[0].replace)
}

func TestParseEditBlocksMultiple(t *testing.T) {
	edit := "⏪\na\nb\n⏸️\nc\n⏩\nignored text between blocks\n⏪\nd\n⏸️\n⏩"
	blocks, err := parseEditBlocks(edit)
	require.NoError(t, err)
	require.Len(t, blocks, 2)
	assert.Equal(t, "a\nb", blocks[0].search)
	assert.Equal(t, "c", blocks[0].replace)
	assert.Equal(t, "d", blocks[1].search)
	assert.Equal(t, "", blocks[1].replace)
}

func TestParseEditBlocksPreservesIndentation(t *testing.T) {
	edit := "⏪\n\tif x {\n\t\treturn\n\t}\n⏸️\n\tif x || y {\n\t\treturn\n\t}\n⏩"
	blocks, err := parseEditBlocks(edit)
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	assert.Equal(t, "\tif x {\n\t\treturn\n\t}", blocks[0].search)
}

func TestParseEditBlocksErrors(t *testing.T) {
	cases := []struct {
		name string
		edit string
	}{
		{"empty", ""},
		{"no blocks", "just some text"},
		{"divider first", "⏸️\nx\n⏩"},
		{"replace first", "⏩"},
		{"unterminated search", "⏪\nx"},
		{"unterminated replace", "⏪\nx\n⏸️\ny"},
		{"nested search", "⏪\n⏪\nx\n⏸️\ny\n⏩"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := parseEditBlocks(tc.edit)
			require.Error(t, err)
		})
	}
}
