package review

import (
	"strings"
	"testing"

	"github.com/phrazzld/docreview-api/internal/generation"
	"github.com/phrazzld/docreview-api/internal/platform/tokenizer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunker_Split(t *testing.T) {
	c := chunker{counter: tokenizer.Runes{RunesPerToken: 1}, tokenLimit: 10, maxImagesPerCall: 2}

	t.Run("small documents are kept whole", func(t *testing.T) {
		units := c.split([]generation.Document{{Name: "a.txt", Text: "short"}})
		require.Len(t, units, 1)
		assert.Equal(t, "a.txt", units[0].Name)
	})

	t.Run("paragraphs packed within the limit", func(t *testing.T) {
		units := c.split([]generation.Document{{Name: "b.txt", Text: "aa\n\nbb\n\ncccccccc"}})
		require.Len(t, units, 2)
		assert.Equal(t, "b.txt (part 1/2)", units[0].Name)
		assert.Equal(t, "aa\n\nbb", units[0].Text)
		assert.Equal(t, "cccccccc", units[1].Text)
	})

	t.Run("oversized lines are cut", func(t *testing.T) {
		units := c.split([]generation.Document{{Name: "c.txt", Text: strings.Repeat("x", 25)}})
		require.Len(t, units, 3)
		var joined strings.Builder
		for _, u := range units {
			assert.LessOrEqual(t, len(u.Text), 10)
			joined.WriteString(u.Text)
		}
		assert.Equal(t, strings.Repeat("x", 25), joined.String())
	})

	t.Run("images grouped", func(t *testing.T) {
		imgs := make([]generation.Image, 5)
		units := c.split([]generation.Document{{Name: "scan.pdf", Images: imgs}})
		require.Len(t, units, 3)
		assert.Len(t, units[0].Images, 2)
		assert.Len(t, units[2].Images, 1)
		assert.Equal(t, "scan.pdf (part 3/3)", units[2].Name)
	})

	t.Run("order preserved across documents", func(t *testing.T) {
		units := c.split([]generation.Document{
			{Name: "one", Text: "1"},
			{Name: "two", Text: "2"},
		})
		require.Len(t, units, 2)
		assert.Equal(t, "one", units[0].Name)
		assert.Equal(t, "two", units[1].Name)
	})
}
