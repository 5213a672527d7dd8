package document

import (
	"strings"
	"testing"
	"unicode"
	"unicode/utf8"

	"github.com/fyerfyer/paper-dataset/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stripSpace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

func testDocument() *models.NormalizedDocument {
	return &models.NormalizedDocument{
		Title: "Paper",
		Sections: []models.Section{
			{Title: "Introduction", Body: "First sentence is here. Second sentence follows! Is this the third?\n\nA new paragraph starts."},
			{Title: "Method", Body: "Short one. " + strings.Repeat("word ", 30) + "end."},
			{Title: "", Body: "这是第一句。这是第二句！这是第三句？"},
		},
	}
}

func TestChunkerPartition(t *testing.T) {
	doc := testDocument()
	chunker := NewChunker(ChunkerConfig{MaxChars: 40})
	chunks := chunker.Split(doc)
	require.NotEmpty(t, chunks)

	var got, want strings.Builder
	for i, c := range chunks {
		t.Logf("块 %d [%s] (%d): %q", c.Index, c.SectionTitle, c.CharCount, c.Text)
		assert.Equal(t, i, c.Index)
		assert.LessOrEqual(t, c.CharCount, 40)
		assert.Equal(t, utf8.RuneCountInString(c.Text), c.CharCount)
		assert.True(t, utf8.ValidString(c.Text))
		got.WriteString(stripSpace(c.Text))
	}
	for _, s := range doc.Sections {
		want.WriteString(stripSpace(s.Body))
	}
	assert.Equal(t, want.String(), got.String(), "去掉空白后所有块拼接应等于原文")
}

func TestChunkerStaysWithinSections(t *testing.T) {
	doc := testDocument()
	chunks := NewChunker(ChunkerConfig{MaxChars: 1000}).Split(doc)

	require.Len(t, chunks, 3, "每个小节放得下时一节一块")
	for i, c := range chunks {
		assert.Equal(t, doc.Sections[i].Title, c.SectionTitle)
		assert.Equal(t, strings.TrimSpace(doc.Sections[i].Body), c.Text)
	}
}

func TestChunkerSentenceGreedy(t *testing.T) {
	doc := &models.NormalizedDocument{Sections: []models.Section{
		{Body: "Alpha beta. Gamma delta. Epsilon zeta."},
	}}
	chunks := NewChunker(ChunkerConfig{MaxChars: 25}).Split(doc)

	require.Len(t, chunks, 2)
	assert.Equal(t, "Alpha beta. Gamma delta.", chunks[0].Text)
	assert.Equal(t, "Epsilon zeta.", chunks[1].Text)
}

func TestChunkerForceSplit(t *testing.T) {
	t.Run("at whitespace", func(t *testing.T) {
		doc := &models.NormalizedDocument{Sections: []models.Section{
			{Body: "one two three four five six seven eight nine ten"},
		}}
		chunks := NewChunker(ChunkerConfig{MaxChars: 10}).Split(doc)
		for _, c := range chunks {
			assert.LessOrEqual(t, c.CharCount, 10)
			assert.NotContains(t, c.Text, "  ")
			assert.Equal(t, strings.TrimSpace(c.Text), c.Text)
		}
		assert.Equal(t, "one two", chunks[0].Text)
	})

	t.Run("no whitespace", func(t *testing.T) {
		word := strings.Repeat("x", 25)
		doc := &models.NormalizedDocument{Sections: []models.Section{{Body: word}}}
		chunks := NewChunker(ChunkerConfig{MaxChars: 10}).Split(doc)
		require.Len(t, chunks, 3)
		assert.Equal(t, 10, chunks[0].CharCount)
		assert.Equal(t, 10, chunks[1].CharCount)
		assert.Equal(t, 5, chunks[2].CharCount)
	})

	t.Run("multibyte", func(t *testing.T) {
		text := strings.Repeat("数据集", 7)
		doc := &models.NormalizedDocument{Sections: []models.Section{{Body: text}}}
		chunks := NewChunker(ChunkerConfig{MaxChars: 4}).Split(doc)
		var joined strings.Builder
		for _, c := range chunks {
			assert.True(t, utf8.ValidString(c.Text))
			assert.LessOrEqual(t, c.CharCount, 4)
			joined.WriteString(c.Text)
		}
		assert.Equal(t, text, joined.String())
	})
}

func TestChunkerOverlap(t *testing.T) {
	doc := &models.NormalizedDocument{Sections: []models.Section{
		{Body: "The first sentence is long enough. The second sentence is here too. A third one closes."},
	}}
	chunks := NewChunker(ChunkerConfig{MaxChars: 50, OverlapChars: 12}).Split(doc)
	require.GreaterOrEqual(t, len(chunks), 2)

	for i, c := range chunks {
		t.Logf("重叠块 %d: %q", i, c.Text)
		assert.LessOrEqual(t, c.CharCount, 50)
	}
	assert.Equal(t, "long enough. The second sentence is here too.", chunks[1].Text, "第二块应以前一块末尾的重叠文本开头")
}

func TestChunkerLazyAndRestartable(t *testing.T) {
	doc := testDocument()
	chunker := NewChunker(ChunkerConfig{MaxChars: 30})
	seq := chunker.Chunks(doc)

	var first, second []models.Chunk
	for c := range seq {
		first = append(first, c)
	}
	for c := range seq {
		second = append(second, c)
	}
	assert.Equal(t, first, second, "重复遍历结果应一致")

	// 提前终止
	count := 0
	for range seq {
		count++
		if count == 2 {
			break
		}
	}
	assert.Equal(t, 2, count)
}

func TestChunkerMaxChunks(t *testing.T) {
	chunks := NewChunker(ChunkerConfig{MaxChars: 20, MaxChunks: 2}).Split(testDocument())
	assert.Len(t, chunks, 2)
}

func TestChunkerEmptyDocument(t *testing.T) {
	chunker := NewChunker(DefaultChunkerConfig())
	assert.Empty(t, chunker.Split(nil))
	assert.Empty(t, chunker.Split(&models.NormalizedDocument{Sections: []models.Section{{Title: "Empty"}}}))
}
