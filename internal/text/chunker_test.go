package text

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestSplit(t *testing.T) {
	t.Run("Empty Text", func(t *testing.T) {
		assert.Empty(t, Split("", 1000, 200))
	})

	t.Run("Short Text Single Chunk", func(t *testing.T) {
		text := "This is a short document.\nIt has two lines."
		chunks := Split(text, 1000, 200)
		assert.Len(t, chunks, 1)
		assert.Equal(t, text, chunks[0].Content)
		assert.Equal(t, 1, chunks[0].LineStart)
		assert.Equal(t, 2, chunks[0].LineEnd)
	})

	t.Run("Prefers Paragraph Break", func(t *testing.T) {
		para1 := strings.Repeat("a", 40)
		para2 := strings.Repeat("b", 40)
		text := para1 + "\n\n" + para2
		chunks := Split(text, 60, 0)
		assert.Len(t, chunks, 2)
		assert.Equal(t, para1+"\n\n", chunks[0].Content)
		assert.Equal(t, para2, chunks[1].Content)
	})

	t.Run("Falls Back To Sentence Break", func(t *testing.T) {
		text := "First sentence here. Second sentence follows. Third one."
		chunks := Split(text, 30, 0)
		assert.True(t, len(chunks) >= 2)
		assert.Equal(t, "First sentence here. ", chunks[0].Content)
	})

	t.Run("Hard Cut Without Separators", func(t *testing.T) {
		text := strings.Repeat("x", 25)
		chunks := Split(text, 10, 0)
		assert.Len(t, chunks, 3)
		assert.Equal(t, 10, len(chunks[0].Content))
		assert.Equal(t, 10, len(chunks[1].Content))
		assert.Equal(t, 5, len(chunks[2].Content))
	})

	t.Run("Overlap Shares Content", func(t *testing.T) {
		text := strings.Repeat("x", 30)
		chunks := Split(text, 10, 3)
		for i := 1; i < len(chunks); i++ {
			prev := chunks[i-1].Content
			tail := prev[len(prev)-3:]
			assert.True(t, strings.HasPrefix(chunks[i].Content, tail))
		}
	})

	t.Run("Overlap Clipped Below Chunk Size", func(t *testing.T) {
		text := strings.Repeat("x", 50)
		// overlap >= chunkSize would never advance; must still terminate
		chunks := Split(text, 10, 10)
		assert.NotEmpty(t, chunks)
		total := 0
		for _, c := range chunks {
			total += len(c.Content)
		}
		assert.GreaterOrEqual(t, total, 50)
	})
}

func TestSplit_MultibyteHardCut(t *testing.T) {
	// Hard cuts must land on rune boundaries, never mid-character
	text := strings.Repeat("日", 20)
	chunks := Split(text, 10, 0)
	assert.Len(t, chunks, 2)
	for i, c := range chunks {
		assert.True(t, utf8.ValidString(c.Content), "chunk %d is not valid UTF-8: %q", i, c.Content)
		assert.Equal(t, 10, utf8.RuneCountInString(c.Content))
	}
	assert.Equal(t, text, chunks[0].Content+chunks[1].Content)
}

func TestSplit_MultibyteSizeInRunes(t *testing.T) {
	// Window size counts characters, so multibyte words fit the same way
	// their one-byte-per-character equivalents would
	text := "héllo wörld. " + strings.Repeat("ü", 30)
	chunks := Split(text, 20, 5)
	assert.NotEmpty(t, chunks)
	joined := ""
	for _, c := range chunks {
		assert.True(t, utf8.ValidString(c.Content))
		assert.LessOrEqual(t, utf8.RuneCountInString(c.Content), 20)
		joined = c.Content // last chunk
	}
	assert.True(t, strings.HasSuffix(joined, "ü"))
}

func TestSplit_LineRanges(t *testing.T) {
	// 50 lines of 50 characters each (49 + newline) = 2500 characters
	line := strings.Repeat("a", 49) + "\n"
	text := strings.Repeat(line, 50)

	chunks := Split(text, 1000, 200)
	assert.Len(t, chunks, 3)

	assert.Equal(t, 1, chunks[0].LineStart)
	assert.Equal(t, 20, chunks[0].LineEnd)
	assert.Equal(t, 17, chunks[1].LineStart)
	assert.Equal(t, 36, chunks[1].LineEnd)
	assert.Equal(t, 33, chunks[2].LineStart)
	assert.Equal(t, 50, chunks[2].LineEnd)

	// Every source line is covered and consecutive chunks overlap by at
	// least one line when overlap > 0
	covered := map[int]bool{}
	for _, c := range chunks {
		assert.LessOrEqual(t, c.LineStart, c.LineEnd)
		for l := c.LineStart; l <= c.LineEnd; l++ {
			covered[l] = true
		}
	}
	for l := 1; l <= 50; l++ {
		assert.True(t, covered[l], "line %d not covered", l)
	}
	for i := 1; i < len(chunks); i++ {
		assert.LessOrEqual(t, chunks[i].LineStart, chunks[i-1].LineEnd)
	}
}

func TestSplit_MidLineStart(t *testing.T) {
	// Overlapped windows may begin mid-line; the line range must still
	// point at the line the window starts on
	text := "short first line\n" + strings.Repeat("b", 120)
	chunks := Split(text, 100, 20)
	assert.True(t, len(chunks) >= 2)
	assert.Equal(t, 1, chunks[0].LineStart)
	last := chunks[len(chunks)-1]
	assert.Equal(t, 2, last.LineStart)
	assert.Equal(t, 2, last.LineEnd)
}
