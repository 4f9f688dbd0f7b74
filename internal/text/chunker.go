package text

import (
	"strings"
	"unicode/utf8"
)

// separators, highest priority first: paragraph break, line break, sentence
// break, word break. The empty string means a hard character cut.
var separators = []string{"\n\n", "\n", ". ", " "}

type Chunk struct {
	Content   string
	LineStart int
	LineEnd   int
}

// Split cuts text into overlapping windows of at most chunkSize characters,
// preferring the highest-priority separator that produces a break inside the
// window. Consecutive chunks overlap by `overlap` characters. Every chunk
// carries an inclusive 1-based [LineStart, LineEnd] range back into the
// source document, computed from cumulative newline counts.
//
// Sizes are measured in runes, not bytes, so multibyte text never gets cut
// mid-character. Empty text yields no chunks; text shorter than chunkSize
// yields exactly one chunk spanning the whole input. Overlap is clipped
// below chunkSize so the window always advances.
func Split(text string, chunkSize, overlap int) []Chunk {
	if text == "" {
		return nil
	}
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= chunkSize {
		overlap = chunkSize - 1
	}

	runes := []rune(text)

	var chunks []Chunk
	start := 0
	for start < len(runes) {
		end := start + chunkSize
		if end >= len(runes) {
			end = len(runes)
		} else {
			end = breakAt(runes, start, end)
		}

		content := string(runes[start:end])
		lineStart := lineAt(runes, start)
		chunks = append(chunks, Chunk{
			Content:   content,
			LineStart: lineStart,
			LineEnd:   lineStart + strings.Count(strings.TrimRight(content, "\n"), "\n"),
		})

		if end == len(runes) {
			break
		}
		next := end - overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks
}

// breakAt picks the cut position for the window [start, limit): the last
// occurrence of the highest-priority separator, falling back to a hard cut
// at limit when no separator appears past the window start. Positions are
// rune indexes.
func breakAt(runes []rune, start, limit int) int {
	window := string(runes[start:limit])
	for _, sep := range separators {
		if idx := strings.LastIndex(window, sep); idx > 0 {
			return start + utf8.RuneCountInString(window[:idx+len(sep)])
		}
	}
	return limit
}

// lineAt returns the 1-based line number of the character at offset.
func lineAt(runes []rune, offset int) int {
	line := 1
	for _, r := range runes[:offset] {
		if r == '\n' {
			line++
		}
	}
	return line
}
