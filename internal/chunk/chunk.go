// Package chunk splits oversized text into bounded, order-preserving pieces.
//
// Sizes are counted in characters (Unicode code points). Slicing is fixed-width
// with no regard for word or statement boundaries, so concatenating the pieces
// always reproduces the input exactly.
package chunk

import "unicode/utf8"

// Document is one input file: a stable identifier and its full content.
type Document struct {
	ID      string
	Content string
}

// Chunk is one piece of a Document.
type Chunk struct {
	SourceID string
	Index    int // 0-based, dense
	Total    int // pieces in the source, fixed at split time
	Text     string
}

// Split returns text cut into pieces of at most maxChars characters.
// When maxChars <= 0 or the text already fits, the result is [text], even
// for empty text.
func Split(text string, maxChars int) []string {
	if maxChars <= 0 || utf8.RuneCountInString(text) <= maxChars {
		return []string{text}
	}

	pieces := make([]string, 0, Count(text, maxChars))
	start, n := 0, 0
	for i := range text {
		if n == maxChars {
			pieces = append(pieces, text[start:i])
			start, n = i, 0
		}
		n++
	}
	return append(pieces, text[start:])
}

// Count returns len(Split(text, maxChars)) without building the pieces.
func Count(text string, maxChars int) int {
	n := utf8.RuneCountInString(text)
	if maxChars <= 0 || n <= maxChars {
		return 1
	}
	return (n + maxChars - 1) / maxChars
}

// Len returns the character length used for every size decision.
func Len(text string) int {
	return utf8.RuneCountInString(text)
}

// Chunks splits the document and attaches source metadata to each piece.
func (d Document) Chunks(maxChars int) []Chunk {
	pieces := Split(d.Content, maxChars)
	out := make([]Chunk, len(pieces))
	for i, p := range pieces {
		out[i] = Chunk{
			SourceID: d.ID,
			Index:    i,
			Total:    len(pieces),
			Text:     p,
		}
	}
	return out
}
