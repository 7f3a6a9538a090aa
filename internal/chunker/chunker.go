package chunker

import "strings"

// DefaultChunkSize is the window size in characters used when the
// configured size is missing or non-positive.
const DefaultChunkSize = 20000

// Chunk is one contiguous slice of a file's content.
type Chunk struct {
	Index   int
	Total   int
	Content string
}

// Splitter cuts file contents into fixed-size character windows.
type Splitter struct {
	size int
}

// New returns a Splitter with the given window size in characters.
func New(size int) *Splitter {
	if size <= 0 {
		size = DefaultChunkSize
	}
	return &Splitter{size: size}
}

// Split cuts content into sequential windows of at most the configured
// size. Concatenating the chunk contents in index order reproduces the
// input exactly. Whitespace-only input yields no chunks.
func (s *Splitter) Split(content string) []Chunk {
	if strings.TrimSpace(content) == "" {
		return nil
	}
	total := (len(content) + s.size - 1) / s.size
	chunks := make([]Chunk, 0, total)
	for i := 0; i < total; i++ {
		start := i * s.size
		end := start + s.size
		if end > len(content) {
			end = len(content)
		}
		chunks = append(chunks, Chunk{Index: i, Total: total, Content: content[start:end]})
	}
	return chunks
}
