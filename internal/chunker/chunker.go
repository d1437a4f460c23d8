// Package chunker splits extracted document text into overlapping,
// word-bounded chunks. Chunks are the unit of indexing and retrieval: each one
// becomes a single point in the vector store.
package chunker

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// DefaultSize is the default number of words per chunk.
	DefaultSize = 1000

	// DefaultOverlap is the default number of words shared by consecutive chunks.
	DefaultOverlap = 200
)

// ErrInvalidConfig is returned when size and overlap do not describe a window
// that advances through the text (size <= 0, overlap < 0, or overlap >= size).
var ErrInvalidConfig = errors.New("chunker: invalid chunk configuration")

// Validate reports whether size and overlap form a usable configuration.
// The returned error wraps ErrInvalidConfig.
func Validate(size, overlap int) error {
	switch {
	case size <= 0:
		return fmt.Errorf("%w: size must be positive, got %d", ErrInvalidConfig, size)
	case overlap < 0:
		return fmt.Errorf("%w: overlap must not be negative, got %d", ErrInvalidConfig, overlap)
	case overlap >= size:
		return fmt.Errorf("%w: overlap %d must be smaller than size %d", ErrInvalidConfig, overlap, size)
	}
	return nil
}

// Split divides text into chunks of at most size words, each starting
// size-overlap words after the previous one. Splitting stops as soon as a
// window reaches the last word, so only the final chunk can be shorter than
// size. Text with no words yields no chunks and a nil error.
func Split(text string, size, overlap int) ([]string, error) {
	if err := Validate(size, overlap); err != nil {
		return nil, err
	}

	words := strings.Fields(text)
	if len(words) == 0 {
		return nil, nil
	}

	step := size - overlap
	chunks := make([]string, 0, len(words)/step+1)

	for start := 0; start < len(words); start += step {
		end := min(start+size, len(words))

		chunk := strings.Join(words[start:end], " ")
		if strings.TrimSpace(chunk) != "" {
			chunks = append(chunks, chunk)
		}
		if end == len(words) {
			break
		}
	}

	return chunks, nil
}
