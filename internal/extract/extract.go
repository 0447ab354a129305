// Package extract turns a free-text paragraph into task strings.
package extract

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ErrExtraction is returned when a paragraph cannot be split.
var ErrExtraction = errors.New("error extracting tasks")

// Tasks splits paragraph after every period that is followed by optional
// whitespace and an ASCII uppercase letter. The whitespace at the boundary is dropped,
// fragments are trimmed and empty ones discarded.
//
// This is a sentence heuristic: "1. foo" style lists and lowercase sentence
// starts are not split.
func Tasks(paragraph string) ([]string, error) {
	if !utf8.ValidString(paragraph) {
		return nil, fmt.Errorf("%w: input is not valid UTF-8", ErrExtraction)
	}
	var fragments []string
	start := 0
	for i := 0; i < len(paragraph); i++ {
		if paragraph[i] != '.' {
			continue
		}
		j := i + 1
		for j < len(paragraph) {
			r, size := utf8.DecodeRuneInString(paragraph[j:])
			if !unicode.IsSpace(r) {
				break
			}
			j += size
		}
		if j >= len(paragraph) {
			break
		}
		if c := paragraph[j]; c < 'A' || c > 'Z' {
			continue
		}
		fragments = append(fragments, paragraph[start:i+1])
		start = j
		i = j - 1
	}
	fragments = append(fragments, paragraph[start:])

	tasks := make([]string, 0, len(fragments))
	for _, f := range fragments {
		if f = strings.TrimSpace(f); f != "" {
			tasks = append(tasks, f)
		}
	}
	return tasks, nil
}
