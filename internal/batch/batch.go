// Package batch groups consecutive dialogue entries into synthesis batches
// under a character budget.
package batch

import (
	"unicode/utf8"

	"github.com/maauso/scenepartner-api/internal/script"
)

// DefaultMaxChars is the character budget used when none is configured.
const DefaultMaxChars = 500

// Batch is an ordered run of consecutive dialogue entries synthesized as one
// audio clip.
type Batch []script.DialogueEntry

// Chars returns the summed text length of the batch in characters.
func (b Batch) Chars() int {
	n := 0
	for _, e := range b {
		n += utf8.RuneCountInString(e.Text)
	}
	return n
}

// LineIndexes returns the line indexes of the batch in order.
func (b Batch) LineIndexes() []int {
	out := make([]int, len(b))
	for i, e := range b {
		out[i] = e.LineIndex
	}
	return out
}

// Split packs entries greedily, in order, into batches of at most maxChars
// characters. An entry is never split; one that alone exceeds the budget
// becomes a batch of its own. A maxChars of zero or less uses DefaultMaxChars.
func Split(entries []script.DialogueEntry, maxChars int) []Batch {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}

	var (
		batches []Batch
		current Batch
		size    int
	)
	for _, e := range entries {
		n := utf8.RuneCountInString(e.Text)
		if len(current) > 0 && size+n > maxChars {
			batches = append(batches, current)
			current, size = nil, 0
		}
		current = append(current, e)
		size += n
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}
