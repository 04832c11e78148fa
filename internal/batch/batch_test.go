package batch

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/scenepartner-api/internal/script"
)

func entries(lengths ...int) []script.DialogueEntry {
	out := make([]script.DialogueEntry, len(lengths))
	for i, n := range lengths {
		out[i] = script.DialogueEntry{Text: strings.Repeat("a", n), VoiceID: "v", LineIndex: i}
	}
	return out
}

func TestSplit_Empty(t *testing.T) {
	assert.Empty(t, Split(nil, 500))
}

func TestSplit_PacksGreedily(t *testing.T) {
	got := Split(entries(200, 200, 200, 50, 400), 500)

	require.Len(t, got, 3)
	assert.Equal(t, []int{0, 1}, got[0].LineIndexes())
	assert.Equal(t, []int{2, 3}, got[1].LineIndexes())
	assert.Equal(t, []int{4}, got[2].LineIndexes())
}

func TestSplit_ExactBudgetFits(t *testing.T) {
	got := Split(entries(250, 250), 500)
	require.Len(t, got, 1)
	assert.Equal(t, 500, got[0].Chars())
}

func TestSplit_OverBudgetEntryIsSingleton(t *testing.T) {
	got := Split(entries(100, 900, 100), 500)

	require.Len(t, got, 3)
	assert.Equal(t, []int{1}, got[1].LineIndexes())
	assert.Equal(t, 900, got[1].Chars())
}

func TestSplit_DefaultBudget(t *testing.T) {
	got := Split(entries(300, 300), 0)
	assert.Len(t, got, 2)
}

func TestSplit_CountsCharactersNotBytes(t *testing.T) {
	in := []script.DialogueEntry{
		{Text: strings.Repeat("é", 3), LineIndex: 0},
		{Text: strings.Repeat("é", 2), LineIndex: 1},
	}
	got := Split(in, 5)
	assert.Len(t, got, 1)
}

func TestSplit_BudgetAndOrderHold(t *testing.T) {
	lengths := []int{12, 480, 3, 77, 501, 0, 250, 250, 1, 499, 600, 30, 30, 30}
	in := entries(lengths...)
	const maxChars = 500

	got := Split(in, maxChars)

	next := 0
	for _, b := range got {
		require.NotEmpty(t, b)
		if len(b) > 1 {
			assert.LessOrEqual(t, b.Chars(), maxChars)
		}
		for _, e := range b {
			assert.Equal(t, next, e.LineIndex, "entries must keep global order")
			next++
		}
	}
	assert.Equal(t, len(in), next, "no entry may be dropped")
}
