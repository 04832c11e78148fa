package audio

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/scenepartner-api/internal/align"
)

// silence returns seconds of zeroed PCM.
func silence(seconds float64) []byte {
	return make([]byte, byteOffset(seconds))
}

// testOpts uses binary-exact paddings so byte offsets can be asserted exactly.
func testOpts() SegmentOpts {
	return SegmentOpts{StartPadding: 0.125, EndPadding: 0.25}
}

func TestSplitIntoSegments_SingleLine(t *testing.T) {
	pcm := silence(2.0)
	timings := align.TimingMap{0: {StartTime: 0.5, EndTime: 1.0}}

	got := SplitIntoSegments(pcm, timings, testOpts())

	require.Contains(t, got, 0)
	seg := got[0]
	// No neighbours: both gaps default to 1s, so start padding is 0.5s and
	// end padding is capped at 0.25s.
	assert.Equal(t, 0, seg.StartByte)
	assert.Equal(t, 60000*2, seg.EndByte)
	assert.Equal(t, 0.0, seg.StartTime)
	assert.Equal(t, 1.25, seg.EndTime)
	assert.InDelta(t, 1.25, seg.Duration(), 1e-9)
	assert.Len(t, seg.WAV, HeaderSize+seg.EndByte-seg.StartByte)
	assert.True(t, HasRIFFHeader(seg.WAV))
}

func TestSplitIntoSegments_HeaderDetection(t *testing.T) {
	pcm := silence(2.0)
	timings := align.TimingMap{0: {StartTime: 0.5, EndTime: 1.0}, 1: {StartTime: 1.25, EndTime: 1.75}}

	raw := SplitIntoSegments(pcm, timings, testOpts())
	wrapped := SplitIntoSegments(WrapPCM(pcm), timings, testOpts())

	require.Len(t, raw, 2)
	for idx, seg := range raw {
		assert.Equal(t, seg.StartByte, wrapped[idx].StartByte)
		assert.Equal(t, seg.EndByte, wrapped[idx].EndByte)
	}
}

func TestSplitIntoSegments_ClampsToAudioLength(t *testing.T) {
	pcm := silence(1.0)
	timings := align.TimingMap{0: {StartTime: 0.5, EndTime: 0.9375}}

	got := SplitIntoSegments(pcm, timings, testOpts())

	require.Contains(t, got, 0)
	assert.Equal(t, len(pcm), got[0].EndByte)
}

func TestSplitIntoSegments_OverlapGetsNoStartPadding(t *testing.T) {
	pcm := silence(3.0)
	// Line 1 starts 0.0625s before line 0 ends.
	timings := align.TimingMap{
		0: {StartTime: 0.0, EndTime: 1.0},
		1: {StartTime: 0.9375, EndTime: 2.0},
	}

	got := SplitIntoSegments(pcm, timings, testOpts())

	require.Len(t, got, 2)
	assert.Equal(t, 0.9375, got[1].StartTime, "overlapping line must not be padded at the start")
	assert.Equal(t, byteOffset(0.9375), got[1].StartByte)
	assert.Equal(t, got[1].StartByte, got[0].EndByte, "earlier line is trimmed to the later line's start")
	assert.Greater(t, got[0].EndByte, got[0].StartByte)
}

func TestSplitIntoSegments_TightGapTrimsAgainstNextStart(t *testing.T) {
	pcm := silence(2.0)
	timings := align.TimingMap{
		0: {StartTime: 0.5, EndTime: 1.0},
		1: {StartTime: 1.0625, EndTime: 1.5},
	}

	got := SplitIntoSegments(pcm, timings, testOpts())

	require.Len(t, got, 2)
	// Line 1 keeps its 0.125s start padding and reaches back to 0.9375s.
	assert.Equal(t, byteOffset(0.9375), got[1].StartByte)
	assert.LessOrEqual(t, got[0].EndByte, got[1].StartByte)
}

func TestSplitIntoSegments_UsesMatchedNeighboursNotAdjacentIndexes(t *testing.T) {
	pcm := silence(4.0)
	timings := align.TimingMap{
		2: {StartTime: 0.5, EndTime: 1.0},
		7: {StartTime: 3.0, EndTime: 3.5},
	}

	got := SplitIntoSegments(pcm, timings, testOpts())

	require.Len(t, got, 2)
	// Gap of 2s to line 7: end padding capped at 0.25s.
	assert.Equal(t, 1.25, got[2].EndTime)
	// Gap of 2s from line 2: start padding is half the gap.
	assert.Equal(t, 2.0, got[7].StartTime)
}

func TestSplitIntoSegments_DropsEmptyRanges(t *testing.T) {
	pcm := silence(1.0)
	timings := align.TimingMap{
		0: {StartTime: 0.25, EndTime: 0.5},
		1: {StartTime: 2.0, EndTime: 2.5},
	}

	got := SplitIntoSegments(pcm, timings, testOpts())

	assert.Contains(t, got, 0)
	assert.NotContains(t, got, 1, "a line timed past the end of the audio has no bytes")
}

func TestSplitIntoSegments_EmptyInput(t *testing.T) {
	assert.Empty(t, SplitIntoSegments(nil, align.TimingMap{0: {StartTime: 0, EndTime: 1}}, testOpts()))
	assert.Empty(t, SplitIntoSegments(silence(1), nil, testOpts()))
}

func TestSplitIntoSegments_NoOverlapProperty(t *testing.T) {
	pcm := silence(12.0)
	timings := align.TimingMap{
		0: {StartTime: 0.03, EndTime: 0.71},
		1: {StartTime: 0.74, EndTime: 1.9},
		2: {StartTime: 1.85, EndTime: 2.4},
		3: {StartTime: 2.41, EndTime: 3.3},
		4: {StartTime: 3.6, EndTime: 4.05},
		5: {StartTime: 4.05, EndTime: 5.5},
		6: {StartTime: 7.2, EndTime: 8.1},
		7: {StartTime: 8.17, EndTime: 11.99},
	}

	for _, opts := range []SegmentOpts{DefaultSegmentOpts(), testOpts(), {StartPadding: 0.4, EndPadding: 0.6}} {
		got := SplitIntoSegments(pcm, timings, opts)

		indexes := make([]int, 0, len(got))
		for idx := range got {
			indexes = append(indexes, idx)
		}
		slices.Sort(indexes)

		for i, idx := range indexes {
			seg := got[idx]
			assert.Greater(t, seg.EndByte, seg.StartByte, "line %d", idx)
			assert.GreaterOrEqual(t, seg.StartByte, 0)
			assert.LessOrEqual(t, seg.EndByte, len(pcm))
			assert.Zero(t, seg.StartByte%2, "line %d start not frame aligned", idx)
			if i+1 < len(indexes) {
				assert.LessOrEqual(t, seg.EndByte, got[indexes[i+1]].StartByte, "line %d overlaps line %d", idx, indexes[i+1])
			}
		}
	}
}

func TestStartPadding(t *testing.T) {
	assert.Equal(t, 0.0, startPadding(-0.05, 0.1))
	assert.Equal(t, 0.1, startPadding(0.05, 0.1))
	assert.Equal(t, 0.5, startPadding(1.0, 0.1))
}

func TestEndPadding(t *testing.T) {
	tests := []struct {
		name       string
		gap        float64
		wantPad    float64
		wantMargin float64
	}{
		{"overlap", -0.05, 0, -0.025},
		{"tight", 0.05, 0, 0.025},
		{"small", 0.15, 0.045, 0.06},
		{"medium", 0.4, 0.12, 0.12},
		{"large", 2.0, 0.15, 0.15},
		{"moderate", 0.6, 0.15, 0.12},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pad, margin := endPadding(tt.gap, 0.15)
			assert.InDelta(t, tt.wantPad, pad, 1e-9)
			assert.InDelta(t, tt.wantMargin, margin, 1e-9)
		})
	}
}

func TestSegmentMap_Merge(t *testing.T) {
	a := SegmentMap{0: {LineIndex: 0}}
	merged := a.Merge(SegmentMap{1: {LineIndex: 1}})
	assert.Len(t, merged, 2)
	assert.Len(t, a, 1)
}
