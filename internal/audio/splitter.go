package audio

import (
	"log/slog"
	"math"
	"slices"

	"github.com/dustin/go-humanize"

	"github.com/maauso/scenepartner-api/internal/align"
)

// Gap thresholds, in seconds, driving adaptive padding.
const (
	defaultGap = 1.0
	tightGap   = 0.1
	smallGap   = 0.2
	mediumGap  = 0.5
	maxMargin  = 0.15
)

// SegmentOpts configures SplitIntoSegments.
type SegmentOpts struct {
	// StartPadding is the minimum padding before a line's first word, in seconds.
	// Larger silences before the line widen it to half the gap.
	// Default: 0.1 seconds.
	StartPadding float64

	// EndPadding is the maximum padding after a line's last word, in seconds.
	// It is capped at 30% of the silence that follows.
	// Default: 0.15 seconds.
	EndPadding float64

	// Batch is attached to every log record.
	Batch int

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultSegmentOpts returns the default segmenting options.
func DefaultSegmentOpts() SegmentOpts {
	return SegmentOpts{
		StartPadding: 0.1,
		EndPadding:   0.15,
	}
}

// Segment is one line's slice of the batch audio.
type Segment struct {
	LineIndex int
	// StartByte and EndByte delimit the slice within the PCM payload; EndByte is exclusive.
	StartByte int
	EndByte   int
	// StartTime and EndTime are the padded bounds in seconds.
	StartTime float64
	EndTime   float64
	// WAV is the self-contained clip.
	WAV []byte
}

// Duration returns the clip length in seconds.
func (s Segment) Duration() float64 {
	return Duration(s.EndByte - s.StartByte)
}

// SegmentMap holds segments keyed by line index.
type SegmentMap map[int]Segment

// Merge returns a new map holding the entries of m overlaid with other.
func (m SegmentMap) Merge(other SegmentMap) SegmentMap {
	out := make(SegmentMap, len(m)+len(other))
	for k, v := range m {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// SplitIntoSegments cuts a batch's audio into one WAV clip per timed line.
//
// data may be raw PCM or a WAV file. Lines are processed in ascending index
// order and padded in proportion to the silence around them: generously
// before the first word, tightly after the last. Whatever the padding, a
// clip never extends into the next line's padded start. Lines whose range
// ends up empty are left out.
func SplitIntoSegments(data []byte, timings align.TimingMap, opts SegmentOpts) SegmentMap {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	logger := opts.Logger.With(slog.Int("batch", opts.Batch))

	pcm := PCM(data)
	pcm = pcm[:len(pcm)-len(pcm)%frameSize]
	total := Duration(len(pcm))

	indexes := make([]int, 0, len(timings))
	for idx := range timings {
		indexes = append(indexes, idx)
	}
	slices.Sort(indexes)

	// Padded starts are needed up front: each line's end is trimmed against
	// the next line's start.
	startTimes := make([]float64, len(indexes))
	startBytes := make([]int, len(indexes))
	for i, idx := range indexes {
		tm := timings[idx]
		gapFromPrev := defaultGap
		if i > 0 {
			gapFromPrev = tm.StartTime - timings[indexes[i-1]].EndTime
		}
		pad := startPadding(gapFromPrev, opts.StartPadding)
		startTimes[i] = math.Max(0, tm.StartTime-pad)
		startBytes[i] = byteOffset(startTimes[i])

		logger.Debug("start padding",
			slog.Int("line_index", idx),
			slog.String("decision", "start_padding"),
			slog.Float64("gap_from_prev", gapFromPrev),
			slog.Float64("padding", pad),
		)
	}

	segments := make(SegmentMap, len(indexes))
	for i, idx := range indexes {
		tm := timings[idx]
		log := logger.With(slog.Int("line_index", idx))

		hasNext := i+1 < len(indexes)
		gapToNext := defaultGap
		var nextStart float64
		if hasNext {
			nextStart = timings[indexes[i+1]].StartTime
			gapToNext = nextStart - tm.EndTime
		}
		pad, margin := endPadding(gapToNext, opts.EndPadding)

		endTime := tm.EndTime + pad
		if hasNext {
			endTime = math.Min(endTime, nextStart-margin)
		}
		endTime = math.Min(endTime, total)

		startByte := startBytes[i]
		endByte := byteOffset(endTime)
		if hasNext && endByte > startBytes[i+1] {
			log.Debug("trimmed end against next line start",
				slog.String("decision", "trim_to_next"),
				slog.Int("end_byte", endByte),
				slog.Int("next_start_byte", startBytes[i+1]),
			)
			endByte = startBytes[i+1]
		}
		endByte = min(endByte, len(pcm))

		if endByte <= startByte {
			log.Warn("empty segment, line dropped",
				slog.String("decision", "empty_segment"),
				slog.Int("start_byte", startByte),
				slog.Int("end_byte", endByte),
			)
			continue
		}

		seg := Segment{
			LineIndex: idx,
			StartByte: startByte,
			EndByte:   endByte,
			StartTime: startTimes[i],
			EndTime:   endTime,
			WAV:       WrapPCM(pcm[startByte:endByte]),
		}
		segments[idx] = seg

		log.Debug("segment cut",
			slog.String("decision", "segment"),
			slog.Float64("gap_to_next", gapToNext),
			slog.Float64("end_padding", pad),
			slog.Float64("safety_margin", margin),
			slog.Float64("duration", seg.Duration()),
			slog.String("size", humanize.Bytes(uint64(len(seg.WAV)))),
		)
	}

	return segments
}

// startPadding returns the padding before a line given the silence since the
// previous line. Overlapping lines get none.
func startPadding(gapFromPrev, fixed float64) float64 {
	if gapFromPrev < 0 {
		return 0
	}
	return math.Max(fixed, gapFromPrev*0.5)
}

// endPadding returns the padding after a line and the safety margin kept
// before the next line's start, given the silence that follows. For tight or
// overlapping gaps the margin may be negative.
func endPadding(gapToNext, fixed float64) (pad, margin float64) {
	if gapToNext < tightGap {
		return 0, gapToNext * 0.5
	}

	pad = math.Min(fixed, gapToNext*0.3)
	switch {
	case gapToNext < smallGap:
		margin = gapToNext * 0.4
	case gapToNext < mediumGap:
		margin = gapToNext * 0.3
	default:
		margin = math.Min(maxMargin, gapToNext*0.2)
	}
	return pad, margin
}

// byteOffset converts seconds to a frame-aligned byte offset.
func byteOffset(seconds float64) int {
	return int(math.Floor(seconds*SampleRate)) * BytesPerSample * Channels
}
