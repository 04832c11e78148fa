package align

import (
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/maauso/scenepartner-api/internal/script"
)

// Decision values attached to mapper debug records under the "decision" key.
const (
	DecisionMatch          = "match"
	DecisionAbsorb         = "absorb"
	DecisionLookaheadSkip  = "lookahead_skip"
	DecisionLineMatched    = "line_matched"
	DecisionEmptyLine      = "empty_line"
	DecisionResumePartial  = "resume_after_partial"
	DecisionResumePrevious = "resume_after_previous"
	DecisionStallSkip      = "stall_skip"
)

const (
	minContainsLen   = 3
	defaultLookahead = 10
	defaultStallSkip = 10
)

// MapOpts configures MapToLines.
type MapOpts struct {
	// Batch is the batch number attached to every log record.
	Batch int

	// Lookahead is how many words past an unexpected word are searched for
	// the next expected token once a line has started matching.
	// Default: 10.
	Lookahead int

	// StallSkip is how far the pointer jumps when a line fails without any
	// match and no earlier line succeeded.
	// Default: 10.
	StallSkip int

	// Logger receives debug records for every decision. Defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultMapOpts returns the default mapping options.
func DefaultMapOpts() MapOpts {
	return MapOpts{
		Lookahead: defaultLookahead,
		StallSkip: defaultStallSkip,
	}
}

func (o MapOpts) withDefaults() MapOpts {
	if o.Lookahead <= 0 {
		o.Lookahead = defaultLookahead
	}
	if o.StallSkip <= 0 {
		o.StallSkip = defaultStallSkip
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// lineMatch is the outcome of scanning the word stream for one line.
type lineMatch struct {
	matched   int
	start     float64
	end       float64
	lastMatch int
}

// MapToLines assigns each line a time range within the batch audio.
//
// Lines are matched in order with a single forward pointer over words. A line
// that cannot be fully matched before the words run out is left out of the
// result, and the pointer is moved back to the best known resume position:
// one past the line's last matched word, else one past the previous matched
// line, else StallSkip words forward. The pointer never returns to the start
// of the stream, so mapping is linear in the number of words.
//
// Line texts must already be sanitized the same way as the transcript.
func MapToLines(words []Word, lines []script.Line, opts MapOpts) TimingMap {
	opts = opts.withDefaults()
	logger := opts.Logger.With(slog.Int("batch", opts.Batch))

	parts := make([][]string, len(words))
	for i, w := range words {
		parts[i] = NormalizeWord(w.Text)
	}

	timings := make(TimingMap, len(lines))
	wordIndex := 0
	lastSuccessEnd := -1

	for _, line := range lines {
		log := logger.With(slog.Int("line_index", line.Index))
		targets := matchTargets(line.Text)
		if len(targets) == 0 {
			log.Debug("line has no comparable tokens", slog.String("decision", DecisionEmptyLine))
			continue
		}

		m := matchLine(words, parts, targets, wordIndex, opts.Lookahead, log)
		if m.matched == len(targets) {
			timings[line.Index] = Timing{StartTime: m.start, EndTime: m.end}
			wordIndex = m.lastMatch + 1
			lastSuccessEnd = m.lastMatch
			log.Debug("line matched",
				slog.String("decision", DecisionLineMatched),
				slog.Float64("start", m.start),
				slog.Float64("end", m.end),
				slog.Int("next_word", wordIndex),
			)
			continue
		}

		from := wordIndex
		var decision string
		switch {
		case m.lastMatch >= 0:
			wordIndex = m.lastMatch + 1
			decision = DecisionResumePartial
		case lastSuccessEnd >= 0:
			wordIndex = lastSuccessEnd + 1
			decision = DecisionResumePrevious
		default:
			wordIndex = min(wordIndex+opts.StallSkip, len(words))
			decision = DecisionStallSkip
		}
		log.Warn("line not matched",
			slog.String("decision", decision),
			slog.Int("matched_tokens", m.matched),
			slog.Int("total_tokens", len(targets)),
			slog.Int("from_word", from),
			slog.Int("resume_word", wordIndex),
		)
	}

	return timings
}

// matchLine scans forward from word index from, consuming targets in order.
func matchLine(words []Word, parts [][]string, targets []string, from, lookahead int, log *slog.Logger) lineMatch {
	m := lineMatch{lastMatch: -1}

	w := from
	for w < len(words) && m.matched < len(targets) {
		if n := matchWord(parts[w], targets[m.matched:]); n > 0 {
			if m.lastMatch < 0 {
				m.start = words[w].Start
			}
			m.end = words[w].End
			m.lastMatch = w
			if n > 1 {
				log.Debug("compound word absorbed tokens",
					slog.String("decision", DecisionAbsorb),
					slog.Int("word", w),
					slog.String("text", words[w].Text),
					slog.Int("tokens", n),
				)
			} else {
				log.Debug("word matched",
					slog.String("decision", DecisionMatch),
					slog.Int("word", w),
					slog.String("text", words[w].Text),
				)
			}
			m.matched += n
			w++
			continue
		}

		if m.lastMatch >= 0 {
			if next := lookAhead(parts, w+1, lookahead, targets[m.matched:]); next >= 0 {
				log.Debug("skipping unexpected words",
					slog.String("decision", DecisionLookaheadSkip),
					slog.Int("from_word", w),
					slog.Int("to_word", next),
					slog.Int("skipped", next-w),
				)
				w = next
				continue
			}
		}
		w++
	}

	return m
}

// lookAhead returns the index of the first word in [from, from+n) that
// matches the next target, or -1.
func lookAhead(parts [][]string, from, n int, targets []string) int {
	for i := from; i < from+n && i < len(parts); i++ {
		if matchWord(parts[i], targets) > 0 {
			return i
		}
	}
	return -1
}

// matchWord reports how many leading targets one alignment word consumes.
// The first part that matches targets[0] anchors the match; each following
// part of the same word then absorbs the next target while they keep matching.
func matchWord(parts []string, targets []string) int {
	for p, part := range parts {
		if !partMatches(part, targets[0]) {
			continue
		}
		n := 1
		for q := p + 1; q < len(parts) && n < len(targets); q++ {
			if !partMatches(parts[q], targets[n]) {
				break
			}
			n++
		}
		return n
	}
	return 0
}

// partMatches compares one word part against a target token. Besides exact
// equality, tokens of three or more characters match when one contains the
// other, which tolerates pluralization and stemming drift from synthesis.
func partMatches(part, target string) bool {
	if part == target {
		return true
	}
	if utf8.RuneCountInString(part) < minContainsLen || utf8.RuneCountInString(target) < minContainsLen {
		return false
	}
	return strings.Contains(part, target) || strings.Contains(target, part)
}
