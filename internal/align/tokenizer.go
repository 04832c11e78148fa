// Package align maps word-level timestamps from a forced-alignment service
// back onto script lines.
//
// The tokenizer in this package is used on both sides of alignment: it
// normalizes the text sent as the batch transcript and re-derives the tokens
// each line is compared against, so it must stay deterministic.
package align

import (
	"regexp"
	"strings"
)

// apostropheSentinel stands in for a contraction apostrophe while
// punctuation is stripped. It is made of word characters only.
const apostropheSentinel = "__apos__"

var (
	contractionRe  = regexp.MustCompile(`([\p{L}\p{N}])['’]([\p{L}\p{N}])`)
	wordPunctRe    = regexp.MustCompile(`([\p{L}\p{N}])([^\p{L}\p{N}_\s\p{Z}])`)
	punctWordRe    = regexp.MustCompile(`([^\p{L}\p{N}_\s\p{Z}])([\p{L}\p{N}])`)
	nonWordRe      = regexp.MustCompile(`[^\p{L}\p{N}_\s\p{Z}]`)
	spaceRe        = regexp.MustCompile(`[\s\p{Z}]+`)
	alphanumericRe = regexp.MustCompile(`[\p{L}\p{N}]`)
	apostropheRe   = regexp.MustCompile(`['’]|…|\.\.\.`)
)

// PreprocessLine turns raw line text into lowercase word tokens.
//
// Contractions keep their apostrophe ("don't"), punctuation never fuses two
// words together ("wait,what" becomes "wait", "what"), and tokens without a
// letter or digit are dropped.
func PreprocessLine(text string) []string {
	// Mark contractions. Repeat so chained forms like "y'all'd" are all marked.
	for {
		marked := contractionRe.ReplaceAllString(text, "${1}"+apostropheSentinel+"${2}")
		if marked == text {
			break
		}
		text = marked
	}

	text = wordPunctRe.ReplaceAllString(text, "$1 $2")
	text = punctWordRe.ReplaceAllString(text, "$1 $2")
	text = nonWordRe.ReplaceAllString(text, "")
	text = strings.ReplaceAll(text, apostropheSentinel, "'")
	text = strings.ToLower(strings.TrimSpace(spaceRe.ReplaceAllString(text, " ")))
	if text == "" {
		return nil
	}

	fields := strings.Split(text, " ")
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if alphanumericRe.MatchString(f) {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

// Transcript joins already-sanitized line texts into the transcript sent to
// the alignment service.
func Transcript(texts []string) string {
	return strings.Join(texts, " ")
}

// NormalizeWord splits a word returned by the alignment service into
// comparable parts. Apostrophes and ellipses are removed, other punctuation
// separates parts, so a compound token such as "well-known" yields two parts.
func NormalizeWord(word string) []string {
	word = strings.ToLower(word)
	word = apostropheRe.ReplaceAllString(word, "")
	word = nonWordRe.ReplaceAllString(word, " ")
	return strings.Fields(spaceRe.ReplaceAllString(word, " "))
}

// Speakable reports whether text has at least one token the mapper can
// match. Lines without one cannot be located in aligned audio.
func Speakable(text string) bool {
	return len(matchTargets(text)) > 0
}

// matchTargets returns the line's tokens in the same normalized form as
// alignment word parts.
func matchTargets(text string) []string {
	tokens := PreprocessLine(text)
	targets := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if t := strings.Join(NormalizeWord(tok), ""); t != "" {
			targets = append(targets, t)
		}
	}
	return targets
}
