// Package script provides the script line model shared by the hydration
// pipeline: lines, their optional audio clips, dialogue entries and the
// per-line hydration status, plus repository ports for persisting line
// collections.
package script

import (
	"fmt"
	"regexp"
	"strings"
)

// AudioClip holds the generated audio for a line. A clip is either absent
// or fully populated; partially filled clips are never stored on a Line.
type AudioClip struct {
	// URL is where the line's WAV segment can be retrieved.
	URL string `json:"url"`
	// StartTime is the line's start within the batch audio, in seconds.
	StartTime float64 `json:"start_time"`
	// EndTime is the line's end within the batch audio, in seconds.
	EndTime float64 `json:"end_time"`
	// Duration is the length of the cut segment, in seconds.
	Duration float64 `json:"duration"`
}

// Line is one line of a script. Index is the stable identity key.
type Line struct {
	// Index is unique and monotonic within a script.
	Index int `json:"index" validate:"min=0"`
	// Character is the speaking character, if known.
	Character string `json:"character,omitempty"`
	// Text is the raw line text as parsed from the script.
	Text string `json:"text" validate:"required"`
	// VoiceID overrides voice resolution for this line.
	VoiceID string `json:"voice_id,omitempty"`
	// Audio is nil until the line has been hydrated.
	Audio *AudioClip `json:"audio,omitempty"`
}

// HasAudio reports whether the line already carries a retrievable clip.
func (l Line) HasAudio() bool {
	return l.Audio != nil && l.Audio.URL != ""
}

// WithAudio returns a copy of the line with the given clip attached.
func (l Line) WithAudio(clip AudioClip) Line {
	l.Audio = &clip
	return l
}

// WithoutAudio returns a copy of the line with any clip removed.
func (l Line) WithoutAudio() Line {
	l.Audio = nil
	return l
}

// DialogueEntry is a line projected for synthesis.
type DialogueEntry struct {
	Text      string `json:"text"`
	VoiceID   string `json:"voiceId"`
	LineIndex int    `json:"lineIndex"`
}

// Key identifies a line collection in the cache and the store.
type Key struct {
	UserID   string
	ScriptID string
}

// String returns the "user/script" form of the key.
func (k Key) String() string {
	return fmt.Sprintf("%s/%s", k.UserID, k.ScriptID)
}

var (
	stageDirectionRe = regexp.MustCompile(`\([^)]*\)|\[[^\]]*\]`)
	whitespaceRe     = regexp.MustCompile(`\s+`)
)

// Sanitize removes bracketed and parenthetical stage directions from a line
// and collapses whitespace. The result is the text that gets synthesized.
func Sanitize(text string) string {
	text = stageDirectionRe.ReplaceAllString(text, " ")
	text = whitespaceRe.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// Clone returns a deep copy of the line slice.
func Clone(lines []Line) []Line {
	out := make([]Line, len(lines))
	for i, l := range lines {
		if l.Audio != nil {
			clip := *l.Audio
			l.Audio = &clip
		}
		out[i] = l
	}
	return out
}

// MergeAudio returns a copy of current with the clips carried by updates
// attached by line index. An update is skipped when its line is gone or its
// text no longer matches, since the clip would be for different words.
func MergeAudio(current, updates []Line) []Line {
	byIndex := make(map[int]Line, len(updates))
	for _, u := range updates {
		if u.HasAudio() {
			byIndex[u.Index] = u
		}
	}

	out := Clone(current)
	for i, l := range out {
		u, ok := byIndex[l.Index]
		if !ok || u.Text != l.Text {
			continue
		}
		out[i] = l.WithAudio(*u.Audio)
	}
	return out
}

// ReconcileAudio prepares an edited collection for storage over stored.
// Lines whose text changed lose their clip; unchanged lines sent without a
// clip keep the stored one.
func ReconcileAudio(stored, incoming []Line) []Line {
	prev := make(map[int]Line, len(stored))
	for _, l := range stored {
		prev[l.Index] = l
	}

	out := Clone(incoming)
	for i, l := range out {
		p, ok := prev[l.Index]
		switch {
		case !ok:
		case p.Text != l.Text:
			out[i] = l.WithoutAudio()
		case !l.HasAudio() && p.HasAudio():
			out[i] = l.WithAudio(*p.Audio)
		}
	}
	return out
}
