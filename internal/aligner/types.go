// Package aligner provides an HTTP client for the forced-alignment service,
// which returns word-level timings for a WAV clip and its transcript.
package aligner

import "github.com/maauso/scenepartner-api/internal/align"

// Multipart field names accepted by the service.
const (
	fieldAudio      = "audio"
	fieldTranscript = "transcript"
	audioFilename   = "batch.wav"
)

// alignResponse is the success body.
type alignResponse struct {
	Words []align.Word `json:"words"`
}

// errorResponse covers the error shapes the service returns.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Detail  string `json:"detail"`
}
