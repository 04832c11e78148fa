// Package synth provides an HTTP client for the dialogue synthesis service,
// which turns a batch of dialogue entries into one raw PCM clip.
package synth

import "github.com/maauso/scenepartner-api/internal/script"

// Output settings requested from the service. The audio package assumes
// this exact format.
const (
	OutputFormat           = "pcm_48000"
	ApplyTextNormalization = "auto"
	DefaultModelID         = "eleven_v3"
)

// Request is one batch to synthesize.
type Request struct {
	// Dialogue is the batch's entries in line order.
	Dialogue []script.DialogueEntry
	// ModelID overrides the client's model for this request.
	ModelID string
}

// synthesizeRequest is the JSON body sent to the service.
type synthesizeRequest struct {
	Dialogue               []script.DialogueEntry `json:"dialogue"`
	ModelID                string                 `json:"modelId"`
	OutputFormat           string                 `json:"outputFormat"`
	ApplyTextNormalization string                 `json:"applyTextNormalization"`
}

// errorResponse is the error body some deployments return.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
