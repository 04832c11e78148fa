// Package server provides the HTTP server for the ScenePartner API.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

import (
	"time"

	"github.com/maauso/scenepartner-api/internal/run"
	"github.com/maauso/scenepartner-api/internal/script"
)

// PutScriptRequest is the HTTP request body for storing a script's lines.
type PutScriptRequest struct {
	// UserID owns the script.
	UserID string `json:"user_id" validate:"required"`
	// Lines is the full line collection.
	Lines []script.Line `json:"lines" validate:"required,min=1,dive"`
}

// ScriptResponse is the HTTP response for a stored script.
type ScriptResponse struct {
	UserID   string        `json:"user_id"`
	ScriptID string        `json:"script_id"`
	Lines    []script.Line `json:"lines"`
}

// HydrateRequest is the HTTP request body for starting a hydration run.
type HydrateRequest struct {
	// UserID owns the script.
	UserID string `json:"user_id" validate:"required"`
	// UserCharacter is the character the user reads; their lines get no audio.
	UserCharacter string `json:"user_character,omitempty"`
	// Voices maps character names to voice IDs.
	Voices map[string]string `json:"voices,omitempty" validate:"omitempty,dive,keys,required,endkeys,required"`
	// Force re-hydrates lines that already have audio.
	Force bool `json:"force,omitempty"`
}

// RetryLineRequest is the HTTP request body for re-hydrating one line.
type RetryLineRequest struct {
	UserID string            `json:"user_id" validate:"required"`
	Voices map[string]string `json:"voices,omitempty" validate:"omitempty,dive,keys,required,endkeys,required"`
}

// CreateRunResponse is the HTTP response after starting a run.
type CreateRunResponse struct {
	// ID is the unique identifier for the created run.
	ID string `json:"id"`
	// Status is the initial run status.
	Status string `json:"status"`
}

// RunResponse is the HTTP response for getting run details.
type RunResponse struct {
	ID          string                         `json:"id"`
	UserID      string                         `json:"user_id"`
	ScriptID    string                         `json:"script_id"`
	LineIndex   *int                           `json:"line_index,omitempty"`
	Status      string                         `json:"status"`
	Progress    int                            `json:"progress"`
	Stage       string                         `json:"stage,omitempty"`
	Lines       map[int]script.HydrationStatus `json:"lines,omitempty"`
	FailedLines []int                          `json:"failed_lines,omitempty"`
	Error       string                         `json:"error,omitempty"`
	CreatedAt   time.Time                      `json:"created_at"`
	UpdatedAt   time.Time                      `json:"updated_at"`
	CompletedAt *time.Time                     `json:"completed_at,omitempty"`
}

// newRunResponse converts a run snapshot into its HTTP representation.
func newRunResponse(r *run.Run) RunResponse {
	resp := RunResponse{
		ID:          r.ID,
		UserID:      r.Key.UserID,
		ScriptID:    r.Key.ScriptID,
		Status:      string(r.Status),
		Progress:    r.Progress,
		Stage:       r.Stage,
		Lines:       r.Lines,
		FailedLines: r.FailedLines,
		Error:       r.Error,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
	if r.LineIndex >= 0 {
		idx := r.LineIndex
		resp.LineIndex = &idx
	}
	if !r.CompletedAt.IsZero() {
		at := r.CompletedAt
		resp.CompletedAt = &at
	}
	return resp
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
}
