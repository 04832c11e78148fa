package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"

	"github.com/maauso/scenepartner-api/internal/hydration"
	"github.com/maauso/scenepartner-api/internal/run"
	"github.com/maauso/scenepartner-api/internal/script"
)

// Hydrator runs hydrations; implemented by *hydration.Service.
type Hydrator interface {
	Hydrate(ctx context.Context, req hydration.Request, obs hydration.Observer) (*hydration.Result, error)
	RetryLine(ctx context.Context, req hydration.Request, lineIndex int, obs hydration.Observer) (*hydration.Result, error)
}

// Compile-time check that the hydration service satisfies Hydrator.
var _ Hydrator = (*hydration.Service)(nil)

const (
	defaultEventPollInterval = 250 * time.Millisecond
	eventWriteWait           = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	hydrator           Hydrator
	scripts            script.Repository
	runs               run.Repository
	validator          *validator.Validate
	logger             *slog.Logger
	enableAsyncProcess bool
	eventPollInterval  time.Duration
}

// HandlerOption is a function that configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithAsyncProcessing enables or disables background processing.
// When disabled, hydrate and retry only create the run and return
// without starting it.
func WithAsyncProcessing(enabled bool) HandlerOption {
	return func(h *Handlers) {
		h.enableAsyncProcess = enabled
	}
}

// WithEventPollInterval sets how often the events websocket checks the run.
func WithEventPollInterval(d time.Duration) HandlerOption {
	return func(h *Handlers) {
		if d > 0 {
			h.eventPollInterval = d
		}
	}
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(hydrator Hydrator, scripts script.Repository, runs run.Repository, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		hydrator:           hydrator,
		scripts:            scripts,
		runs:               runs,
		validator:          validator.New(),
		logger:             logger,
		enableAsyncProcess: true, // Default to enabled
		eventPollInterval:  defaultEventPollInterval,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// PutScript handles PUT /scripts/{scriptID} requests.
func (h *Handlers) PutScript(w http.ResponseWriter, r *http.Request) {
	var req PutScriptRequest
	if !h.decode(w, r, &req) {
		return
	}

	indexes := make([]int, 0, len(req.Lines))
	for _, l := range req.Lines {
		indexes = append(indexes, l.Index)
	}
	slices.Sort(indexes)
	if len(slices.Compact(indexes)) != len(req.Lines) {
		writeError(w, http.StatusBadRequest, "line indexes must be unique", "DUPLICATE_LINE_INDEX")
		return
	}

	key := script.Key{UserID: req.UserID, ScriptID: r.PathValue("scriptID")}
	var saved []script.Line
	err := script.Update(r.Context(), h.scripts, key, func(stored []script.Line) ([]script.Line, error) {
		saved = script.ReconcileAudio(stored, req.Lines)
		return saved, nil
	})
	if err != nil {
		h.logger.Error("failed to save script",
			slog.String("script", key.String()),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to save script", "SCRIPT_SAVE_FAILED")
		return
	}

	h.logger.Info("script stored",
		slog.String("script", key.String()),
		slog.Int("lines", len(saved)),
	)

	writeJSON(w, http.StatusOK, ScriptResponse{UserID: key.UserID, ScriptID: key.ScriptID, Lines: saved})
}

// GetScript handles GET /scripts/{scriptID}?user_id= requests.
func (h *Handlers) GetScript(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required", "MISSING_USER_ID")
		return
	}
	key := script.Key{UserID: userID, ScriptID: r.PathValue("scriptID")}

	lines, ok := h.findScript(w, r, key)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, ScriptResponse{UserID: key.UserID, ScriptID: key.ScriptID, Lines: lines})
}

// HydrateScript handles POST /scripts/{scriptID}/hydrate requests.
func (h *Handlers) HydrateScript(w http.ResponseWriter, r *http.Request) {
	var req HydrateRequest
	if !h.decode(w, r, &req) {
		return
	}
	key := script.Key{UserID: req.UserID, ScriptID: r.PathValue("scriptID")}

	lines, ok := h.findScript(w, r, key)
	if !ok {
		return
	}

	hreq := hydration.Request{
		Key:           key,
		Lines:         lines,
		UserCharacter: req.UserCharacter,
		Voices:        req.Voices,
		Force:         req.Force,
	}
	rn := run.New(key)
	h.start(w, r, rn, func(ctx context.Context, obs hydration.Observer) (*hydration.Result, error) {
		return h.hydrator.Hydrate(ctx, hreq, obs)
	})
}

// RetryLine handles POST /scripts/{scriptID}/lines/{index}/retry requests.
func (h *Handlers) RetryLine(w http.ResponseWriter, r *http.Request) {
	lineIndex, err := strconv.Atoi(r.PathValue("index"))
	if err != nil || lineIndex < 0 {
		writeError(w, http.StatusBadRequest, "line index must be a non-negative integer", "INVALID_LINE_INDEX")
		return
	}

	var req RetryLineRequest
	if !h.decode(w, r, &req) {
		return
	}
	key := script.Key{UserID: req.UserID, ScriptID: r.PathValue("scriptID")}

	lines, ok := h.findScript(w, r, key)
	if !ok {
		return
	}
	if !slices.ContainsFunc(lines, func(l script.Line) bool { return l.Index == lineIndex }) {
		writeError(w, http.StatusNotFound, "line not found", "LINE_NOT_FOUND")
		return
	}

	hreq := hydration.Request{Key: key, Lines: lines, Voices: req.Voices}
	rn := run.New(key)
	rn.LineIndex = lineIndex
	h.start(w, r, rn, func(ctx context.Context, obs hydration.Observer) (*hydration.Result, error) {
		return h.hydrator.RetryLine(ctx, hreq, lineIndex, obs)
	})
}

// GetRun handles GET /runs/{id} requests.
func (h *Handlers) GetRun(w http.ResponseWriter, r *http.Request) {
	rn, ok := h.findRun(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newRunResponse(rn))
}

// RunEvents handles GET /runs/{id}/events by upgrading to a websocket and
// pushing a run snapshot whenever it changes, until the run is terminal.
func (h *Handlers) RunEvents(w http.ResponseWriter, r *http.Request) {
	rn, ok := h.findRun(w, r)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		h.logger.Warn("websocket upgrade failed",
			slog.String("run_id", rn.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	defer conn.Close()

	// Drain client frames so close messages are processed.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.eventPollInterval)
	defer ticker.Stop()

	var last time.Time
	for {
		if !rn.UpdatedAt.Equal(last) {
			last = rn.UpdatedAt
			_ = conn.SetWriteDeadline(time.Now().Add(eventWriteWait))
			if err := conn.WriteJSON(newRunResponse(rn)); err != nil {
				h.logger.Debug("websocket write failed",
					slog.String("run_id", rn.ID),
					slog.String("error", err.Error()),
				)
				return
			}
		}
		if rn.IsTerminal() {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(rn.Status))
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(eventWriteWait))
			return
		}

		select {
		case <-r.Context().Done():
			return
		case <-closed:
			return
		case <-ticker.C:
		}

		next, err := h.runs.FindByID(r.Context(), rn.ID)
		if err != nil {
			h.logger.Error("failed to reload run",
				slog.String("run_id", rn.ID),
				slog.String("error", err.Error()),
			)
			return
		}
		rn = next
	}
}

// start saves the run, launches it in the background and responds 202.
func (h *Handlers) start(w http.ResponseWriter, r *http.Request, rn *run.Run, fn func(context.Context, hydration.Observer) (*hydration.Result, error)) {
	if err := h.runs.Save(r.Context(), rn); err != nil {
		h.logger.Error("failed to create run",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to create run", "RUN_CREATION_FAILED")
		return
	}

	// Start processing in background with a detached context
	// Use context.WithoutCancel to prevent cancellation when the request ends
	if h.enableAsyncProcess {
		go h.execute(context.WithoutCancel(r.Context()), rn, fn)
	}

	h.logger.Info("run created",
		slog.String("run_id", rn.ID),
		slog.String("script", rn.Key.String()),
		slog.Int("line_index", rn.LineIndex),
	)

	writeJSON(w, http.StatusAccepted, CreateRunResponse{
		ID:     rn.ID,
		Status: string(rn.GetStatus()),
	})
}

// execute runs fn with a recorder attached to rn and records the outcome.
func (h *Handlers) execute(ctx context.Context, rn *run.Run, fn func(context.Context, hydration.Observer) (*hydration.Result, error)) {
	rec := run.NewRecorder(rn, h.runs, h.logger)
	res, err := fn(ctx, rec)

	var finishErr error
	switch {
	case errors.Is(err, hydration.ErrCancelled):
		finishErr = rn.Cancel()
	case err != nil:
		h.logger.Error("background hydration failed",
			slog.String("run_id", rn.ID),
			slog.String("error", err.Error()),
		)
		finishErr = rn.Fail(err.Error())
	default:
		finishErr = rn.Finish(res.FailedLines)
	}
	if finishErr != nil {
		h.logger.Error("failed to finish run",
			slog.String("run_id", rn.ID),
			slog.String("error", finishErr.Error()),
		)
	}
	rec.Persist()
}

// decode reads and validates a JSON body, writing the error response on failure.
func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.logger.Warn("failed to decode request body",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return false
	}

	// Validate request
	if err := h.validator.Struct(dst); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return false
	}
	return true
}

func (h *Handlers) findScript(w http.ResponseWriter, r *http.Request, key script.Key) ([]script.Line, bool) {
	lines, err := h.scripts.Find(r.Context(), key)
	if err != nil {
		if errors.Is(err, script.ErrNotFound) {
			writeError(w, http.StatusNotFound, "script not found", "SCRIPT_NOT_FOUND")
			return nil, false
		}
		h.logger.Error("failed to get script",
			slog.String("script", key.String()),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get script", "SCRIPT_FETCH_FAILED")
		return nil, false
	}
	return lines, true
}

func (h *Handlers) findRun(w http.ResponseWriter, r *http.Request) (*run.Run, bool) {
	runID := r.PathValue("id")
	if runID == "" {
		writeError(w, http.StatusBadRequest, "run ID is required", "MISSING_RUN_ID")
		return nil, false
	}

	rn, err := h.runs.FindByID(r.Context(), runID)
	if err != nil {
		if errors.Is(err, run.ErrRunNotFound) {
			writeError(w, http.StatusNotFound, "run not found", "RUN_NOT_FOUND")
			return nil, false
		}
		h.logger.Error("failed to get run",
			slog.String("run_id", runID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get run", "RUN_FETCH_FAILED")
		return nil, false
	}
	return rn, true
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
