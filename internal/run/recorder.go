package run

import (
	"context"
	"log/slog"

	"github.com/maauso/scenepartner-api/internal/script"
)

// Recorder applies hydration events to a Run and persists a snapshot after
// each one so readers polling the repository see live progress.
type Recorder struct {
	run    *Run
	repo   Repository
	logger *slog.Logger
}

// NewRecorder creates a Recorder for r.
func NewRecorder(r *Run, repo Repository, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{run: r, repo: repo, logger: logger}
}

// Run returns the tracked run.
func (rec *Recorder) Run() *Run {
	return rec.run
}

// OnStatus records a line status change.
func (rec *Recorder) OnStatus(lineIndex int, status script.HydrationStatus) {
	if !rec.run.SetLineStatus(lineIndex, status) {
		rec.logger.Warn("ignored line status change",
			slog.String("run_id", rec.run.ID),
			slog.Int("line_index", lineIndex),
			slog.String("status", string(status)),
		)
		return
	}
	rec.save()
}

// OnProgress records overall progress.
func (rec *Recorder) OnProgress(percent int) {
	rec.run.UpdateProgress(percent)
	rec.save()
}

// OnStageMessage records the current stage.
func (rec *Recorder) OnStageMessage(msg string) {
	rec.run.SetStage(msg)
	rec.save()
}

// Persist saves the current state; call it after Finish, Fail or Cancel.
func (rec *Recorder) Persist() {
	rec.save()
}

func (rec *Recorder) save() {
	if err := rec.repo.Save(context.Background(), rec.run); err != nil {
		rec.logger.Error("failed to save run",
			slog.String("run_id", rec.run.ID),
			slog.String("error", err.Error()),
		)
	}
}
