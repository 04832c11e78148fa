package hydration

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/maauso/scenepartner-api/internal/align"
	"github.com/maauso/scenepartner-api/internal/aligner"
	"github.com/maauso/scenepartner-api/internal/audio"
	"github.com/maauso/scenepartner-api/internal/batch"
	"github.com/maauso/scenepartner-api/internal/observability"
	"github.com/maauso/scenepartner-api/internal/progress"
	"github.com/maauso/scenepartner-api/internal/script"
	"github.com/maauso/scenepartner-api/internal/storage"
	"github.com/maauso/scenepartner-api/internal/synth"
)

// Defaults applied by NewService.
const (
	DefaultBatchDelay           = 500 * time.Millisecond
	DefaultMaxConcurrentUploads = 5
)

// rateLimitMessage is shown when the synthesis service throttles us.
const rateLimitMessage = "Voice service rate limit reached. Please wait a minute and try again."

// Service runs hydrations.
//
// Dependencies:
//   - synth.Client: batch speech synthesis
//   - aligner.Client: forced alignment of batch audio
//   - storage.Storage: per-line clip upload
//   - script.Repository: optional cache and store written after each run
type Service struct {
	synth   synth.Client
	aligner aligner.Client
	storage storage.Storage
	cache   script.Repository
	store   script.Repository
	metrics *observability.Metrics
	logger  *slog.Logger

	modelID      string
	defaultVoice string
	maxChars     int
	batchDelay   time.Duration
	maxUploads   int
	segmentOpts  audio.SegmentOpts
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithCache sets the local cache written after each run.
func WithCache(r script.Repository) Option {
	return func(s *Service) {
		s.cache = r
	}
}

// WithStore sets the primary store written after each run.
func WithStore(r script.Repository) Option {
	return func(s *Service) {
		s.store = r
	}
}

// WithModelID overrides the synthesis model.
func WithModelID(id string) Option {
	return func(s *Service) {
		s.modelID = id
	}
}

// WithDefaultVoice sets the voice used when neither the line nor the
// request names one.
func WithDefaultVoice(voiceID string) Option {
	return func(s *Service) {
		s.defaultVoice = voiceID
	}
}

// WithBatchMaxChars sets the per-batch character budget.
func WithBatchMaxChars(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxChars = n
		}
	}
}

// WithBatchDelay sets the minimum spacing between batch starts.
// Zero disables spacing.
func WithBatchDelay(d time.Duration) Option {
	return func(s *Service) {
		if d >= 0 {
			s.batchDelay = d
		}
	}
}

// WithMaxConcurrentUploads sets how many clips upload at once.
func WithMaxConcurrentUploads(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxUploads = n
		}
	}
}

// WithPadding sets the fixed start and end padding in seconds.
func WithPadding(start, end float64) Option {
	return func(s *Service) {
		s.segmentOpts.StartPadding = start
		s.segmentOpts.EndPadding = end
	}
}

// NewService creates a Service.
func NewService(sc synth.Client, ac aligner.Client, st storage.Storage, opts ...Option) *Service {
	s := &Service{
		synth:       sc,
		aligner:     ac,
		storage:     st,
		logger:      slog.Default(),
		maxChars:    batch.DefaultMaxChars,
		batchDelay:  DefaultBatchDelay,
		maxUploads:  DefaultMaxConcurrentUploads,
		segmentOpts: audio.DefaultSegmentOpts(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Hydrate attaches audio to every line of req that needs it: lines without
// audio (or all lines with Force) that are not read by the user and have
// speakable text.
//
// Synthesis or alignment failure aborts the run and returns ErrSynthesisFailed
// or ErrAlignmentFailed. Lines that could not be matched, cut or uploaded are
// reported in Result.FailedLines and do not produce an error. Cancellation is
// honoured between batches and before each upload, never during a synthesis
// call; if it happens during uploads the partial result is returned together
// with ErrCancelled.
func (s *Service) Hydrate(ctx context.Context, req Request, obs Observer) (*Result, error) {
	return s.run(ctx, req, newLockedObserver(obs), nil)
}

// RetryLine re-hydrates a single line through a one-line batch, replacing
// any audio it already has. The rest of the collection is returned unchanged.
func (s *Service) RetryLine(ctx context.Context, req Request, lineIndex int, obs Observer) (*Result, error) {
	if !slices.ContainsFunc(req.Lines, func(l script.Line) bool { return l.Index == lineIndex }) {
		return nil, fmt.Errorf("%w: %d", ErrLineNotFound, lineIndex)
	}
	return s.run(ctx, req, newLockedObserver(obs), map[int]bool{lineIndex: true})
}

// pendingLine is a line selected for hydration with its sanitized text.
type pendingLine struct {
	pos   int
	line  script.Line
	entry script.DialogueEntry
}

func (s *Service) run(ctx context.Context, req Request, obs Observer, only map[int]bool) (*Result, error) {
	started := time.Now()
	log := s.logger.With(
		slog.String("user_id", req.Key.UserID),
		slog.String("script_id", req.Key.ScriptID),
	)

	lines := script.Clone(req.Lines)
	slices.SortStableFunc(lines, func(a, b script.Line) int { return a.Index - b.Index })

	pending, err := s.selectLines(lines, req, only)
	if err != nil {
		return nil, err
	}

	if len(pending) == 0 {
		for _, l := range lines {
			if l.HasAudio() {
				obs.OnStatus(l.Index, script.StatusReady)
			}
		}
		obs.OnProgress(100)
		log.Info("no lines need audio", slog.Int("lines", len(lines)))
		return &Result{Succeeded: true, NoWork: true, Lines: lines, Timings: align.TimingMap{}}, nil
	}

	s.metrics.RunStarted()
	log.Info("hydration started",
		slog.Int("lines", len(lines)),
		slog.Int("pending", len(pending)),
	)

	for _, p := range pending {
		obs.OnStatus(p.line.Index, script.StatusPending)
	}

	res, err := s.hydrate(ctx, req.Key, lines, pending, obs, log)

	outcome := outcomeOf(res, err)
	s.metrics.RunFinished(outcome, time.Since(started))
	log.Info("hydration finished",
		slog.String("outcome", outcome),
		slog.Duration("elapsed", time.Since(started)),
	)
	return res, err
}

// selectLines returns the lines that need audio, with their dialogue entries.
func (s *Service) selectLines(lines []script.Line, req Request, only map[int]bool) ([]pendingLine, error) {
	var pending []pendingLine
	for pos, l := range lines {
		if only != nil {
			if !only[l.Index] {
				continue
			}
		} else {
			if l.HasAudio() && !req.Force {
				continue
			}
			if isUserCharacter(l.Character, req.UserCharacter) {
				continue
			}
		}

		text := script.Sanitize(l.Text)
		if !align.Speakable(text) {
			continue
		}

		voice := s.resolveVoice(l, req.Voices)
		if voice == "" {
			return nil, fmt.Errorf("%w: %d", ErrNoVoice, l.Index)
		}

		sanitized := l
		sanitized.Text = text
		pending = append(pending, pendingLine{
			pos:   pos,
			line:  sanitized,
			entry: script.DialogueEntry{Text: text, VoiceID: voice, LineIndex: l.Index},
		})
	}
	return pending, nil
}

func (s *Service) resolveVoice(l script.Line, voices map[string]string) string {
	if l.VoiceID != "" {
		return l.VoiceID
	}
	if v := voices[l.Character]; v != "" {
		return v
	}
	return s.defaultVoice
}

func isUserCharacter(character, user string) bool {
	return user != "" && strings.EqualFold(strings.TrimSpace(character), strings.TrimSpace(user))
}

// hydrate runs the batch loop, the upload phase and persistence.
func (s *Service) hydrate(ctx context.Context, key script.Key, lines []script.Line, pending []pendingLine, obs Observer, log *slog.Logger) (*Result, error) {
	entries := make([]script.DialogueEntry, len(pending))
	byIndex := make(map[int]pendingLine, len(pending))
	for i, p := range pending {
		entries[i] = p.entry
		byIndex[p.line.Index] = p
	}

	batches := batch.Split(entries, s.maxChars)
	prog := newTracker(progress.NewWeighted(len(batches), len(pending)), obs)

	limit := rate.Inf
	if s.batchDelay > 0 {
		limit = rate.Every(s.batchDelay)
	}
	limiter := rate.NewLimiter(limit, 1)

	timings := align.TimingMap{}
	segments := audio.SegmentMap{}

	for i, b := range batches {
		if err := limiter.Wait(ctx); err != nil {
			s.failAll(pending, obs, observability.StageSynthesis)
			return nil, fmt.Errorf("%w before batch %d: %w", ErrCancelled, i, err)
		}

		tm, sm, err := s.processBatch(ctx, i, len(batches), b, byIndex, prog, obs, log)
		if err != nil {
			stage := observability.StageSynthesis
			if errors.Is(err, ErrAlignmentFailed) {
				stage = observability.StageAlignment
			}
			s.failAll(pending, obs, stage)
			return nil, err
		}

		timings = timings.Merge(tm)
		segments = segments.Merge(sm)
	}

	var failed []int
	for _, p := range pending {
		idx := p.line.Index
		if _, ok := segments[idx]; ok {
			continue
		}
		stage := observability.StageSegment
		if _, ok := timings[idx]; !ok {
			stage = observability.StageAlignment
		}
		s.metrics.LinesFailed(stage, 1)
		obs.OnStatus(idx, script.StatusFailed)
		failed = append(failed, idx)
	}
	if len(failed) > 0 {
		log.Warn("lines without audio after alignment", slog.Any("line_indexes", failed))
	}

	obs.OnStageMessage("Uploading audio")
	uploaded, uploadFailed := s.uploadAll(ctx, key, segments, prog, obs, log)
	failed = append(failed, uploadFailed...)
	slices.Sort(failed)

	hydrated := make([]script.Line, 0, len(uploaded))
	for _, u := range uploaded {
		p := byIndex[u.lineIndex]
		t := timings[u.lineIndex]
		lines[p.pos] = lines[p.pos].WithAudio(script.AudioClip{
			URL:       u.url,
			StartTime: t.StartTime,
			EndTime:   t.EndTime,
			Duration:  u.duration,
		})
		hydrated = append(hydrated, lines[p.pos])
	}

	s.persist(context.WithoutCancel(ctx), key, lines, hydrated, log)

	res := &Result{
		Succeeded:   len(failed) == 0,
		FailedLines: failed,
		Lines:       lines,
		Timings:     timings,
	}

	if res.Succeeded {
		obs.OnStageMessage("Audio ready")
	} else {
		obs.OnStageMessage(fmt.Sprintf("%d of %d lines need a retry", len(failed), len(pending)))
	}
	obs.OnProgress(100)

	if err := ctx.Err(); err != nil {
		return res, fmt.Errorf("%w during upload: %w", ErrCancelled, err)
	}
	return res, nil
}

// processBatch synthesizes, aligns, maps and cuts one batch.
func (s *Service) processBatch(
	ctx context.Context,
	i, total int,
	b batch.Batch,
	byIndex map[int]pendingLine,
	prog *tracker,
	obs Observer,
	log *slog.Logger,
) (align.TimingMap, audio.SegmentMap, error) {
	log = log.With(slog.Int("batch", i))
	obs.OnStageMessage(fmt.Sprintf("Generating audio (%d/%d)", i+1, total))

	// Synthesis runs to completion once issued.
	started := time.Now()
	pcm, err := s.synth.Synthesize(context.WithoutCancel(ctx), synth.Request{Dialogue: b, ModelID: s.modelID})
	s.metrics.ObserveStage(observability.StageSynthesis, time.Since(started))
	if err != nil {
		s.metrics.BatchProcessed(false)
		if errors.Is(err, synth.ErrRateLimited) {
			obs.OnStageMessage(rateLimitMessage)
		}
		log.Error("synthesis failed", slog.String("error", err.Error()))
		return nil, nil, fmt.Errorf("%w: batch %d: %w", ErrSynthesisFailed, i, err)
	}
	s.metrics.AudioBytes("synthesized", len(pcm))
	log.Debug("batch synthesized",
		slog.Int("lines", len(b)),
		slog.String("size", humanize.Bytes(uint64(len(pcm)))),
	)
	prog.step()

	batchLines := make([]script.Line, len(b))
	texts := make([]string, len(b))
	for j, e := range b {
		batchLines[j] = byIndex[e.LineIndex].line
		texts[j] = e.Text
	}

	obs.OnStageMessage(fmt.Sprintf("Aligning audio (%d/%d)", i+1, total))
	started = time.Now()
	words, err := s.aligner.Align(ctx, audio.WrapPCM(pcm), align.Transcript(texts))
	s.metrics.ObserveStage(observability.StageAlignment, time.Since(started))
	if err != nil {
		s.metrics.BatchProcessed(false)
		log.Error("alignment failed", slog.String("error", err.Error()))
		return nil, nil, fmt.Errorf("%w: batch %d: %w", ErrAlignmentFailed, i, err)
	}
	prog.step()

	timings := align.MapToLines(words, batchLines, align.MapOpts{Batch: i, Logger: log})
	prog.step()

	segOpts := s.segmentOpts
	segOpts.Batch = i
	segOpts.Logger = log
	segments := audio.SplitIntoSegments(pcm, timings, segOpts)
	prog.step()

	s.metrics.BatchProcessed(true)
	log.Info("batch processed",
		slog.Int("lines", len(b)),
		slog.Int("matched", len(timings)),
		slog.Int("segments", len(segments)),
	)
	return timings, segments, nil
}

// uploaded is the outcome of one successful clip upload.
type uploaded struct {
	lineIndex int
	url       string
	duration  float64
}

// uploadAll uploads every segment with bounded concurrency. Results land in
// per-segment slots so completion order does not matter.
func (s *Service) uploadAll(
	ctx context.Context,
	key script.Key,
	segments audio.SegmentMap,
	prog *tracker,
	obs Observer,
	log *slog.Logger,
) ([]uploaded, []int) {
	indexes := make([]int, 0, len(segments))
	for idx := range segments {
		indexes = append(indexes, idx)
	}
	slices.Sort(indexes)

	results := make([]*uploaded, len(indexes))

	var g errgroup.Group
	g.SetLimit(s.maxUploads)
	for slot, idx := range indexes {
		seg := segments[idx]
		g.Go(func() error {
			results[slot] = s.upload(ctx, key, seg, obs, log)
			prog.step()
			return nil
		})
	}
	_ = g.Wait()

	var ok []uploaded
	var failed []int
	for slot, r := range results {
		if r == nil {
			failed = append(failed, indexes[slot])
			continue
		}
		ok = append(ok, *r)
	}
	return ok, failed
}

// upload stores one clip. It returns nil on failure or cancellation.
func (s *Service) upload(ctx context.Context, key script.Key, seg audio.Segment, obs Observer, log *slog.Logger) *uploaded {
	log = log.With(slog.Int("line_index", seg.LineIndex))

	if err := ctx.Err(); err != nil {
		log.Warn("upload skipped", slog.String("error", err.Error()))
		s.metrics.LinesFailed(observability.StageUpload, 1)
		obs.OnStatus(seg.LineIndex, script.StatusFailed)
		return nil
	}

	obs.OnStatus(seg.LineIndex, script.StatusUpdating)

	started := time.Now()
	url, err := s.storage.Upload(ctx, storage.SegmentKey(key.UserID, key.ScriptID, seg.LineIndex), bytes.NewReader(seg.WAV))
	s.metrics.ObserveStage(observability.StageUpload, time.Since(started))
	if err != nil {
		log.Error("upload failed", slog.String("error", err.Error()))
		s.metrics.LinesFailed(observability.StageUpload, 1)
		obs.OnStatus(seg.LineIndex, script.StatusFailed)
		return nil
	}

	s.metrics.AudioBytes("uploaded", len(seg.WAV))
	log.Debug("clip uploaded",
		slog.String("url", url),
		slog.String("size", humanize.Bytes(uint64(len(seg.WAV)))),
	)
	obs.OnStatus(seg.LineIndex, script.StatusReady)
	return &uploaded{lineIndex: seg.LineIndex, url: url, duration: seg.Duration()}
}

// persist attaches the clips of hydrated to the collection currently held by
// the cache and the store, matching by line index, so writes made while the
// run was in flight survive. When nothing is held yet, lines is saved as is.
// Failures are logged only.
func (s *Service) persist(ctx context.Context, key script.Key, lines, hydrated []script.Line, log *slog.Logger) {
	merge := func(current []script.Line) ([]script.Line, error) {
		if current == nil {
			return lines, nil
		}
		return script.MergeAudio(current, hydrated), nil
	}

	if s.cache != nil {
		if err := script.Update(ctx, s.cache, key, merge); err != nil {
			log.Warn("failed to cache lines", slog.String("error", err.Error()))
			if ev, ok := s.cache.(script.Evicter); ok {
				_ = ev.Delete(key)
			}
		}
	}
	if s.store != nil {
		if err := script.Update(ctx, s.store, key, merge); err != nil {
			log.Warn("failed to store lines", slog.String("error", err.Error()))
		}
	}
}

// failAll marks every pending line failed after a fatal error.
func (s *Service) failAll(pending []pendingLine, obs Observer, stage string) {
	s.metrics.LinesFailed(stage, len(pending))
	for _, p := range pending {
		obs.OnStatus(p.line.Index, script.StatusFailed)
	}
}

func outcomeOf(res *Result, err error) string {
	switch {
	case errors.Is(err, ErrCancelled):
		return OutcomeCancelled
	case err != nil:
		return OutcomeFailed
	default:
		return res.Outcome()
	}
}

// tracker counts completed operations and reports whole percentages.
// Reporting happens under the lock so observers see non-decreasing values.
type tracker struct {
	mu        sync.Mutex
	fn        progress.Func
	obs       Observer
	completed int
}

func newTracker(fn progress.Func, obs Observer) *tracker {
	return &tracker{fn: fn, obs: obs}
}

func (t *tracker) step() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.completed++
	t.obs.OnProgress(int(math.Floor(t.fn(t.completed))))
}
