package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"bookforge/internal/book"
)

// Pipeline stage names used in errors, logs, and progress events.
const (
	StagePremise     = "premise"
	StageOutline     = "outline"
	StageChapters    = "chapters"
	StageSupervision = "supervision"
)

// Deps are the collaborators one orchestrator drives. NewTracker is a
// factory because every run owns a fresh continuity tracker.
type Deps struct {
	Generator  ContentGenerator
	Store      BookStore
	Files      Storage
	NewTracker func() ContinuityChecker
	Reporter   Reporter
	Logger     *slog.Logger
}

// Options tune one orchestrator instance.
type Options struct {
	MaxConcurrentUnits int
	MaxUnitRetries     int
	IdealChapterWords  int
	Sizing             book.UnitSizing
	Gate               GateConfig
	Retry              Policy
}

func DefaultOptions() Options {
	return Options{
		MaxConcurrentUnits: 3,
		MaxUnitRetries:     2,
		IdealChapterWords:  3000,
		Sizing:             book.DefaultUnitSizing(),
		Gate:               DefaultGateConfig(),
		Retry:              DefaultPolicy(),
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.MaxConcurrentUnits < 1 {
		o.MaxConcurrentUnits = def.MaxConcurrentUnits
	}
	if o.MaxUnitRetries < 1 {
		o.MaxUnitRetries = def.MaxUnitRetries
	}
	if o.IdealChapterWords < 1 {
		o.IdealChapterWords = def.IdealChapterWords
	}
	if o.Sizing.IdealUnitWords < 1 {
		o.Sizing = def.Sizing
	}
	if o.Gate.RejectBelow == 0 && o.Gate.PolishAt == 0 {
		o.Gate = def.Gate
	}
	if o.Retry.MaxAttempts < 1 {
		o.Retry = def.Retry
	}
	return o
}

// NewBookRequest starts a book from a concept. ID is optional; leaving
// it empty assigns a fresh one. Chapters pins the chapter count when
// positive, otherwise it is derived from TargetWords.
type NewBookRequest struct {
	ID          string
	Concept     string
	Genre       string
	Themes      []string
	TargetWords int
	Chapters    int
}

func (r NewBookRequest) Validate() error {
	if strings.TrimSpace(r.Concept) == "" {
		return &ValidationError{Field: "concept", Message: "cannot be empty"}
	}
	if r.TargetWords < 1 {
		return &ValidationError{Field: "target_words", Message: "must be positive"}
	}
	if r.Chapters < 0 {
		return &ValidationError{Field: "chapters", Message: "cannot be negative"}
	}
	return nil
}

// Orchestrator drives a book through premise, outline, chapter
// generation, and supervision. One orchestrator serves many books, but
// each book runs at most once at a time.
type Orchestrator struct {
	deps        Deps
	opts        Options
	gate        *Gate
	checkpoints *CheckpointManager
	registry    *activeRegistry
	logger      *slog.Logger
}

func New(deps Deps, opts Options) (*Orchestrator, error) {
	if deps.Generator == nil {
		return nil, &ValidationError{Field: "generator", Message: "required"}
	}
	if deps.Store == nil {
		return nil, &ValidationError{Field: "store", Message: "required"}
	}
	if deps.Files == nil {
		return nil, &ValidationError{Field: "files", Message: "required"}
	}
	if deps.NewTracker == nil {
		return nil, &ValidationError{Field: "new_tracker", Message: "required"}
	}
	if deps.Reporter == nil {
		deps.Reporter = NopReporter{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	opts = opts.withDefaults()
	gate, err := NewGate(opts.Gate)
	if err != nil {
		return nil, err
	}

	return &Orchestrator{
		deps:        deps,
		opts:        opts,
		gate:        gate,
		checkpoints: NewCheckpointManager(deps.Files, deps.Logger),
		registry:    newActiveRegistry(),
		logger:      deps.Logger,
	}, nil
}

// Checkpoints exposes the checkpoint manager for operator tooling.
func (o *Orchestrator) Checkpoints() *CheckpointManager {
	return o.checkpoints
}

// Run generates a book from scratch. If the request names a book that
// already left a checkpoint behind, the run resumes it instead of
// starting over.
func (o *Orchestrator) Run(ctx context.Context, req NewBookRequest) (*book.Book, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	id := req.ID
	if id == "" {
		id = uuid.New().String()
	}
	if err := o.registry.acquire(id); err != nil {
		return nil, err
	}
	defer o.registry.release(id)

	if req.ID != "" {
		_, err := o.checkpoints.Load(ctx, id)
		switch {
		case err == nil:
			o.logger.Info("checkpoint found, resuming instead of restarting", "book_id", id)
			return o.resumeLocked(ctx, id)
		case errors.Is(err, ErrNoCheckpoint):
			// Fresh run.
		default:
			return nil, err
		}
	}

	now := time.Now().UTC()
	sess := &Session{
		Book: &book.Book{
			ID:          id,
			Title:       req.Concept,
			Status:      book.StatusDraft,
			TargetWords: req.TargetWords,
			CreatedAt:   now,
			UpdatedAt:   now,
		},
		Tracker:    o.deps.NewTracker(),
		Queue:      NewRetryQueue(o.opts.Retry, o.logger),
		Checkpoint: &Checkpoint{BookID: id},
		StartedAt:  now,
	}
	if err := o.deps.Store.SaveBook(ctx, sess.Book); err != nil {
		return nil, fmt.Errorf("saving book: %w", err)
	}

	o.logger.Info("starting book generation",
		"book_id", id,
		"target_words", req.TargetWords)

	if err := o.stagePremise(ctx, sess, req); err != nil {
		return sess.Book, o.fail(ctx, sess, StagePremise, err)
	}
	if err := o.stageOutline(ctx, sess, req); err != nil {
		return sess.Book, o.fail(ctx, sess, StageOutline, err)
	}
	return o.runFromChapters(ctx, sess)
}

// Resume picks up an interrupted run from its checkpoint. Completed
// chapters and accepted units are never regenerated.
func (o *Orchestrator) Resume(ctx context.Context, bookID string) (*book.Book, error) {
	if err := o.registry.acquire(bookID); err != nil {
		return nil, err
	}
	defer o.registry.release(bookID)
	return o.resumeLocked(ctx, bookID)
}

func (o *Orchestrator) resumeLocked(ctx context.Context, bookID string) (*book.Book, error) {
	cp, err := o.checkpoints.Load(ctx, bookID)
	if err != nil {
		return nil, err
	}

	b, err := o.deps.Store.GetBook(ctx, bookID)
	if err != nil {
		return nil, fmt.Errorf("resume %s: loading book: %w", bookID, err)
	}
	outline, err := o.deps.Store.GetOutline(ctx, bookID)
	if err != nil {
		return nil, fmt.Errorf("resume %s: loading outline: %w", bookID, err)
	}

	tracker := o.deps.NewTracker()
	tracker.Restore(cp.State)
	queue := NewRetryQueue(o.opts.Retry, o.logger)
	queue.Restore(cp.FailedUnits)

	sess := &Session{
		Book:       b,
		Outline:    outline,
		Tracker:    tracker,
		Queue:      queue,
		Checkpoint: cp,
		StartedAt:  time.Now().UTC(),
		Resumed:    true,
	}

	o.logger.Info("resuming book generation",
		"book_id", bookID,
		"chapters_done", len(cp.CompletedChapters),
		"queued_failures", len(cp.FailedUnits))

	return o.runFromChapters(ctx, sess)
}

// runFromChapters runs the tail of the pipeline shared by fresh runs
// and resumes.
func (o *Orchestrator) runFromChapters(ctx context.Context, sess *Session) (*book.Book, error) {
	if err := o.stageChapters(ctx, sess); err != nil {
		return sess.Book, o.fail(ctx, sess, StageChapters, err)
	}
	if err := o.stageSupervision(ctx, sess); err != nil {
		return sess.Book, o.fail(ctx, sess, StageSupervision, err)
	}
	return sess.Book, nil
}

// fail routes a stage error. Cancellation is treated like a crash: the
// checkpoint already on disk stays authoritative and the book keeps
// its in-flight status so a resume can continue. Anything else marks
// the book needs_revision, checkpoints that, and surfaces the error.
func (o *Orchestrator) fail(ctx context.Context, sess *Session, stage string, err error) error {
	if errors.Is(err, context.Canceled) || ctx.Err() != nil {
		o.logger.Info("run interrupted, checkpoint preserved",
			"book_id", sess.Book.ID,
			"stage", stage)
		return &StageError{Stage: stage, BookID: sess.Book.ID, Err: err}
	}

	o.logger.Error("stage failed",
		"book_id", sess.Book.ID,
		"stage", stage,
		"error", err)

	sess.Book.Status = book.StatusNeedsRevision
	if uerr := o.deps.Store.UpdateBookStatus(ctx, sess.Book.ID, book.StatusNeedsRevision); uerr != nil {
		o.logger.Error("marking book needs_revision", "book_id", sess.Book.ID, "error", uerr)
	}

	sess.Checkpoint.Status = book.StatusNeedsRevision
	sess.Checkpoint.State = sess.Tracker.Snapshot()
	sess.Checkpoint.FailedUnits = sess.Queue.Snapshot()
	if cerr := o.checkpoints.Save(ctx, sess.Checkpoint); cerr != nil {
		o.logger.Error("saving failure checkpoint", "book_id", sess.Book.ID, "error", cerr)
	}

	if rerr := o.writeReport(ctx, sess, 0, err.Error()); rerr != nil {
		o.logger.Error("writing failure report", "book_id", sess.Book.ID, "error", rerr)
	}

	o.deps.Reporter.Report(ctx, Progress{
		BookID: sess.Book.ID,
		Step:   stage,
		Status: book.StatusNeedsRevision,
		Err:    err,
	})
	return &StageError{Stage: stage, BookID: sess.Book.ID, Err: err}
}

func (o *Orchestrator) setStatus(ctx context.Context, sess *Session, status book.BookStatus) error {
	sess.Book.Status = status
	sess.Book.UpdatedAt = time.Now().UTC()
	return o.deps.Store.UpdateBookStatus(ctx, sess.Book.ID, status)
}

func (o *Orchestrator) stagePremise(ctx context.Context, sess *Session, req NewBookRequest) error {
	if err := o.setStatus(ctx, sess, book.StatusPremise); err != nil {
		return err
	}
	o.deps.Reporter.Report(ctx, Progress{BookID: sess.Book.ID, Step: StagePremise, Status: book.StatusPremise})

	premise, err := o.deps.Generator.GeneratePremise(ctx, book.PremiseRequest{
		Concept:     req.Concept,
		Genre:       req.Genre,
		Themes:      req.Themes,
		TargetWords: req.TargetWords,
	})
	if err != nil {
		return fmt.Errorf("generating premise: %w", err)
	}

	sess.Book.Premise = premise
	if premise.Title != "" {
		sess.Book.Title = premise.Title
	}
	sess.Book.UpdatedAt = time.Now().UTC()
	if err := o.deps.Store.SaveBook(ctx, sess.Book); err != nil {
		return fmt.Errorf("saving premise: %w", err)
	}

	o.logger.Info("premise complete",
		"book_id", sess.Book.ID,
		"title", sess.Book.Title,
		"characters", len(premise.MainCharacters))
	return nil
}

func (o *Orchestrator) stageOutline(ctx context.Context, sess *Session, req NewBookRequest) error {
	if err := o.setStatus(ctx, sess, book.StatusOutline); err != nil {
		return err
	}
	o.deps.Reporter.Report(ctx, Progress{BookID: sess.Book.ID, Step: StageOutline, Status: book.StatusOutline})

	chapterCount := req.Chapters
	if chapterCount == 0 {
		chapterCount = book.OptimalChapterCount(req.TargetWords, o.opts.IdealChapterWords)
	}
	targets, err := book.ApportionWords(req.TargetWords, chapterCount)
	if err != nil {
		return err
	}

	skeleton := make([]book.ChapterPlan, chapterCount)
	for i := range skeleton {
		number := i + 1
		units, err := book.PlanUnits(targets[i], o.opts.Sizing)
		if err != nil {
			return fmt.Errorf("planning chapter %d: %w", number, err)
		}
		skeleton[i] = book.ChapterPlan{
			Number:      number,
			Kind:        book.ChapterKindFor(number, chapterCount),
			TargetWords: targets[i],
			Units:       units,
		}
	}

	outline, err := o.deps.Generator.GenerateOutline(ctx, book.OutlineRequest{
		BookID:   sess.Book.ID,
		Premise:  sess.Book.Premise,
		Chapters: skeleton,
	})
	if err != nil {
		return fmt.Errorf("generating outline: %w", err)
	}
	sess.Outline = outline

	var seeds []book.CharacterSeed
	var facts []string
	if sess.Book.Premise != nil {
		seeds = sess.Book.Premise.MainCharacters
		facts = sess.Book.Premise.ResearchFacts
	}
	sess.Tracker.Initialize(sess.Book.ID, seeds, outline, facts)

	if err := o.deps.Store.SaveOutline(ctx, outline); err != nil {
		return fmt.Errorf("saving outline: %w", err)
	}

	sess.Checkpoint.Status = book.StatusOutline
	sess.Checkpoint.State = sess.Tracker.Snapshot()
	if err := o.checkpoints.Save(ctx, sess.Checkpoint); err != nil {
		return fmt.Errorf("checkpointing outline: %w", err)
	}

	o.logger.Info("outline complete",
		"book_id", sess.Book.ID,
		"chapters", len(outline.Chapters))
	return nil
}

func (o *Orchestrator) stageChapters(ctx context.Context, sess *Session) error {
	if err := o.setStatus(ctx, sess, book.StatusGenerating); err != nil {
		return err
	}

	total := len(sess.Outline.Chapters)
	for _, plan := range sess.Outline.Chapters {
		if sess.Checkpoint.ChapterDone(plan.Number) {
			o.logger.Debug("chapter already complete, skipping",
				"book_id", sess.Book.ID,
				"chapter", plan.Number)
			continue
		}
		if err := o.runChapter(ctx, sess, plan); err != nil {
			return err
		}

		done := len(sess.Checkpoint.CompletedChapters)
		o.deps.Reporter.Report(ctx, Progress{
			BookID:          sess.Book.ID,
			Step:            StageChapters,
			CurrentChapter:  plan.Number,
			TotalChapters:   total,
			PercentComplete: float64(done) / float64(total) * 100,
			Status:          book.StatusGenerating,
		})
	}
	return nil
}

// runChapter generates a chapter's pending units in bounded batches,
// then assembles and checkpoints the chapter.
func (o *Orchestrator) runChapter(ctx context.Context, sess *Session, plan book.ChapterPlan) error {
	var pending []book.UnitPlan
	for _, u := range plan.Units {
		if !sess.Checkpoint.UnitDone(plan.Number, u.Number) {
			pending = append(pending, u)
		}
	}

	prior, err := o.lastAcceptedText(ctx, sess, plan.Number)
	if err != nil {
		return err
	}

	for _, batch := range batchUnits(pending, o.opts.MaxConcurrentUnits) {
		results := o.generateBatch(ctx, sess, plan, batch, prior)
		for _, res := range results {
			text, err := o.processUnit(ctx, sess, plan, res)
			if err != nil {
				return err
			}
			if text != "" {
				prior = text
			}
		}
	}

	if err := o.assembleChapter(ctx, sess, plan); err != nil {
		return err
	}

	sess.Checkpoint.MarkChapter(plan.Number)
	sess.Checkpoint.Status = book.StatusGenerating
	sess.Checkpoint.State = sess.Tracker.Snapshot()
	sess.Checkpoint.FailedUnits = sess.Queue.Snapshot()
	if err := o.checkpoints.Save(ctx, sess.Checkpoint); err != nil {
		return fmt.Errorf("checkpointing chapter %d: %w", plan.Number, err)
	}

	o.logger.Info("chapter complete",
		"book_id", sess.Book.ID,
		"chapter", plan.Number,
		"queued_failures", sess.Queue.Len())
	return nil
}

// processUnit runs the serial acceptance path for one generated unit.
// Failures land in the retry queue and return no error; only storage
// faults and cancellation abort the chapter. On acceptance it returns
// the stored text so the caller can thread it to the next batch.
func (o *Orchestrator) processUnit(ctx context.Context, sess *Session, plan book.ChapterPlan, res unitResult) (string, error) {
	if res.err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		o.enqueueFailure(sess, plan, res.plan, ReasonGeneration, res.err.Error(), nil)
		return "", nil
	}

	text, scores, err := o.checkAndGate(ctx, sess, plan, res.plan, res.text)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		var uf *unitFailure
		if errors.As(err, &uf) {
			o.enqueueFailure(sess, plan, res.plan, uf.reason, uf.detail, uf.scores)
			return "", nil
		}
		return "", err
	}

	if err := o.acceptUnit(ctx, sess, plan, res.plan, text, scores); err != nil {
		return "", err
	}
	return text, nil
}

// unitFailure is the internal verdict for a unit that should go to the
// retry queue rather than abort its chapter.
type unitFailure struct {
	reason string
	detail string
	scores *book.Scores
	err    error
}

func (f *unitFailure) Error() string {
	return fmt.Sprintf("%s: %s", f.reason, f.detail)
}

func (f *unitFailure) Unwrap() error {
	return f.err
}

// checkAndGate runs continuity check, supervision review, and the
// quality gate over generated text. It returns the text to store
// (polished when the gate says so) and the unit's scores.
func (o *Orchestrator) checkAndGate(ctx context.Context, sess *Session, plan book.ChapterPlan, unit book.UnitPlan, text string) (string, book.Scores, error) {
	report, err := sess.Tracker.CheckUnit(ctx, plan.Number, unit.Number, text)
	if err != nil {
		if ctx.Err() != nil {
			return "", book.Scores{}, ctx.Err()
		}
		return "", book.Scores{}, &unitFailure{reason: ReasonContinuity, detail: err.Error(), err: err}
	}

	review, err := o.deps.Generator.ReviewContent(ctx, book.ReviewRequest{
		BookID:         sess.Book.ID,
		Chapter:        plan.Number,
		Unit:           unit.Number,
		ChapterSummary: plan.Summary,
		Content:        text,
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", book.Scores{}, ctx.Err()
		}
		return "", book.Scores{}, &unitFailure{reason: ReasonReview, detail: err.Error(), err: err}
	}

	verdict, combined := o.gate.Evaluate(report.OverallScore, review.Score)
	scores := book.Scores{
		Consistency: report.OverallScore,
		Supervision: review.Score,
		Combined:    combined,
	}

	o.logger.Debug("unit gated",
		"book_id", sess.Book.ID,
		"chapter", plan.Number,
		"unit", unit.Number,
		"consistency", report.OverallScore,
		"supervision", review.Score,
		"verdict", verdict.String())

	switch verdict {
	case VerdictReject:
		detail := fmt.Sprintf("combined score %.1f below %.1f", combined, o.gate.cfg.RejectBelow)
		if len(report.Recommendations) > 0 {
			detail = report.Recommendations[0]
		} else if len(review.Notes) > 0 {
			detail = review.Notes[0]
		}
		return "", scores, &unitFailure{reason: ReasonQuality, detail: detail, scores: &scores}

	case VerdictPolish:
		polished, perr := o.deps.Generator.PolishContent(ctx, book.PolishRequest{
			Content:     text,
			Notes:       review.Notes,
			TargetWords: unit.TargetWords,
		})
		if perr != nil {
			if ctx.Err() != nil {
				return "", book.Scores{}, ctx.Err()
			}
			o.logger.Warn("polish failed, keeping original",
				"book_id", sess.Book.ID,
				"chapter", plan.Number,
				"unit", unit.Number,
				"error", perr)
		} else if strings.TrimSpace(polished) != "" {
			text = polished
		}
	}
	return text, scores, nil
}

// acceptUnit persists an accepted unit and marks it in the checkpoint.
func (o *Orchestrator) acceptUnit(ctx context.Context, sess *Session, plan book.ChapterPlan, unit book.UnitPlan, text string, scores book.Scores) error {
	now := time.Now().UTC()
	u := &book.GenerationUnit{
		BookID:      sess.Book.ID,
		Chapter:     plan.Number,
		Unit:        unit.Number,
		TargetWords: unit.TargetWords,
		Status:      book.UnitComplete,
		Content:     text,
		WordCount:   book.CountWords(text),
		Scores:      scores,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := o.deps.Store.SaveUnit(ctx, u); err != nil {
		return fmt.Errorf("saving unit %d.%d: %w", plan.Number, unit.Number, err)
	}
	sess.Checkpoint.MarkUnit(plan.Number, unit.Number)
	return nil
}

func (o *Orchestrator) enqueueFailure(sess *Session, plan book.ChapterPlan, unit book.UnitPlan, reason, detail string, scores *book.Scores) {
	o.logger.Warn("unit failed",
		"book_id", sess.Book.ID,
		"chapter", plan.Number,
		"unit", unit.Number,
		"reason", reason,
		"detail", detail)
	sess.Queue.Enqueue(FailedUnit{
		BookID:      sess.Book.ID,
		Chapter:     plan.Number,
		Unit:        unit.Number,
		TargetWords: unit.TargetWords,
		Reason:      reason,
		Detail:      detail,
		Scores:      scores,
	})
}

// lastAcceptedText finds the most recent stored unit content at or
// before the given chapter, so new prose picks up where the book's
// accepted text actually ends. Resume-safe: it reads the store, not
// memory.
func (o *Orchestrator) lastAcceptedText(ctx context.Context, sess *Session, chapter int) (string, error) {
	for ch := chapter; ch >= 1; ch-- {
		units, err := o.deps.Store.ListUnits(ctx, sess.Book.ID, ch)
		if err != nil {
			return "", fmt.Errorf("listing units for chapter %d: %w", ch, err)
		}
		for i := len(units) - 1; i >= 0; i-- {
			if units[i].Content != "" {
				return units[i].Content, nil
			}
		}
	}
	return "", nil
}

// assembleChapter rebuilds a chapter entity from its stored units.
func (o *Orchestrator) assembleChapter(ctx context.Context, sess *Session, plan book.ChapterPlan) error {
	units, err := o.deps.Store.ListUnits(ctx, sess.Book.ID, plan.Number)
	if err != nil {
		return fmt.Errorf("listing units for chapter %d: %w", plan.Number, err)
	}
	flat := make([]book.GenerationUnit, 0, len(units))
	for _, u := range units {
		flat = append(flat, *u)
	}
	ch := book.AssembleChapter(plan, flat)
	ch.BookID = sess.Book.ID
	if err := o.deps.Store.SaveChapter(ctx, &ch); err != nil {
		return fmt.Errorf("saving chapter %d: %w", plan.Number, err)
	}
	return nil
}

func (o *Orchestrator) stageSupervision(ctx context.Context, sess *Session) error {
	if err := o.setStatus(ctx, sess, book.StatusSupervision); err != nil {
		return err
	}
	o.deps.Reporter.Report(ctx, Progress{BookID: sess.Book.ID, Step: StageSupervision, Status: book.StatusSupervision})

	if err := sess.Queue.Drain(ctx, sess.Book.ID, o.opts.MaxUnitRetries, o.retryUnit(sess)); err != nil {
		return err
	}

	// Refresh chapters the drain may have filled in.
	touched := make(map[int]bool)
	for _, fu := range sess.Checkpoint.FailedUnits {
		touched[fu.Chapter] = true
	}
	for _, plan := range sess.Outline.Chapters {
		if touched[plan.Number] {
			if err := o.assembleChapter(ctx, sess, plan); err != nil {
				return err
			}
		}
	}

	chapters, err := o.deps.Store.ListChapters(ctx, sess.Book.ID)
	if err != nil {
		return fmt.Errorf("listing chapters: %w", err)
	}
	flat := make([]book.Chapter, 0, len(chapters))
	words := 0
	for _, ch := range chapters {
		flat = append(flat, *ch)
		words += ch.WordCount
	}

	manuscript := book.AssembleManuscript(sess.Book, flat)
	sess.Book.WordCount = words
	if err := o.deps.Files.Save(ctx, ManuscriptKey(sess.Book.ID), []byte(manuscript)); err != nil {
		return fmt.Errorf("saving manuscript: %w", err)
	}

	review, err := o.deps.Generator.ReviewContent(ctx, book.ReviewRequest{
		BookID:  sess.Book.ID,
		Content: manuscript,
	})
	if err != nil {
		return fmt.Errorf("final review: %w", err)
	}

	terminal := sess.Queue.List(sess.Book.ID)
	needsRevision := len(terminal) > 0 || review.Score < o.gate.cfg.RejectBelow

	status := book.StatusComplete
	if needsRevision {
		status = book.StatusNeedsRevision
	}

	// Checkpoint once more before the completion transition so a crash
	// here resumes into supervision instead of replaying chapters.
	sess.Checkpoint.Status = status
	sess.Checkpoint.State = sess.Tracker.Snapshot()
	sess.Checkpoint.FailedUnits = sess.Queue.Snapshot()
	if err := o.checkpoints.Save(ctx, sess.Checkpoint); err != nil {
		return fmt.Errorf("checkpointing before completion: %w", err)
	}

	if err := o.setStatus(ctx, sess, status); err != nil {
		return err
	}
	if err := o.writeReport(ctx, sess, review.Score, strings.Join(review.Notes, "; ")); err != nil {
		return err
	}
	if err := o.deps.Store.SaveBook(ctx, sess.Book); err != nil {
		return fmt.Errorf("saving book: %w", err)
	}

	if needsRevision {
		o.logger.Warn("book needs revision",
			"book_id", sess.Book.ID,
			"final_score", review.Score,
			"terminal_failures", len(terminal))
	} else {
		if err := o.checkpoints.Clear(ctx, sess.Book.ID); err != nil {
			return fmt.Errorf("clearing checkpoint: %w", err)
		}
		o.logger.Info("book complete",
			"book_id", sess.Book.ID,
			"words", words,
			"final_score", review.Score,
			"duration", time.Since(sess.StartedAt).Round(time.Second))
	}

	o.deps.Reporter.Report(ctx, Progress{
		BookID:          sess.Book.ID,
		Step:            StageSupervision,
		TotalChapters:   len(sess.Outline.Chapters),
		CurrentChapter:  len(sess.Outline.Chapters),
		PercentComplete: 100,
		Status:          status,
	})
	return nil
}

// retryUnit reconstructs a failed unit's generation context and re-runs
// the full generate, check, gate cycle. Not a blind replay: the prompt
// sees today's narrative state and today's prior text.
func (o *Orchestrator) retryUnit(sess *Session) RetryFunc {
	return func(ctx context.Context, fu *FailedUnit) error {
		plan, unit, err := findPlan(sess.Outline, fu.Chapter, fu.Unit)
		if err != nil {
			return err
		}

		prior, err := o.lastAcceptedText(ctx, sess, fu.Chapter)
		if err != nil {
			return err
		}

		var facts []string
		if sess.Book.Premise != nil {
			facts = sess.Book.Premise.ResearchFacts
		}
		text, err := o.deps.Generator.GenerateSection(ctx, book.SectionRequest{
			BookID:         sess.Book.ID,
			Chapter:        plan.Number,
			Unit:           unit.Number,
			UnitTotal:      len(plan.Units),
			ChapterTitle:   plan.Title,
			ChapterSummary: plan.Summary,
			Kind:           plan.Kind,
			Brief:          unit.Brief,
			TargetWords:    unit.TargetWords,
			PriorText:      prior,
			StateDigest:    sess.Tracker.Digest(),
			ResearchFacts:  facts,
		})
		if err != nil {
			return fmt.Errorf("regenerating: %w", err)
		}

		final, scores, err := o.checkAndGate(ctx, sess, plan, unit, text)
		if err != nil {
			return err
		}
		return o.acceptUnit(ctx, sess, plan, unit, final, scores)
	}
}

func findPlan(outline *book.Outline, chapter, unit int) (book.ChapterPlan, book.UnitPlan, error) {
	for _, plan := range outline.Chapters {
		if plan.Number != chapter {
			continue
		}
		for _, u := range plan.Units {
			if u.Number == unit {
				return plan, u, nil
			}
		}
		return book.ChapterPlan{}, book.UnitPlan{}, fmt.Errorf("unit %d.%d not in outline", chapter, unit)
	}
	return book.ChapterPlan{}, book.UnitPlan{}, fmt.Errorf("chapter %d not in outline", chapter)
}

// writeReport renders and stores the final run report.
func (o *Orchestrator) writeReport(ctx context.Context, sess *Session, finalScore float64, notes string) error {
	report := FinalReport{
		BookID:      sess.Book.ID,
		Title:       sess.Book.Title,
		Status:      string(sess.Book.Status),
		TargetWords: sess.Book.TargetWords,
		ActualWords: sess.Book.WordCount,
		FinalScore:  finalScore,
		FailedUnits: sess.Queue.List(sess.Book.ID),
		Notes:       notes,
		GeneratedAt: time.Now().UTC(),
		Duration:    time.Since(sess.StartedAt).Round(time.Second).String(),
	}

	if sess.Outline != nil {
		for _, plan := range sess.Outline.Chapters {
			cr := ChapterReport{
				Number:      plan.Number,
				Title:       plan.Title,
				TargetWords: plan.TargetWords,
			}
			units, err := o.deps.Store.ListUnits(ctx, sess.Book.ID, plan.Number)
			if err == nil && len(units) > 0 {
				var cons, sup float64
				for _, u := range units {
					cr.ActualWords += u.WordCount
					cons += u.Scores.Consistency
					sup += u.Scores.Supervision
				}
				cr.Consistency = cons / float64(len(units))
				cr.Supervision = sup / float64(len(units))
			}
			report.ChapterScores = append(report.ChapterScores, cr)
		}
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling report: %w", err)
	}
	if err := o.deps.Files.Save(ctx, ReportKey(sess.Book.ID), data); err != nil {
		return fmt.Errorf("saving report: %w", err)
	}
	return nil
}
