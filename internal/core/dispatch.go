package core

import (
	"context"

	"golang.org/x/sync/errgroup"

	"bookforge/internal/book"
)

// unitResult is one unit's generation outcome, kept in plan order so
// the serial check pass walks units the way readers will.
type unitResult struct {
	plan book.UnitPlan
	text string
	err  error
}

// generateBatch generates up to MaxConcurrentUnits units concurrently.
// Generation is the only concurrent step: continuity checks, reviews,
// and gating run serially in unit order after the batch lands. Every
// unit in the batch sees the same narrative digest and the same prior
// text, the tail of the last unit accepted before the batch started. A
// unit's failure is recorded in its slot rather than returned, so one
// bad unit cannot cancel its siblings mid-write.
func (o *Orchestrator) generateBatch(ctx context.Context, sess *Session, plan book.ChapterPlan, units []book.UnitPlan, priorText string) []unitResult {
	results := make([]unitResult, len(units))

	digest := sess.Tracker.Digest()
	var facts []string
	if sess.Book.Premise != nil {
		facts = sess.Book.Premise.ResearchFacts
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.MaxConcurrentUnits)

	for i, u := range units {
		results[i].plan = u
		g.Go(func() error {
			req := book.SectionRequest{
				BookID:         sess.Book.ID,
				Chapter:        plan.Number,
				Unit:           u.Number,
				UnitTotal:      len(plan.Units),
				ChapterTitle:   plan.Title,
				ChapterSummary: plan.Summary,
				Kind:           plan.Kind,
				Brief:          u.Brief,
				TargetWords:    u.TargetWords,
				PriorText:      priorText,
				StateDigest:    digest,
				ResearchFacts:  facts,
			}
			text, err := o.deps.Generator.GenerateSection(gctx, req)
			results[i].text = text
			results[i].err = err
			return nil
		})
	}

	// Workers never return errors; failures travel in their slots.
	_ = g.Wait()
	return results
}

// batchUnits splits a chapter's pending units into generation batches.
func batchUnits(units []book.UnitPlan, size int) [][]book.UnitPlan {
	if size < 1 {
		size = 1
	}
	var out [][]book.UnitPlan
	for len(units) > size {
		out = append(out, units[:size])
		units = units[size:]
	}
	if len(units) > 0 {
		out = append(out, units)
	}
	return out
}
