package core

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"bookforge/internal/book"
)

func testQueue() *RetryQueue {
	return NewRetryQueue(fastPolicy(), discardLogger())
}

func TestEnqueueUpsertKeepsRetryHistory(t *testing.T) {
	q := testQueue()

	q.Enqueue(FailedUnit{BookID: "bk-1", Chapter: 2, Unit: 1, Reason: ReasonGeneration, Detail: "timeout"})

	first := q.List("bk-1")[0]
	if first.RetryCount != 0 {
		t.Errorf("fresh entry RetryCount = %d, want 0", first.RetryCount)
	}
	if first.FirstFailedAt.IsZero() || first.LastTriedAt.IsZero() {
		t.Error("fresh entry should carry failure timestamps")
	}

	// One failed drain attempt bumps the count.
	err := q.Drain(context.Background(), "bk-1", 1, func(ctx context.Context, fu *FailedUnit) error {
		return errors.New("still bad")
	})
	if err != nil {
		t.Fatalf("Drain() error = %v", err)
	}

	// Re-enqueueing the same unit refreshes the verdict but must not
	// reset the count or the first-failure time.
	scores := &book.Scores{Consistency: 80, Supervision: 30, Combined: 55}
	q.Enqueue(FailedUnit{BookID: "bk-1", Chapter: 2, Unit: 1, Reason: ReasonQuality, Detail: "flat", Scores: scores})

	got := q.List("bk-1")
	if len(got) != 1 {
		t.Fatalf("queue length = %d, want 1 (upsert)", len(got))
	}
	if got[0].RetryCount != 1 {
		t.Errorf("RetryCount = %d, want 1 preserved across upsert", got[0].RetryCount)
	}
	if !got[0].FirstFailedAt.Equal(first.FirstFailedAt) {
		t.Error("FirstFailedAt should survive the upsert")
	}
	if got[0].Reason != ReasonQuality || got[0].Detail != "flat" {
		t.Errorf("upsert kept stale verdict: reason %q detail %q", got[0].Reason, got[0].Detail)
	}
	if got[0].Scores == nil || got[0].Scores.Combined != 55 {
		t.Error("upsert should adopt the newest scores")
	}
}

func TestListOrdersByChapterThenUnit(t *testing.T) {
	q := testQueue()
	q.Enqueue(FailedUnit{BookID: "bk-1", Chapter: 2, Unit: 2, Reason: ReasonQuality})
	q.Enqueue(FailedUnit{BookID: "bk-1", Chapter: 1, Unit: 2, Reason: ReasonQuality})
	q.Enqueue(FailedUnit{BookID: "bk-2", Chapter: 1, Unit: 1, Reason: ReasonQuality})
	q.Enqueue(FailedUnit{BookID: "bk-1", Chapter: 2, Unit: 1, Reason: ReasonQuality})
	q.Enqueue(FailedUnit{BookID: "bk-1", Chapter: 1, Unit: 1, Reason: ReasonQuality})

	var got [][2]int
	for _, fu := range q.List("bk-1") {
		got = append(got, [2]int{fu.Chapter, fu.Unit})
	}
	want := [][2]int{{1, 1}, {1, 2}, {2, 1}, {2, 2}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("List order mismatch (-want +got):\n%s", diff)
	}

	if n := len(q.List("bk-2")); n != 1 {
		t.Errorf("bk-2 entries = %d, want 1", n)
	}
	if q.Len() != 5 {
		t.Errorf("Len() = %d, want 5 across books", q.Len())
	}
}

func TestDrainRemovesRecoveredUnits(t *testing.T) {
	q := testQueue()
	q.Enqueue(FailedUnit{BookID: "bk-1", Chapter: 1, Unit: 1, Reason: ReasonGeneration})
	q.Enqueue(FailedUnit{BookID: "bk-1", Chapter: 1, Unit: 2, Reason: ReasonQuality})

	var tried [][2]int
	err := q.Drain(context.Background(), "bk-1", 2, func(ctx context.Context, fu *FailedUnit) error {
		tried = append(tried, [2]int{fu.Chapter, fu.Unit})
		return nil
	})
	if err != nil {
		t.Fatalf("Drain() error = %v", err)
	}

	want := [][2]int{{1, 1}, {1, 2}}
	if diff := cmp.Diff(want, tried); diff != "" {
		t.Errorf("retry order mismatch (-want +got):\n%s", diff)
	}
	if q.Len() != 0 {
		t.Errorf("queue length after recovery = %d, want 0", q.Len())
	}
}

func TestDrainRetriesUntilTerminal(t *testing.T) {
	q := testQueue()
	q.Enqueue(FailedUnit{BookID: "bk-1", Chapter: 3, Unit: 1, Reason: ReasonQuality, Detail: "first verdict"})

	calls := 0
	err := q.Drain(context.Background(), "bk-1", 3, func(ctx context.Context, fu *FailedUnit) error {
		calls++
		return errors.New("rejected again")
	})
	if err != nil {
		t.Fatalf("Drain() error = %v (exhaustion is not a drain error)", err)
	}
	if calls != 3 {
		t.Errorf("retry attempts = %d, want 3", calls)
	}

	// The terminal entry stays enumerable for the final report.
	got := q.List("bk-1")
	if len(got) != 1 {
		t.Fatalf("terminal entries = %d, want 1", len(got))
	}
	if got[0].RetryCount != 3 {
		t.Errorf("terminal RetryCount = %d, want 3", got[0].RetryCount)
	}
	if got[0].Detail != "rejected again" {
		t.Errorf("terminal detail = %q, want latest failure", got[0].Detail)
	}

	// A second drain finds nothing eligible and does not re-run it.
	if err := q.Drain(context.Background(), "bk-1", 3, func(ctx context.Context, fu *FailedUnit) error {
		calls++
		return nil
	}); err != nil {
		t.Fatalf("second Drain() error = %v", err)
	}
	if calls != 3 {
		t.Errorf("terminal unit was retried again, attempts = %d", calls)
	}
}

func TestDrainRecoversOnSecondAttempt(t *testing.T) {
	q := testQueue()
	q.Enqueue(FailedUnit{BookID: "bk-1", Chapter: 1, Unit: 1, Reason: ReasonQuality})

	calls := 0
	err := q.Drain(context.Background(), "bk-1", 3, func(ctx context.Context, fu *FailedUnit) error {
		calls++
		if calls == 1 {
			return errors.New("not yet")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Drain() error = %v", err)
	}
	if calls != 2 {
		t.Errorf("retry attempts = %d, want 2", calls)
	}
	if q.Len() != 0 {
		t.Errorf("queue length = %d, want 0 after late recovery", q.Len())
	}
}

func TestDrainStopsWhenContextCanceled(t *testing.T) {
	q := testQueue()
	q.Enqueue(FailedUnit{BookID: "bk-1", Chapter: 1, Unit: 1, Reason: ReasonQuality})
	q.Enqueue(FailedUnit{BookID: "bk-1", Chapter: 1, Unit: 2, Reason: ReasonQuality})

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := q.Drain(ctx, "bk-1", 3, func(ctx context.Context, fu *FailedUnit) error {
		calls++
		cancel()
		return ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Drain() error = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("retry attempts = %d, want 1 before abort", calls)
	}

	// An aborted attempt is not a failure; the retry budget is intact.
	got := q.List("bk-1")
	if len(got) != 2 {
		t.Fatalf("queue length = %d, want 2 untouched", len(got))
	}
	for _, fu := range got {
		if fu.RetryCount != 0 {
			t.Errorf("unit %d.%d RetryCount = %d, want 0 after abort", fu.Chapter, fu.Unit, fu.RetryCount)
		}
	}
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	q := testQueue()
	q.Enqueue(FailedUnit{BookID: "bk-1", Chapter: 1, Unit: 2, Reason: ReasonGeneration, Detail: "timeout"})
	q.Enqueue(FailedUnit{BookID: "bk-1", Chapter: 2, Unit: 1, Reason: ReasonQuality, Detail: "flat",
		Scores: &book.Scores{Consistency: 70, Supervision: 40, Combined: 55}})

	snap := q.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("Snapshot() length = %d, want 2", len(snap))
	}

	restored := testQueue()
	restored.Restore(snap)

	if diff := cmp.Diff(q.List("bk-1"), restored.List("bk-1")); diff != "" {
		t.Errorf("restored queue mismatch (-orig +restored):\n%s", diff)
	}

	// The restored queue owns its entries; draining it must not touch
	// the snapshot.
	err := restored.Drain(context.Background(), "bk-1", 2, func(ctx context.Context, fu *FailedUnit) error {
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if restored.Len() != 0 {
		t.Errorf("restored queue length = %d, want 0", restored.Len())
	}
	if len(snap) != 2 || snap[0].Chapter != 1 {
		t.Error("draining the restored queue corrupted the snapshot")
	}
	if q.Len() != 2 {
		t.Errorf("original queue length = %d, want 2", q.Len())
	}
}

func TestClearDropsOnlyThatBook(t *testing.T) {
	q := testQueue()
	q.Enqueue(FailedUnit{BookID: "bk-1", Chapter: 1, Unit: 1, Reason: ReasonQuality})
	q.Enqueue(FailedUnit{BookID: "bk-2", Chapter: 1, Unit: 1, Reason: ReasonQuality})

	q.Clear("bk-1")

	if n := len(q.List("bk-1")); n != 0 {
		t.Errorf("bk-1 entries after Clear = %d, want 0", n)
	}
	if n := len(q.List("bk-2")); n != 1 {
		t.Errorf("bk-2 entries after Clear = %d, want 1", n)
	}
}

func TestDrainPassesUnitCopy(t *testing.T) {
	q := testQueue()
	q.Enqueue(FailedUnit{BookID: "bk-1", Chapter: 1, Unit: 1, Reason: ReasonQuality, TargetWords: 900})

	err := q.Drain(context.Background(), "bk-1", 1, func(ctx context.Context, fu *FailedUnit) error {
		fu.TargetWords = 0
		fu.Reason = "scribbled"
		return errors.New("fail")
	})
	if err != nil {
		t.Fatal(err)
	}

	got := q.List("bk-1")[0]
	want := FailedUnit{BookID: "bk-1", Chapter: 1, Unit: 1, Reason: ReasonQuality, TargetWords: 900, RetryCount: 1, Detail: "fail"}
	ignoreTimes := cmpopts.IgnoreFields(FailedUnit{}, "FirstFailedAt", "LastTriedAt")
	if diff := cmp.Diff(want, got, ignoreTimes); diff != "" {
		t.Errorf("queued entry mutated by retry callback (-want +got):\n%s", diff)
	}
}
