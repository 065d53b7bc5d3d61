// failed.go implements "bookforge failed", listing the units a book
// could not get past the quality gate.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"

	"github.com/spf13/cobra"

	"bookforge/internal/core"
	"bookforge/internal/storage"
)

var failedCmd = &cobra.Command{
	Use:   "failed <book-id>",
	Short: "List a book's failed units",
	Long: `List the units that exhausted their retries: which chapter and unit,
why they failed, and their last scores. Reads the live checkpoint
when one exists, otherwise the final report.`,
	Args: cobra.ExactArgs(1),
	RunE: runFailed,
}

func runFailed(cmd *cobra.Command, args []string) error {
	bookID := args[0]

	files, store, err := openData()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := cmd.Context()
	if _, err := store.GetBook(ctx, bookID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("book %s not found", bookID)
		}
		return err
	}

	units, err := failedUnits(ctx, files, bookID)
	if err != nil {
		return err
	}
	if len(units) == 0 {
		fmt.Printf("No failed units recorded for book %s.\n", bookID)
		return nil
	}

	fmt.Printf("%-8s  %-5s  %-7s  %-12s  %s\n", "CHAPTER", "UNIT", "RETRIES", "REASON", "DETAIL")
	for _, fu := range units {
		detail := fu.Detail
		if fu.Scores != nil {
			detail = fmt.Sprintf("%s (combined %.1f)", detail, fu.Scores.Combined)
		}
		fmt.Printf("%-8d  %-5d  %-7d  %-12s  %s\n", fu.Chapter, fu.Unit, fu.RetryCount, fu.Reason, detail)
	}
	return nil
}

// failedUnits reads failures from the checkpoint, falling back to the
// final report when the checkpoint is gone.
func failedUnits(ctx context.Context, files *storage.FileSystem, bookID string) ([]core.FailedUnit, error) {
	cm := core.NewCheckpointManager(files, newLogger())

	cp, err := cm.Load(ctx, bookID)
	switch {
	case err == nil:
		return cp.FailedUnits, nil
	case errors.Is(err, core.ErrNoCheckpoint):
		// Fall through to the report.
	default:
		return nil, err
	}

	data, err := files.Load(ctx, core.ReportKey(bookID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading report: %w", err)
	}
	var report core.FinalReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("parsing report: %w", err)
	}
	return report.FailedUnits, nil
}
