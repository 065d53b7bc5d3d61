// status.go implements "bookforge status": a book listing, or one
// book's stored report.
package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"bookforge/internal/core"
	"bookforge/internal/storage"
)

var statusCmd = &cobra.Command{
	Use:   "status [book-id]",
	Short: "Show book status",
	Long: `Without arguments, list every book with its status and word counts.
With a book ID, print that book's final report: per-chapter scores,
failed units, and word accounting.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	files, store, err := openData()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := cmd.Context()
	if len(args) == 0 {
		books, err := store.ListBooks(ctx)
		if err != nil {
			return fmt.Errorf("listing books: %w", err)
		}
		if len(books) == 0 {
			fmt.Println("No books yet. Start one with: bookforge generate \"your concept\"")
			return nil
		}

		fmt.Printf("%-36s  %-14s  %9s  %9s  %s\n", "ID", "STATUS", "WORDS", "TARGET", "TITLE")
		for _, b := range books {
			fmt.Printf("%-36s  %-14s  %9d  %9d  %s\n", b.ID, b.Status, b.WordCount, b.TargetWords, b.Title)
		}
		return nil
	}

	bookID := args[0]
	b, err := store.GetBook(ctx, bookID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("book %s not found", bookID)
		}
		return err
	}

	fmt.Printf("Book %s: %s\n", b.ID, b.Status)
	fmt.Printf("  Title:   %s\n", b.Title)
	fmt.Printf("  Words:   %d (target %d)\n", b.WordCount, b.TargetWords)
	fmt.Printf("  Updated: %s\n", b.UpdatedAt.Local().Format("2006-01-02 15:04"))

	cm := core.NewCheckpointManager(files, newLogger())
	if cp, err := cm.Load(ctx, bookID); err == nil {
		fmt.Printf("  Checkpoint: %d chapters done, %d queued failures, saved %s\n",
			len(cp.CompletedChapters), len(cp.FailedUnits),
			cp.SavedAt.Local().Format("2006-01-02 15:04"))
		fmt.Printf("  Continue with: bookforge resume %s\n", bookID)
	}

	report, err := files.Load(ctx, core.ReportKey(bookID))
	switch {
	case err == nil:
		fmt.Println()
		os.Stdout.Write(report)
		fmt.Println()
	case errors.Is(err, fs.ErrNotExist):
		fmt.Println("\nNo report yet; one is written when a run finishes.")
	default:
		return fmt.Errorf("loading report: %w", err)
	}
	return nil
}
