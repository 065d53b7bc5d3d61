// clear.go implements "bookforge clear", discarding a book's resume
// point.
package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"bookforge/internal/core"
)

var clearCmd = &cobra.Command{
	Use:   "clear <book-id>",
	Short: "Discard a book's checkpoint",
	Long: `Remove a book's checkpoint. The book's stored chapters, manuscript,
and report stay; only the resume point is discarded, so the book can
no longer be resumed.`,
	Args: cobra.ExactArgs(1),
	RunE: runClear,
}

func runClear(cmd *cobra.Command, args []string) error {
	bookID := args[0]

	files, store, err := openData()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := cmd.Context()
	cm := core.NewCheckpointManager(files, newLogger())

	if _, err := cm.Load(ctx, bookID); errors.Is(err, core.ErrNoCheckpoint) {
		fmt.Printf("No checkpoint for book %s.\n", bookID)
		return nil
	}
	if err := cm.Clear(ctx, bookID); err != nil {
		return fmt.Errorf("clearing checkpoint: %w", err)
	}
	fmt.Printf("Cleared checkpoint for book %s.\n", bookID)
	return nil
}
