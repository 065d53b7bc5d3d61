// checkpoints.go implements "bookforge checkpoints", listing every
// book with a resume point on disk.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"bookforge/internal/core"
)

var checkpointsCmd = &cobra.Command{
	Use:   "checkpoints",
	Short: "List resumable books",
	Long: `List every checkpoint on disk. A checkpoint exists for any book that
started but has not completed cleanly; each one can be resumed.`,
	RunE: runCheckpoints,
}

func runCheckpoints(cmd *cobra.Command, args []string) error {
	files, store, err := openData()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := cmd.Context()
	cm := core.NewCheckpointManager(files, newLogger())
	cps, err := cm.List(ctx)
	if err != nil {
		return err
	}
	if len(cps) == 0 {
		fmt.Println("No checkpoints. Every book either completed or never started.")
		return nil
	}

	fmt.Printf("%-36s  %-14s  %8s  %6s  %-16s  %s\n", "BOOK", "STATUS", "CHAPTERS", "QUEUED", "SAVED", "TITLE")
	for _, cp := range cps {
		title := ""
		if b, err := store.GetBook(ctx, cp.BookID); err == nil {
			title = b.Title
		}
		fmt.Printf("%-36s  %-14s  %8d  %6d  %-16s  %s\n",
			cp.BookID, cp.Status, len(cp.CompletedChapters), len(cp.FailedUnits),
			cp.SavedAt.Local().Format("2006-01-02 15:04"), title)
	}
	return nil
}
