// resume.go implements "bookforge resume" for interrupted runs.
package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"bookforge/internal/core"
)

var resumeCmd = &cobra.Command{
	Use:   "resume <book-id>",
	Short: "Resume an interrupted book",
	Long: `Resume a book from its checkpoint. Completed chapters and accepted
units are never regenerated; the run picks up at the first pending
unit with the narrative state and retry queue restored.`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

func runResume(cmd *cobra.Command, args []string) error {
	bookID := args[0]

	app, err := newApp()
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	b, err := app.orc.Resume(ctx, bookID)
	if err != nil {
		if errors.Is(err, core.ErrNoCheckpoint) {
			return fmt.Errorf("no checkpoint for book %s; it may have completed (try: bookforge status %s)", bookID, bookID)
		}
		if b != nil && ctx.Err() != nil {
			fmt.Fprintf(os.Stderr, "\nInterrupted again. Resume with: bookforge resume %s\n", b.ID)
		}
		return err
	}

	printOutcome(app.cfg, b)
	return nil
}
