// generate.go implements "bookforge generate", the full pipeline from
// concept to manuscript.
package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"bookforge/internal/book"
	"bookforge/internal/config"
	"bookforge/internal/core"
)

var generateCmd = &cobra.Command{
	Use:   "generate [concept]",
	Short: "Generate a book from a concept",
	Long: `Generate a complete book: premise, outline, chapters in gated units,
and a final supervision pass. The concept comes from the argument or
from --concept-file. Progress checkpoints after every chapter; an
interrupted run resumes with "bookforge resume".`,
	Args: cobra.MaximumNArgs(1),
	RunE: runGenerate,
}

var (
	idFlag          string
	genreFlag       string
	themesFlag      []string
	wordsFlag       int
	chaptersFlag    int
	conceptFileFlag string
)

func init() {
	generateCmd.Flags().StringVar(&idFlag, "id", "", "Reuse a book ID; if it left a checkpoint behind, the run resumes it")
	generateCmd.Flags().StringVar(&genreFlag, "genre", "", "Genre hint for the premise")
	generateCmd.Flags().StringSliceVar(&themesFlag, "themes", nil, "Themes to weave in (comma separated)")
	generateCmd.Flags().IntVar(&wordsFlag, "words", 50000, "Target word count")
	generateCmd.Flags().IntVar(&chaptersFlag, "chapters", 0, "Chapter count (0 derives it from --words)")
	generateCmd.Flags().StringVar(&conceptFileFlag, "concept-file", "", "Read the concept from a file")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	var concept string
	if len(args) > 0 {
		concept = args[0]
	}
	if conceptFileFlag != "" {
		if concept != "" {
			return fmt.Errorf("provide a concept argument or --concept-file, not both")
		}
		data, err := os.ReadFile(conceptFileFlag)
		if err != nil {
			return fmt.Errorf("reading concept file: %w", err)
		}
		concept = strings.TrimSpace(string(data))
	}
	if concept == "" {
		return fmt.Errorf("provide a concept argument or --concept-file")
	}

	app, err := newApp()
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	b, err := app.orc.Run(ctx, core.NewBookRequest{
		ID:          idFlag,
		Concept:     concept,
		Genre:       genreFlag,
		Themes:      themesFlag,
		TargetWords: wordsFlag,
		Chapters:    chaptersFlag,
	})
	if err != nil {
		if b != nil {
			if ctx.Err() != nil {
				fmt.Fprintf(os.Stderr, "\nInterrupted. Resume with: bookforge resume %s\n", b.ID)
			} else {
				fmt.Fprintf(os.Stderr, "\nRun failed. Inspect with: bookforge status %s\n", b.ID)
			}
		}
		return err
	}

	printOutcome(app.cfg, b)
	return nil
}

func printOutcome(cfg *config.Config, b *book.Book) {
	fmt.Printf("\nBook %s: %s\n", b.ID, b.Status)
	fmt.Printf("  Title: %s\n", b.Title)
	fmt.Printf("  Words: %d (target %d)\n", b.WordCount, b.TargetWords)
	fmt.Printf("  Manuscript: %s\n", filepath.Join(cfg.Paths.DataDir, filepath.FromSlash(core.ManuscriptKey(b.ID))))
	if b.Status == book.StatusNeedsRevision {
		fmt.Printf("  Review what failed with: bookforge failed %s\n", b.ID)
	}
}
