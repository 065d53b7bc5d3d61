// Package cli defines the cobra commands for the bookforge CLI.
// This file holds the root command, global flags, and shared helpers.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"bookforge/internal/config"
)

var (
	configFlag  string
	verboseFlag bool
)

var rootCmd = &cobra.Command{
	Use:   "bookforge",
	Short: "Checkpointed AI book generation",
	Long: `Bookforge drives a book from concept to manuscript: premise, outline,
chapter units generated in bounded batches, continuity checks against
extracted narrative state, quality gating, and a final supervision
pass. Every run checkpoints after the outline and after each chapter,
so an interrupted book resumes instead of starting over.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the root command. Called from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "Config file (default: $XDG_CONFIG_HOME/bookforge/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&verboseFlag, "verbose", false, "Enable debug logging")

	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(failedCmd)
	rootCmd.AddCommand(checkpointsCmd)
	rootCmd.AddCommand(clearCmd)
}

// newLogger builds the CLI logger. Logs go to stderr so stdout stays
// clean for reports and listings.
func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verboseFlag {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func loadConfig() (*config.Config, error) {
	if configFlag != "" {
		return config.LoadFrom(configFlag)
	}
	return config.Load()
}
