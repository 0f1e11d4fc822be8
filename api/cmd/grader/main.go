// Command grader grades exam answers from the command line and manages the
// grading history.
package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"exam-grader/api/internal/config"
	"exam-grader/api/internal/logger"
)

var (
	cfgFile string
	verbose bool
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "grader",
		Short: "Grade exam answers against a rubric with a vision model",
		Long: `grader sends a question, a rubric and a student answer (text, photos, PDFs
or HEIC files) to Gemini or an OpenAI-compatible backend and prints the
structured grading.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "YAML config file (overrides GRADER_CONFIG)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log to stderr at debug level")

	root.AddCommand(newGradeCmd(), newHistoryCmd(), newPurgeCmd(), newSchemaCmd())
	return root
}

func loadConfig() (*config.Config, error) {
	if cfgFile != "" {
		if err := os.Setenv("GRADER_CONFIG", cfgFile); err != nil {
			return nil, err
		}
	}
	return config.Load()
}

func cliLogger() zerolog.Logger {
	level := "warn"
	if verbose {
		level = "debug"
	}
	return logger.New(level, "console", os.Stderr)
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
