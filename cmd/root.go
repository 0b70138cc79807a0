// Package cmd implements the penna command line interface.
package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/pennaio/penna/internal/log"
)

var (
	flagVerbose  bool
	flagJSONLogs bool
)

var rootCmd = &cobra.Command{
	Use:   "penna",
	Short: "Penna - a conversational assistant for drafting support articles",
	Long: `Penna is a conversational assistant that helps you draft and revise
support knowledge-base articles. The assistant can search the existing
article corpus for similar content and rewrite drafts into the house
editorial style.

Running penna without a subcommand starts an interactive chat.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat(cmd, args)
	},
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&flagJSONLogs, "json-logs", false, "emit logs as JSON")
}

// newLogger builds the process logger from the global flags. Logs go
// to stderr so chat output on stdout stays clean.
func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if flagVerbose {
		level = slog.LevelDebug
	}
	return log.NewWithWriter(os.Stderr, log.Config{Level: level, JSON: flagJSONLogs})
}
