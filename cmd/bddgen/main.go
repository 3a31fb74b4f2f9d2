package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/bddgen/internal/config"
)

var cfg config.Config

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "bddgen",
	Short: "Generate manual test cases, BDD features and glue code from user stories",
	Long: `bddgen turns a user story and its acceptance criteria into manual test
cases, and turns test cases into a BDD feature file plus Java glue code,
using an OpenAI-compatible completion service.

Configuration is read from the environment (and .env when present).`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging(cfg.LogLevel)
	},
}

func main() {
	cfg = config.Load()

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(testCasesCmd)
	rootCmd.AddCommand(codeCmd)
	rootCmd.AddCommand(runCmd)

	if err := rootCmd.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func setupLogging(level string) {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(level)})
	slog.SetDefault(slog.New(handler))
}
