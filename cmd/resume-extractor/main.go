// Package main provides the resume-extractor binary entry point.
// The service consumes resume-extraction tasks from RabbitMQ, converts the
// submitted files to text, runs structured extraction through Gemini and
// publishes the aggregated JSON and spreadsheet artifacts to MinIO.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "resume-extractor"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var logLevel string

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Bulk resume extraction worker",
		Long: `Resume-extractor drains a RabbitMQ work queue of resume-extraction
tasks. For each task it materializes the submitted files from MinIO
(expanding archives when needed), extracts text through per-format
fallback chains, structures every resume with Gemini and publishes a
JSON dataset plus a spreadsheet back to MinIO, reporting progress and
the terminal status to the task registry.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(logLevel)
		},
	}

	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	})

	return cmd
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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
