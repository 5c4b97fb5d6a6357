package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/gophersatwork/dkit"
	"github.com/spf13/cobra"
)

var (
	cfgFile    string
	projectDir string
	verbose    bool

	outputFormat string
	colorMode    string

	// Request flags
	offset    int
	prefix    string
	autoStart bool
)

func main() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "settings file (default is $HOME/.dkit/settings.yml)")
	rootCmd.PersistentFlags().StringVar(&projectDir, "project", ".", "project directory")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "output", "text", "output format: text, json")
	rootCmd.PersistentFlags().StringVar(&colorMode, "color", "auto", "colorize output: auto, always, never")

	for _, cmd := range []*cobra.Command{completeCmd, definitionCmd, docCmd} {
		cmd.Flags().IntVar(&offset, "offset", 0, "byte offset of the cursor")
		cmd.Flags().BoolVar(&autoStart, "start", false, "start a completion server for this request")
		_ = cmd.MarkFlagRequired("offset")
	}
	definitionCmd.Flags().IntVar(&contextLines, "context", 2, "source lines to show around the definition (text output)")
	completeCmd.Flags().StringVar(&prefix, "prefix", "", "word typed before the cursor (default: detected from the file)")

	includePathsCmd.Flags().StringVar(&bufferFile, "file", "", "also register the directory of this file")
	serverCmd.Flags().BoolVar(&withDub, "dub", false, "add the import paths of the dub project")
	includePathsCmd.Flags().BoolVar(&withDub, "dub", false, "also register the import paths of the dub project")
	includeAddCmd.Flags().BoolVar(&globalSettings, "global", false, "edit the global settings file instead of the project one")

	dubDescribeCmd.Flags().IntVar(&describeWorkers, "workers", 0, "concurrent dub processes (default: number of CPUs)")

	includeCmd.AddCommand(includeAddCmd)
	dubCmd.AddCommand(dubListCmd, dubDescribeCmd)
	rootCmd.AddCommand(serverCmd, completeCmd, definitionCmd, docCmd, clearCacheCmd, includePathsCmd, includeCmd, dubCmd)

	if err := fang.Execute(context.Background(), rootCmd); err != nil {
		handleError(err)
	}
}

var rootCmd = &cobra.Command{
	Use:   "dkit",
	Short: "D language code intelligence on top of DCD",
	Long: `dkit drives the DCD completion server: it starts and restarts dcd-server,
sends completion, definition and documentation requests through dcd-client
and keeps the server's import paths in sync with settings and dub projects.`,
	SilenceUsage: true,
}

func setupLogger() *slog.Logger {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}

	if verbose {
		return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: logLevel,
		}))
	}

	logFile, err := setupLogFile()
	if err != nil {
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelError,
		}))
		logger.Error("Failed to set up log file, falling back to stderr", "error", err)
		return logger
	}

	// The file stays open for the lifetime of the process.
	return slog.New(slog.NewTextHandler(logFile, &slog.HandlerOptions{
		Level: logLevel,
	}))
}

// setupLogFile creates the .dkit directory if it doesn't exist and returns a
// file handle for the log file
func setupLogFile() (*os.File, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	dkitDir := dkit.JoinPaths(home, ".dkit")
	if err := os.MkdirAll(dkitDir, 0o755); err != nil {
		return nil, err
	}

	logFile := dkit.JoinPaths(dkitDir, "dkit.log")
	return os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

func handleError(err error) {
	logFile, logErr := setupLogFile()
	var logger *slog.Logger

	if logErr != nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelError,
		}))
		logger.Error("Failed to set up log file, falling back to stderr", "error", logErr)
	} else {
		defer logFile.Close()
		logger = slog.New(slog.NewTextHandler(logFile, &slog.HandlerOptions{
			Level: slog.LevelError,
		}))
	}

	appErr, found := dkit.GetErrorInfo(err)
	if found {
		logger.Error("Command failed", "error_type", appErr.Type)
		if appErr.Details != "" {
			logger.Error("Additional details", "details", appErr.Details)
		}
		if appErr.File != "" {
			logger.Error("File information", "file", appErr.File)
		}
	}
	logger.Error("Command failed", "error", err)
	os.Exit(1)
}
