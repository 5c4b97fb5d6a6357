package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/gophersatwork/dkit"
	"github.com/gophersatwork/dkit/lsp"
	"github.com/sourcegraph/jsonrpc2"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	verbose bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "settings file (default is $HOME/.dkit/settings.yml)")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable debug logging")
}

func main() {
	if err := fang.Execute(context.Background(), rootCmd); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "dkit-lsp",
	Short: "Language server for D on top of DCD",
	Long: `dkit-lsp speaks the Language Server Protocol over stdio and answers
completion, definition and hover requests through the DCD completion server.`,
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE:         runServer,
}

func runServer(cmd *cobra.Command, _ []string) error {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	// Stdout is reserved for JSON-RPC.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))

	logger.Info("Starting dkit LSP server")

	fs := afero.NewOsFs()
	loadSettings := func(projectDir string) (*dkit.Settings, error) {
		return dkit.LoadSettings(fs, cfgFile, projectDir)
	}

	settings, err := loadSettings("")
	if err != nil {
		logger.Error("Failed to load settings", "error", err)
		return err
	}

	supervisor := dkit.NewSupervisor(settings.ServerConfig(), logger, fs,
		append(settings.SupervisorOptions(), dkit.WithStarter(dkit.ExecStarter{Output: os.Stderr}))...)
	client := dkit.NewClient(supervisor, logger, settings.ClientOptions()...)

	projectOpts := []dkit.ProjectOption{}
	if cacheDir, err := dkit.DefaultCacheDir(); err == nil {
		if cache, err := dkit.NewMusDescriptionCache(cacheDir, fs); err == nil {
			projectOpts = append(projectOpts, dkit.WithDescriptionCache(cache))
		} else {
			logger.Warn("Project description cache disabled", "error", err)
		}
	}
	project := dkit.NewProject(settings.GetString(dkit.KeyDubPath), logger, fs, projectOpts...)

	server := lsp.NewServer(client, project, loadSettings, fs, logger)

	stream := jsonrpc2.NewBufferedStream(stdrwc{}, jsonrpc2.VSCodeObjectCodec{})
	conn := jsonrpc2.NewConn(cmd.Context(), stream, jsonrpc2.HandlerWithError(server.Handle))

	logger.Info("LSP server listening on stdio")

	select {
	case <-conn.DisconnectNotify():
	case <-cmd.Context().Done():
		conn.Close()
	}

	// The editor may disconnect without sending shutdown.
	if err := supervisor.Shutdown(); err != nil {
		logger.Warn("Failed to stop completion server", "error", err)
	}
	logger.Info("LSP server disconnected")
	return nil
}

// stdrwc implements io.ReadWriteCloser for stdin/stdout
type stdrwc struct{}

func (stdrwc) Read(p []byte) (int, error) {
	return os.Stdin.Read(p)
}

func (stdrwc) Write(p []byte) (int, error) {
	n, err := os.Stdout.Write(p)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error writing to stdout: %v\n", err)
	}
	return n, err
}

func (stdrwc) Close() error {
	if err := os.Stdin.Close(); err != nil {
		return err
	}
	return os.Stdout.Close()
}
