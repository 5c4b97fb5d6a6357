package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"
	"github.com/gophersatwork/dkit"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var (
	bufferFile      string
	withDub         bool
	globalSettings  bool
	contextLines    int
	describeWorkers int
)

// env bundles everything a command needs to talk to the completion server.
type env struct {
	fs         afero.Fs
	logger     *slog.Logger
	settings   *dkit.Settings
	supervisor *dkit.Supervisor
	client     *dkit.Client
	formatter  dkit.Formatter
	out        io.Writer
}

func newEnv(cmd *cobra.Command, start bool) (*env, error) {
	logger := setupLogger()
	fs := afero.NewOsFs() // real fs binding

	settings, err := dkit.LoadSettings(fs, cfgFile, projectDir)
	if err != nil {
		logger.Error("Failed to load settings", "error", err)
		return nil, err
	}

	out := cmd.OutOrStdout()
	formatter, err := dkit.NewFormatter(dkit.OutputFormat(outputFormat), dkit.ColorMode(colorMode), out)
	if err != nil {
		return nil, err
	}

	supervisor := dkit.NewSupervisor(settings.ServerConfig(), logger, fs, settings.SupervisorOptions()...)
	clientOpts := append(settings.ClientOptions(), dkit.WithAutoStart(start))
	client := dkit.NewClient(supervisor, logger, clientOpts...)

	return &env{
		fs:         fs,
		logger:     logger,
		settings:   settings,
		supervisor: supervisor,
		client:     client,
		formatter:  formatter,
		out:        out,
	}, nil
}

func (e *env) print(data []byte, err error) error {
	if err != nil {
		return fmt.Errorf("failed to format output: %w", err)
	}
	_, err = e.out.Write(data)
	return err
}

func (e *env) project() *dkit.Project {
	opts := []dkit.ProjectOption{}
	if dir, err := dkit.DefaultCacheDir(); err == nil {
		cache, err := dkit.NewMusDescriptionCache(dir, e.fs)
		if err != nil {
			e.logger.Warn("Failed to initialize description cache, continuing without caching", "error", err)
		} else {
			opts = append(opts, dkit.WithDescriptionCache(cache))
		}
	}
	return dkit.NewProject(e.settings.GetString(dkit.KeyDubPath), e.logger, e.fs, opts...)
}

// dubIncludePaths returns the import paths of the dub project in the project
// directory, or nil if it has no package manifest.
func (e *env) dubIncludePaths(ctx context.Context) ([]string, error) {
	project := e.project()
	if project.Manifest(projectDir) == "" {
		e.logger.Debug("No dub manifest found", "project", projectDir)
		return nil, nil
	}

	desc, err := project.Describe(ctx, dkit.AbsPath(projectDir))
	if err != nil {
		return nil, err
	}
	return desc.IncludePaths(), nil
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the completion server and restart it when settings change",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv(cmd, false)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		cfg := e.settings.ServerConfig()
		if withDub {
			paths, err := e.dubIncludePaths(ctx)
			if err != nil {
				return err
			}
			cfg.SearchPaths = dkit.DedupePaths(append(cfg.SearchPaths, paths...))
		}

		handle, err := e.supervisor.Start(cfg)
		if err != nil {
			return err
		}
		defer func() {
			if err := e.supervisor.Shutdown(); err != nil {
				e.logger.Error("Failed to stop completion server", "error", err)
			}
		}()

		fmt.Fprintln(e.out, color.New(color.FgGreen, color.Bold).Sprintf("Completion server running on port %d (pid %d)", handle.Port, handle.PID))

		watchCfg := dkit.WatchConfig{
			GlobalFile:     e.settings.GlobalFile,
			GlobalRequired: e.settings.GlobalRequired,
			ProjectDir:     dkit.AbsPath(projectDir),
			Logger:         e.logger,
			FS:             e.fs,
		}
		if withDub {
			watchCfg.SearchPaths = e.dubIncludePaths
		}
		watcher, err := dkit.NewSettingsWatcher(e.supervisor, watchCfg)
		if err != nil {
			return err
		}
		defer watcher.Stop()

		fmt.Fprintln(e.out, color.New(color.FgHiBlack).Sprint("Watching settings for changes. Press Ctrl+C to stop."))
		return watcher.Start(ctx)
	},
}

// readRequest reads the buffer a request is made against.
func readRequest(e *env, file string) ([]byte, error) {
	source, err := afero.ReadFile(e.fs, file)
	if err != nil {
		return nil, dkit.WithFile(dkit.NewFSError("failed to read source file", err), file)
	}
	if offset < 0 || offset > len(source) {
		return nil, fmt.Errorf("offset %d out of range for %s (%d bytes)", offset, file, len(source))
	}
	return source, nil
}

// stopAfter shuts down a server started for a single request.
func stopAfter(e *env) {
	if !autoStart {
		return
	}
	if err := e.supervisor.Shutdown(); err != nil {
		e.logger.Warn("Failed to stop completion server", "error", err)
	}
}

var completeCmd = &cobra.Command{
	Use:   "complete FILE",
	Short: "List completions at an offset",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv(cmd, autoStart)
		if err != nil {
			return err
		}
		defer stopAfter(e)

		source, err := readRequest(e, args[0])
		if err != nil {
			return err
		}

		typed := prefix
		if !cmd.Flags().Changed("prefix") {
			typed = dkit.PrefixAt(source, offset)
		}

		result, err := e.client.Complete(cmd.Context(), dkit.CompletionRequest{
			Source: source,
			Cursor: offset,
			Prefix: typed,
		})
		if err != nil {
			return err
		}
		return e.print(e.formatter.Completions(result))
	},
}

var definitionCmd = &cobra.Command{
	Use:   "definition FILE",
	Short: "Show where the symbol at an offset is declared",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv(cmd, autoStart)
		if err != nil {
			return err
		}
		defer stopAfter(e)

		source, err := readRequest(e, args[0])
		if err != nil {
			return err
		}

		loc, err := e.client.GotoDefinition(cmd.Context(), dkit.DocumentRequest{
			Source:  source,
			Cursors: []int{offset},
		})
		if err != nil {
			return err
		}
		current := loc.InCurrentBuffer()
		if current {
			loc.Path = args[0]
		}
		if err := e.print(e.formatter.Location(loc)); err != nil {
			return err
		}

		text, ok := e.formatter.(*dkit.TextFormatter)
		if !ok || contextLines <= 0 {
			return nil
		}
		snippet := dkit.ExtractCodeContext(source, loc.Offset, contextLines)
		if !current {
			if snippet, err = dkit.LoadCodeContext(e.fs, loc.Path, loc.Offset, contextLines); err != nil {
				e.logger.Warn("Failed to read definition context", "path", loc.Path, "error", err)
				return nil
			}
		}
		_, err = fmt.Fprint(e.out, snippet.Format(text.Color))
		return err
	},
}

var docCmd = &cobra.Command{
	Use:   "doc FILE",
	Short: "Show the documentation of the symbol at an offset",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv(cmd, autoStart)
		if err != nil {
			return err
		}
		defer stopAfter(e)

		source, err := readRequest(e, args[0])
		if err != nil {
			return err
		}

		doc, err := e.client.ShowDocumentation(cmd.Context(), dkit.DocumentRequest{
			Source:  source,
			Cursors: []int{offset},
		})
		if err != nil {
			return err
		}
		return e.print(e.formatter.Documentation(doc))
	},
}

var clearCacheCmd = &cobra.Command{
	Use:   "clear-cache",
	Short: "Drop the modules cached by the running completion server",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv(cmd, false)
		if err != nil {
			return err
		}
		return e.client.ClearCache(cmd.Context())
	},
}

var includePathsCmd = &cobra.Command{
	Use:   "include-paths",
	Short: "Register the configured import paths with the running completion server",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv(cmd, false)
		if err != nil {
			return err
		}

		paths := e.settings.IncludePaths()
		if withDub {
			dubPaths, err := e.dubIncludePaths(cmd.Context())
			if err != nil {
				return err
			}
			paths = append(paths, dubPaths...)
		}

		file := bufferFile
		if file != "" {
			file = dkit.AbsPath(file)
		}
		if err := e.client.UpdateIncludePaths(cmd.Context(), paths, file); err != nil {
			return err
		}
		if file != "" {
			paths = append(paths, dkit.DirPath(file))
		}
		return e.print(e.formatter.List(dkit.DedupePaths(paths)))
	},
}

var includeCmd = &cobra.Command{
	Use:   "include",
	Short: "Manage the include_paths setting",
}

var includeAddCmd = &cobra.Command{
	Use:   "add PATH...",
	Short: "Add import paths to the settings file",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := setupLogger()
		fs := afero.NewOsFs()

		target := filepath.Join(projectDir, dkit.ProjectSettingsFile)
		if globalSettings {
			target = cfgFile
			if target == "" {
				target = dkit.DefaultSettingsFile()
			}
		}

		added, err := dkit.NewSettingsEditor(fs, target).AddIncludePaths(args...)
		if err != nil {
			logger.Error("Failed to update settings", "file", target, "error", err)
			return err
		}

		logger.Info("Include paths added", "file", target, "added", added)
		fmt.Fprintf(cmd.OutOrStdout(), "%s %d path(s) to %s\n",
			color.New(color.FgGreen, color.Bold).Sprint("Added"), added, target)
		return nil
	},
}

var dubCmd = &cobra.Command{
	Use:   "dub",
	Short: "Query the dub package manager",
}

var dubListCmd = &cobra.Command{
	Use:   "list",
	Short: "List installed dub packages",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv(cmd, false)
		if err != nil {
			return err
		}

		packages, err := e.project().ListInstalled(cmd.Context())
		if err != nil {
			return err
		}
		return e.print(e.formatter.List(packages))
	},
}

var dubDescribeCmd = &cobra.Command{
	Use:   "describe [DIR...]",
	Short: "Print the import paths of one or more dub packages",
	Long: `Print the merged import paths of the dub packages in the given
directories, or of the project directory when none are given. Packages are
described concurrently.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv(cmd, false)
		if err != nil {
			return err
		}

		if len(args) == 0 {
			args = []string{projectDir}
		}
		dirs := make([]string, len(args))
		for i, dir := range args {
			dirs[i] = dkit.AbsPath(dir)
		}

		results, stats, err := e.project().DescribeAll(cmd.Context(), dirs, describeWorkers)
		if err != nil {
			return err
		}
		e.logger.Debug("Described packages", "described", stats.Described(), "failed", stats.Failed(), "duration", stats.Duration())

		paths, err := dkit.IncludePathsOf(results)
		if err != nil {
			return err
		}
		return e.print(e.formatter.List(paths))
	},
}
