package dkit

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fatih/color"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/afero"
)

// projectPatterns matches the base names of project files whose change
// requires the server to be restarted.
var projectPatterns = []string{
	ProjectSettingsFile,
	"dub.{json,sdl}",
}

// SettingsWatcher restarts the completion server whenever the global or
// project settings file changes.
type SettingsWatcher struct {
	supervisor *Supervisor
	fs         afero.Fs
	logger     *slog.Logger

	globalFile     string
	globalRequired bool
	projectDir     string
	searchPaths    func(context.Context) ([]string, error)

	watcher      *fsnotify.Watcher
	debounceTime time.Duration

	mu            sync.Mutex
	debounceTimer *time.Timer
	reloads       int
	ctx           context.Context

	// OnReload, when set, is called after every reload attempt.
	OnReload func(ServerHandle, error)
}

// WatchConfig holds configuration for the settings watcher
type WatchConfig struct {
	GlobalFile string
	// GlobalRequired makes a missing GlobalFile a reload error. Leave it
	// unset when GlobalFile is the default location.
	GlobalRequired bool
	ProjectDir     string
	// SearchPaths, when set, is called on every reload and its result is
	// appended to the configured include paths.
	SearchPaths  func(context.Context) ([]string, error)
	Logger       *slog.Logger
	FS           afero.Fs
	DebounceTime time.Duration
}

// NewSettingsWatcher creates a watcher reloading supervisor.
func NewSettingsWatcher(supervisor *Supervisor, cfg WatchConfig) (*SettingsWatcher, error) {
	if cfg.FS == nil {
		cfg.FS = afero.NewOsFs()
	}
	if cfg.DebounceTime == 0 {
		cfg.DebounceTime = 100 * time.Millisecond
	}
	if cfg.GlobalFile == "" {
		cfg.GlobalFile = DefaultSettingsFile()
		cfg.GlobalRequired = false
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	return &SettingsWatcher{
		supervisor:     supervisor,
		fs:             cfg.FS,
		logger:         ensureLogger(cfg.Logger),
		globalFile:     cfg.GlobalFile,
		globalRequired: cfg.GlobalRequired,
		projectDir:     cfg.ProjectDir,
		searchPaths:    cfg.SearchPaths,
		watcher:        watcher,
		debounceTime:   cfg.DebounceTime,
	}, nil
}

// Start watches until ctx is cancelled. Directories that do not exist are
// skipped with a warning.
func (w *SettingsWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	w.ctx = ctx
	w.mu.Unlock()

	for _, dir := range w.watchedDirs() {
		if err := w.watcher.Add(dir); err != nil {
			w.logger.Warn("Failed to watch settings directory", "path", dir, "error", err)
			continue
		}
		w.logger.Debug("Watching settings directory", "path", dir)
	}
	return w.processEvents(ctx)
}

// Stop closes the underlying watcher
func (w *SettingsWatcher) Stop() error {
	w.mu.Lock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.mu.Unlock()
	return w.watcher.Close()
}

// Reloads returns how many reloads have been performed.
func (w *SettingsWatcher) Reloads() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reloads
}

func (w *SettingsWatcher) watchedDirs() []string {
	dirs := []string{filepath.Dir(w.globalFile)}
	if w.projectDir != "" {
		dirs = append(dirs, w.projectDir)
	}
	return DedupePaths(dirs)
}

func (w *SettingsWatcher) processEvents(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Stopping settings watcher")
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			w.logger.Error("Watcher error", "error", err)
		}
	}
}

func (w *SettingsWatcher) handleEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return
	}
	if !w.isSettingsFile(event.Name) {
		return
	}

	w.logger.Debug("Settings change detected", "path", event.Name)

	w.mu.Lock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(w.debounceTime, w.reload)
	w.mu.Unlock()
}

// isSettingsFile reports whether path is the global settings file or a
// settings/package file in the project directory.
func (w *SettingsWatcher) isSettingsFile(path string) bool {
	abs := AbsPath(path)
	if abs == AbsPath(w.globalFile) {
		return true
	}
	if w.projectDir == "" || DirPath(abs) != AbsPath(w.projectDir) {
		return false
	}

	base := filepath.Base(path)
	for _, pattern := range projectPatterns {
		if ok, _ := doublestar.Match(pattern, base); ok {
			return true
		}
	}
	return false
}

func (w *SettingsWatcher) reload() {
	printTimestamp()
	fmt.Println(color.New(color.FgYellow, color.Bold).Sprint("Settings changed, restarting completion server"))

	var handle ServerHandle
	cfg, err := w.serverConfig()
	if err == nil {
		handle, err = w.supervisor.Reload(cfg)
	}

	if err != nil {
		w.logger.Error("Failed to reload completion server", "error", err)
		fmt.Println(color.New(color.FgRed, color.Bold).Sprint("Error: ") + err.Error())
	} else {
		fmt.Println(color.New(color.FgGreen).Sprintf("Server running on port %d (pid %d)", handle.Port, handle.PID))
	}

	w.mu.Lock()
	w.reloads++
	w.mu.Unlock()

	if w.OnReload != nil {
		w.OnReload(handle, err)
	}
}

// serverConfig rebuilds the server configuration from the settings files
// and the SearchPaths hook.
func (w *SettingsWatcher) serverConfig() (ServerConfig, error) {
	settings, err := loadSettings(w.fs, w.globalFile, w.projectDir, w.globalRequired)
	if err != nil {
		return ServerConfig{}, err
	}
	cfg := settings.ServerConfig()
	if w.searchPaths == nil {
		return cfg, nil
	}

	w.mu.Lock()
	ctx := w.ctx
	w.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	extra, err := w.searchPaths(ctx)
	if err != nil {
		return ServerConfig{}, fmt.Errorf("failed to resolve include paths: %w", err)
	}
	cfg.SearchPaths = DedupePaths(append(cfg.SearchPaths, extra...))
	return cfg, nil
}

func printTimestamp() {
	timestamp := time.Now().Format("15:04:05")
	fmt.Printf("[%s] ", color.New(color.FgHiBlack).Sprint(timestamp))
}
