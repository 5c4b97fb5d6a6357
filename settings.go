package dkit

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/viper"
)

// Recognized settings keys.
const (
	KeyPort             = "dcd_port"
	KeyPath             = "dcd_path"
	KeyIncludePaths     = "include_paths"
	KeyDubPath          = "dub_path"
	KeyReadinessTimeout = "readiness_timeout"
	KeyTerminateGrace   = "terminate_grace"
	KeyDecodeEscapes    = "decode_escapes"
)

// ProjectSettingsFile is the per-project override file name.
const ProjectSettingsFile = ".dkit.yml"

// Settings merges a global settings file with an optional project file.
// Scalar keys are read from the project first; list keys concatenate the
// global list with the project list.
type Settings struct {
	global  *viper.Viper
	project *viper.Viper

	GlobalFile  string
	ProjectFile string
	// GlobalRequired reports whether GlobalFile was requested explicitly
	// and must exist on every reload.
	GlobalRequired bool
}

// DefaultSettingsFile returns $HOME/.dkit/settings.yml.
func DefaultSettingsFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".dkit", "settings.yml")
	}
	return filepath.Join(home, ".dkit", "settings.yml")
}

// LoadSettings reads globalFile and, when projectDir is set, the project
// override file in it. A missing default global file is not an error; a
// missing explicitly requested file is. A missing project file is ignored.
func LoadSettings(fs afero.Fs, globalFile, projectDir string) (*Settings, error) {
	explicit := globalFile != ""
	if !explicit {
		globalFile = DefaultSettingsFile()
	}
	return loadSettings(fs, globalFile, projectDir, explicit)
}

func loadSettings(fs afero.Fs, globalFile, projectDir string, required bool) (*Settings, error) {
	global, err := readSettingsFile(fs, globalFile, required)
	if err != nil {
		return nil, err
	}
	global.SetDefault(KeyPort, DefaultPort)
	global.SetDefault(KeyPath, "")
	global.SetDefault(KeyIncludePaths, []string{})
	global.SetDefault(KeyDubPath, "dub")
	global.SetDefault(KeyReadinessTimeout, 2*time.Second)
	global.SetDefault(KeyTerminateGrace, 3*time.Second)
	global.SetDefault(KeyDecodeEscapes, false)

	s := &Settings{global: global, GlobalFile: globalFile, GlobalRequired: required}

	if projectDir != "" {
		projectFile := filepath.Join(projectDir, ProjectSettingsFile)
		project, err := readSettingsFile(fs, projectFile, false)
		if err != nil {
			return nil, err
		}
		s.project = project
		s.ProjectFile = projectFile
	}

	return s, nil
}

func readSettingsFile(fs afero.Fs, path string, required bool) (*viper.Viper, error) {
	v := viper.New()
	v.SetFs(fs)
	v.SetConfigType("yml")
	v.SetConfigFile(path)

	exists, err := afero.Exists(fs, path)
	if err != nil {
		return nil, WithFile(NewConfigError("failed checking settings file", err), path)
	}
	if !exists {
		if required {
			return nil, WithFile(NewConfigError("settings file not found", os.ErrNotExist), path)
		}
		return v, nil
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil, WithFile(NewConfigError("settings file not found", err), path)
		}
		return nil, WithFile(NewConfigError("failed loading settings file", err), path)
	}
	return v, nil
}

// Get returns the project value of key, the global value, or def.
func (s *Settings) Get(key string, def any) any {
	if s.project != nil && s.project.IsSet(key) {
		return s.project.Get(key)
	}
	if s.global.IsSet(key) {
		return s.global.Get(key)
	}
	return def
}

// GetInt is Get for integer keys.
func (s *Settings) GetInt(key string) int {
	if s.project != nil && s.project.IsSet(key) {
		return s.project.GetInt(key)
	}
	return s.global.GetInt(key)
}

// GetString is Get for string keys.
func (s *Settings) GetString(key string) string {
	if s.project != nil && s.project.IsSet(key) {
		return s.project.GetString(key)
	}
	return s.global.GetString(key)
}

// GetBool is Get for boolean keys.
func (s *Settings) GetBool(key string) bool {
	if s.project != nil && s.project.IsSet(key) {
		return s.project.GetBool(key)
	}
	return s.global.GetBool(key)
}

// GetDuration is Get for duration keys.
func (s *Settings) GetDuration(key string) time.Duration {
	if s.project != nil && s.project.IsSet(key) {
		return s.project.GetDuration(key)
	}
	return s.global.GetDuration(key)
}

// GetAll concatenates the global list with the project list.
func (s *Settings) GetAll(key string) []string {
	all := append([]string{}, s.global.GetStringSlice(key)...)
	if s.project != nil {
		all = append(all, s.project.GetStringSlice(key)...)
	}
	return all
}

// IncludePaths returns the deduplicated include paths in configured order.
// Relative project entries are resolved against the project directory.
func (s *Settings) IncludePaths() []string {
	paths := append([]string{}, s.global.GetStringSlice(KeyIncludePaths)...)
	if s.project != nil {
		base := filepath.Dir(s.ProjectFile)
		for _, p := range s.project.GetStringSlice(KeyIncludePaths) {
			if !filepath.IsAbs(p) {
				p = filepath.Join(base, p)
			}
			paths = append(paths, p)
		}
	}
	return DedupePaths(paths)
}

// ServerConfig builds the server configuration for the next generation.
func (s *Settings) ServerConfig() ServerConfig {
	return ServerConfig{
		BinaryDir:   s.GetString(KeyPath),
		Port:        s.GetInt(KeyPort),
		SearchPaths: s.IncludePaths(),
	}
}

// ClientOptions returns the client options driven by settings.
func (s *Settings) ClientOptions() []ClientOption {
	return []ClientOption{
		WithReadinessWait(s.GetDuration(KeyReadinessTimeout)),
		WithEscapeDecoding(s.GetBool(KeyDecodeEscapes)),
	}
}

// SupervisorOptions returns the supervisor options driven by settings.
func (s *Settings) SupervisorOptions() []SupervisorOption {
	return []SupervisorOption{
		WithTerminateGrace(s.GetDuration(KeyTerminateGrace)),
	}
}
