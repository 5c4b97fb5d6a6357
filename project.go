package dkit

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"github.com/tidwall/gjson"
)

// PackageDescription is one package of a dub project description.
type PackageDescription struct {
	Name        string
	Path        string
	ImportPaths []string
}

// ProjectDescription is the subset of `dub describe` output used to compute
// include paths.
type ProjectDescription struct {
	RootPackage string
	Packages    []PackageDescription
	Cached      bool
}

// IncludePaths returns the absolute import paths of every package in
// package order.
func (d ProjectDescription) IncludePaths() []string {
	var paths []string
	for _, pkg := range d.Packages {
		for _, ip := range pkg.ImportPaths {
			if !filepath.IsAbs(ip) {
				ip = filepath.Join(pkg.Path, ip)
			}
			paths = append(paths, filepath.Clean(ip))
		}
	}
	return DedupePaths(paths)
}

// ParseDescription decodes `dub describe` JSON.
func ParseDescription(data []byte) (ProjectDescription, error) {
	if !gjson.ValidBytes(data) {
		return ProjectDescription{}, NewProjectError("dub describe output is not valid JSON", ErrMalformedProjectDescription)
	}

	doc := gjson.ParseBytes(data)
	packages := doc.Get("packages")
	if !packages.IsArray() {
		return ProjectDescription{}, WithDetails(
			NewProjectError("dub describe output has no packages", ErrMalformedProjectDescription),
			"Expected a top-level \"packages\" array")
	}

	desc := ProjectDescription{RootPackage: doc.Get("rootPackage").String()}
	for _, pkg := range packages.Array() {
		pd := PackageDescription{
			Name: pkg.Get("name").String(),
			Path: pkg.Get("path").String(),
		}
		for _, ip := range pkg.Get("importPaths").Array() {
			pd.ImportPaths = append(pd.ImportPaths, ip.String())
		}
		desc.Packages = append(desc.Packages, pd)
	}
	return desc, nil
}

// Project wraps the dub package manager CLI.
type Project struct {
	dub    string
	runner Runner
	fs     afero.Fs
	cache  DescriptionCache
	logger *slog.Logger
}

// ProjectOption is a functional option for Project
type ProjectOption func(*Project)

// WithProjectRunner replaces the subprocess runner.
func WithProjectRunner(runner Runner) ProjectOption {
	return func(p *Project) {
		p.runner = runner
	}
}

// WithDescriptionCache caches descriptions keyed on the package manifest.
func WithDescriptionCache(cache DescriptionCache) ProjectOption {
	return func(p *Project) {
		p.cache = cache
	}
}

// NewProject creates a dub wrapper. dub is the executable, "dub" if empty.
func NewProject(dub string, logger *slog.Logger, fs afero.Fs, opts ...ProjectOption) *Project {
	if dub == "" {
		dub = "dub"
	}
	if fs == nil {
		fs = afero.NewOsFs()
	}
	logger = ensureLogger(logger)

	p := &Project{
		dub:    dub,
		runner: ExecRunner{Logger: logger},
		fs:     fs,
		logger: logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

var manifestNames = []string{"dub.json", "dub.sdl", "package.json"}

// Manifest returns the package manifest in dir, or "" if there is none.
func (p *Project) Manifest(dir string) string {
	for _, name := range manifestNames {
		path := filepath.Join(dir, name)
		if ok, _ := afero.Exists(p.fs, path); ok {
			return path
		}
	}
	return ""
}

// Describe runs `dub describe` for the project in dir.
func (p *Project) Describe(ctx context.Context, dir string) (ProjectDescription, error) {
	manifest := p.Manifest(dir)
	if manifest == "" {
		return ProjectDescription{}, WithDetails(WithFile(
			NewProjectError("no dub package manifest", ErrMalformedProjectDescription), dir),
			"Expected dub.json or dub.sdl in the project directory")
	}

	if p.cache != nil {
		desc, err := p.cache.Get(manifest)
		if err == nil {
			p.logger.Debug("Using cached project description", "manifest", manifest)
			return desc, nil
		}
		if !errors.Is(err, ErrEntryNotFound) {
			p.logger.Warn("Error reading cached project description", "manifest", manifest, "error", err)
		}
	}

	out, err := p.runner.Run(ctx, p.dub, []string{"describe", "--root=" + dir}, nil)
	if err != nil {
		return ProjectDescription{}, p.dubError(err)
	}

	desc, err := ParseDescription(out)
	if err != nil {
		return ProjectDescription{}, WithFile(err, manifest)
	}

	if p.cache != nil {
		if err := p.cache.Put(manifest, desc); err != nil {
			p.logger.Warn("Failed to cache project description", "manifest", manifest, "error", err)
		}
	}
	return desc, nil
}

// ListInstalled returns the packages reported by `dub list`, without the
// header line and blank lines.
func (p *Project) ListInstalled(ctx context.Context) ([]string, error) {
	out, err := p.runner.Run(ctx, p.dub, []string{"list"}, nil)
	if err != nil {
		return nil, p.dubError(err)
	}

	lines := splitLines(string(out))
	if len(lines) > 0 {
		lines = lines[1:]
	}

	packages := make([]string, 0, len(lines))
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			packages = append(packages, line)
		}
	}
	return packages, nil
}

func (p *Project) dubError(err error) error {
	if errors.Is(err, ErrSubprocessSpawn) {
		return WithDetails(err, "Unable to run dub. Make sure it is installed and on your PATH")
	}
	return NewProjectError("dub failed", err)
}
