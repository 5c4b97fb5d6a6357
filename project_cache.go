package dkit

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gophersatwork/granular"
	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/varint"
	"github.com/spf13/afero"
)

var (
	ErrEntryNotFound            = errors.New("entry not found")
	ErrReadingCachedDescription = errors.New("cached project description is invalid")
)

// DescriptionCache stores project descriptions keyed on the content of the
// package manifest.
type DescriptionCache interface {
	// Get returns the description cached for manifest, or ErrEntryNotFound
	Get(manifest string) (ProjectDescription, error)

	// Put stores desc for the current content of manifest
	Put(manifest string, desc ProjectDescription) error
}

// MusDescriptionCache is a granular cache holding MUS-encoded descriptions.
// Entries are invalidated whenever the manifest or dub.selections.json next
// to it changes.
type MusDescriptionCache struct {
	gCache *granular.Cache
	fs     afero.Fs
}

// DefaultCacheDir returns $HOME/.dkit/cache.
func DefaultCacheDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".dkit", "cache"), nil
}

// NewMusDescriptionCache opens (or creates) the cache at path.
func NewMusDescriptionCache(path string, fs afero.Fs) (*MusDescriptionCache, error) {
	opts := []granular.Option{}
	if fs != nil {
		opts = append(opts, granular.WithFs(fs))
	}

	cache, err := granular.New(path, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create granular cache: %w", err)
	}

	return &MusDescriptionCache{gCache: cache, fs: fs}, nil
}

func (c *MusDescriptionCache) key(manifest string) granular.Key {
	manifest = NormalizePath(manifest)
	inputs := []granular.Input{granular.FileInput{Path: manifest, Fs: c.fs}}

	selections := JoinPaths(DirPath(manifest), "dub.selections.json")
	if c.fs != nil {
		if ok, _ := afero.Exists(c.fs, selections); ok {
			inputs = append(inputs, granular.FileInput{Path: selections, Fs: c.fs})
		}
	}
	return granular.Key{Inputs: inputs}
}

// Put implements DescriptionCache.
func (c *MusDescriptionCache) Put(manifest string, desc ProjectDescription) error {
	data := marshalDescription(desc)
	res := granular.Result{
		Metadata: map[string]string{
			"description": string(data),
			"manifest":    filepath.Base(manifest),
		},
	}

	if err := c.gCache.Store(c.key(manifest), res); err != nil {
		return fmt.Errorf("failed to store in cache: %w", err)
	}
	return nil
}

// Get implements DescriptionCache.
func (c *MusDescriptionCache) Get(manifest string) (ProjectDescription, error) {
	result, found, _ := c.gCache.Get(c.key(manifest))
	if !found {
		return ProjectDescription{}, ErrEntryNotFound
	}

	data, ok := result.Metadata["description"]
	if !ok {
		return ProjectDescription{}, ErrReadingCachedDescription
	}

	desc, err := unmarshalDescription([]byte(data))
	if err != nil {
		return ProjectDescription{}, fmt.Errorf("%w: %v", ErrReadingCachedDescription, err)
	}
	desc.Cached = true
	return desc, nil
}

// marshalDescription serializes a description using MUS format with varint
// length prefixes.
func marshalDescription(d ProjectDescription) []byte {
	buf := make([]byte, descriptionSize(d))
	n := ord.MarshalString(d.RootPackage, varint.PositiveInt, buf)
	n += varint.Uint64.Marshal(uint64(len(d.Packages)), buf[n:])
	for _, pkg := range d.Packages {
		n += ord.MarshalString(pkg.Name, varint.PositiveInt, buf[n:])
		n += ord.MarshalString(pkg.Path, varint.PositiveInt, buf[n:])
		n += varint.Uint64.Marshal(uint64(len(pkg.ImportPaths)), buf[n:])
		for _, ip := range pkg.ImportPaths {
			n += ord.MarshalString(ip, varint.PositiveInt, buf[n:])
		}
	}
	return buf[:n]
}

// descriptionSize calculates the exact size needed for MUS encoding
func descriptionSize(d ProjectDescription) int {
	size := ord.SizeString(d.RootPackage, varint.PositiveInt)
	size += varint.Uint64.Size(uint64(len(d.Packages)))
	for _, pkg := range d.Packages {
		size += ord.SizeString(pkg.Name, varint.PositiveInt)
		size += ord.SizeString(pkg.Path, varint.PositiveInt)
		size += varint.Uint64.Size(uint64(len(pkg.ImportPaths)))
		for _, ip := range pkg.ImportPaths {
			size += ord.SizeString(ip, varint.PositiveInt)
		}
	}
	return size
}

func unmarshalDescription(buf []byte) (ProjectDescription, error) {
	var d ProjectDescription

	root, n, err := unmarshalString(buf)
	if err != nil {
		return d, fmt.Errorf("failed to unmarshal root package: %w", err)
	}
	d.RootPackage = root

	count, m, err := varint.Uint64.Unmarshal(buf[n:])
	if err != nil {
		return d, fmt.Errorf("failed to unmarshal package count: %w", err)
	}
	n += m

	for i := uint64(0); i < count; i++ {
		var pkg PackageDescription

		if pkg.Name, m, err = unmarshalString(buf[n:]); err != nil {
			return d, fmt.Errorf("failed to unmarshal package %d name: %w", i, err)
		}
		n += m

		if pkg.Path, m, err = unmarshalString(buf[n:]); err != nil {
			return d, fmt.Errorf("failed to unmarshal package %d path: %w", i, err)
		}
		n += m

		paths, m, err := varint.Uint64.Unmarshal(buf[n:])
		if err != nil {
			return d, fmt.Errorf("failed to unmarshal package %d import path count: %w", i, err)
		}
		n += m

		for j := uint64(0); j < paths; j++ {
			ip, m, err := unmarshalString(buf[n:])
			if err != nil {
				return d, fmt.Errorf("failed to unmarshal package %d import path %d: %w", i, j, err)
			}
			n += m
			pkg.ImportPaths = append(pkg.ImportPaths, ip)
		}

		d.Packages = append(d.Packages, pkg)
	}

	return d, nil
}

// unmarshalString reads a varint length-prefixed string
func unmarshalString(data []byte) (string, int, error) {
	length, bytesRead, err := varint.PositiveInt.Unmarshal(data)
	if err != nil {
		return "", 0, fmt.Errorf("failed to read string length: %w", err)
	}

	if len(data[bytesRead:]) < length {
		return "", bytesRead, fmt.Errorf("buffer too small for string of length %d", length)
	}

	return string(data[bytesRead : bytesRead+length]), bytesRead + length, nil
}
