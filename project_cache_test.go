package dkit

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleDescription() ProjectDescription {
	return ProjectDescription{
		RootPackage: "app",
		Packages: []PackageDescription{
			{Name: "app", Path: "/work/app", ImportPaths: []string{"source"}},
			{Name: "vibe-d", Path: "/opt/vibe-d", ImportPaths: []string{"source", "/opt/extra"}},
			{Name: "empty", Path: "/opt/empty"},
		},
	}
}

func TestMusDescriptionCache(t *testing.T) {
	fs := afero.NewMemMapFs()
	manifest := "/work/app/dub.json"
	require.NoError(t, afero.WriteFile(fs, manifest, []byte(`{"name": "app"}`), 0o644))

	t.Run("miss before store", func(t *testing.T) {
		cache, err := NewMusDescriptionCache("/cache/miss", fs)
		require.NoError(t, err)

		_, err = cache.Get(manifest)
		assert.ErrorIs(t, err, ErrEntryNotFound)
	})

	t.Run("store and retrieve", func(t *testing.T) {
		cache, err := NewMusDescriptionCache("/cache/hit", fs)
		require.NoError(t, err)

		require.NoError(t, cache.Put(manifest, sampleDescription()))

		desc, err := cache.Get(manifest)
		require.NoError(t, err)
		assert.True(t, desc.Cached)
		assert.Equal(t, "app", desc.RootPackage)
		assert.Equal(t, sampleDescription().Packages, desc.Packages)
	})

	t.Run("manifest change invalidates", func(t *testing.T) {
		cache, err := NewMusDescriptionCache("/cache/invalidate", fs)
		require.NoError(t, err)

		path := "/work/lib/dub.json"
		require.NoError(t, afero.WriteFile(fs, path, []byte(`{"name": "lib"}`), 0o644))
		require.NoError(t, cache.Put(path, sampleDescription()))

		require.NoError(t, afero.WriteFile(fs, path, []byte(`{"name": "lib", "dependencies": {"vibe-d": "~>0.9"}}`), 0o644))
		_, err = cache.Get(path)
		assert.ErrorIs(t, err, ErrEntryNotFound)
	})
}

func TestUnmarshalDescription_Truncated(t *testing.T) {
	data := marshalDescription(sampleDescription())
	require.Len(t, data, descriptionSize(sampleDescription()))

	_, err := unmarshalDescription(data[:len(data)-3])
	assert.Error(t, err)
}
