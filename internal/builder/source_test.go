package builder

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestDialectForPath(t *testing.T) {
	cases := []struct {
		path    string
		dialect Dialect
		ok      bool
	}{
		{"main.c", DialectC, true},
		{"main.cc", DialectCxx, true},
		{"main.cpp", DialectCxx, true},
		{"main.cxx", DialectCxx, true},
		{"view.m", DialectObjC, true},
		{"view.mm", DialectObjCxx, true},
		{"MAIN.C", DialectC, true},
		{"header.h", 0, false},
		{"README.md", 0, false},
		{"noext", 0, false},
	}

	for _, tc := range cases {
		t.Run(tc.path, func(t *testing.T) {
			d, ok := DialectForPath(tc.path)
			assert.Equal(t, tc.ok, ok)
			if tc.ok {
				assert.Equal(t, tc.dialect, d)
			}
		})
	}
}

func TestDialectIsCxx(t *testing.T) {
	assert.False(t, DialectC.IsCxx())
	assert.True(t, DialectCxx.IsCxx())
	assert.False(t, DialectObjC.IsCxx())
	assert.True(t, DialectObjCxx.IsCxx())
}

func TestDiscoverSources(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, filepath.Join(root, "b.cc"), "")
	writeTestFile(t, filepath.Join(root, "a.c"), "")
	writeTestFile(t, filepath.Join(root, "view.m"), "")
	writeTestFile(t, filepath.Join(root, "header.h"), "")
	writeTestFile(t, filepath.Join(root, "notes.txt"), "")
	writeTestFile(t, filepath.Join(root, "sub", "nested.c"), "")

	t.Run("flat by default", func(t *testing.T) {
		sources, err := discoverSources(root, defaultSourcePatterns(false))
		require.NoError(t, err)

		var rels []string
		for _, src := range sources {
			rels = append(rels, src.Rel)
		}
		assert.Equal(t, []string{"a.c", "b.cc", "view.m"}, rels)
	})

	t.Run("recursive when enabled", func(t *testing.T) {
		sources, err := discoverSources(root, defaultSourcePatterns(true))
		require.NoError(t, err)

		var rels []string
		for _, src := range sources {
			rels = append(rels, src.Rel)
		}
		assert.Contains(t, rels, filepath.Join("sub", "nested.c"))
	})

	t.Run("classifies dialects", func(t *testing.T) {
		sources, err := discoverSources(root, defaultSourcePatterns(false))
		require.NoError(t, err)

		byRel := make(map[string]Dialect)
		for _, src := range sources {
			byRel[src.Rel] = src.Dialect
		}
		assert.Equal(t, DialectC, byRel["a.c"])
		assert.Equal(t, DialectCxx, byRel["b.cc"])
		assert.Equal(t, DialectObjC, byRel["view.m"])
	})

	t.Run("absolute paths and timestamps", func(t *testing.T) {
		sources, err := discoverSources(root, defaultSourcePatterns(false))
		require.NoError(t, err)
		require.NotEmpty(t, sources)

		for _, src := range sources {
			assert.True(t, filepath.IsAbs(src.Path))
			assert.False(t, src.ModTime.IsZero())
		}
	})

	t.Run("duplicate patterns do not duplicate sources", func(t *testing.T) {
		sources, err := discoverSources(root, []string{"*.c", "*.c", "a.c"})
		require.NoError(t, err)
		assert.Len(t, sources, 1)
	})
}

func TestDiscoverSourcesEmptyRoot(t *testing.T) {
	sources, err := discoverSources(t.TempDir(), defaultSourcePatterns(false))
	require.NoError(t, err)
	assert.Empty(t, sources)
}

func TestDiscoverSourcesMissingRoot(t *testing.T) {
	_, err := discoverSources(filepath.Join(t.TempDir(), "does-not-exist"), defaultSourcePatterns(false))
	require.Error(t, err)

	var derr *DiscoveryError
	require.ErrorAs(t, err, &derr)
	assert.Contains(t, derr.Root, "does-not-exist")
}
