package builder

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEnv(goos string) ConfigEnv {
	return ConfigEnv{
		TargetOS:   goos,
		TargetArch: "amd64",
		Environ:    map[string]string{"HOME": "/home/test"},
	}
}

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig(strings.NewReader(`
[package]
name = "app"
description = "test package"

[target]
sources = ["src/**/*.c"]
include-dirs = ["include"]
cflags = ["-Wall"]
ldflags = ["-lm"]

[target.defines]
VERBOSE = ""
LEVEL = "2"

[dependencies]
libhello = "gh:someone/libhello"
`), testEnv("linux"))
	require.NoError(t, err)

	assert.Equal(t, "app", cfg.Package.Name)
	assert.Equal(t, []string{"src/**/*.c"}, cfg.Target.Sources)
	assert.Equal(t, []string{"include"}, cfg.Target.IncludeDirs)
	assert.Equal(t, []string{"-Wall"}, cfg.Target.Cflags)
	assert.Equal(t, []string{"-lm"}, cfg.Target.Ldflags)
	assert.Equal(t, map[string]string{"VERBOSE": "", "LEVEL": "2"}, cfg.Target.Defines)
	assert.Equal(t, map[string]string{"libhello": "gh:someone/libhello"}, cfg.Dependencies)
}

func TestParseConfigDefaultProfiles(t *testing.T) {
	cfg, err := ParseConfig(strings.NewReader(`[package]
name = "app"
`), testEnv("linux"))
	require.NoError(t, err)

	assert.Equal(t, []string{"debug", "release"}, cfg.Profiles())
	assert.Equal(t, "3", cfg.Profile["release"].OptLevel.String())
	assert.Equal(t, "", cfg.Profile["debug"].OptLevel.String())
}

func TestParseConfigCustomProfile(t *testing.T) {
	cfg, err := ParseConfig(strings.NewReader(`
[profile.small]
opt-level = "s"

[profile.fast]
opt-level = 2
`), testEnv("linux"))
	require.NoError(t, err)

	// opt-level decodes whether written as a string or an integer
	assert.Equal(t, "s", cfg.Profile["small"].OptLevel.String())
	assert.Equal(t, "2", cfg.Profile["fast"].OptLevel.String())
	assert.Contains(t, cfg.Profiles(), "release")
}

func TestParseConfigProfileOverridesDefault(t *testing.T) {
	cfg, err := ParseConfig(strings.NewReader(`
[profile.release]
opt-level = "z"
`), testEnv("linux"))
	require.NoError(t, err)

	assert.Equal(t, "z", cfg.Profile["release"].OptLevel.String())
	assert.Equal(t, "", cfg.Profile["debug"].OptLevel.String())
}

func TestParseConfigBadProfile(t *testing.T) {
	_, err := ParseConfig(strings.NewReader(`
[profile.small]
opt-level = true
`), testEnv("linux"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "opt-level")
}

func TestParseConfigConditionalTarget(t *testing.T) {
	const src = `
[target]
cflags = ["-Wall"]

[target.'target_os == "darwin"']
ldflags = ["-framework", "Foundation"]
cflags = ["-fobjc-arc"]

[target.'target_os == "linux"']
ldflags = ["-ldl"]
`

	t.Run("matching condition merges", func(t *testing.T) {
		cfg, err := ParseConfig(strings.NewReader(src), testEnv("darwin"))
		require.NoError(t, err)
		assert.Equal(t, []string{"-Wall", "-fobjc-arc"}, cfg.Target.Cflags)
		assert.Equal(t, []string{"-framework", "Foundation"}, cfg.Target.Ldflags)
	})

	t.Run("non-matching condition is ignored", func(t *testing.T) {
		cfg, err := ParseConfig(strings.NewReader(src), testEnv("linux"))
		require.NoError(t, err)
		assert.Equal(t, []string{"-Wall"}, cfg.Target.Cflags)
		assert.Equal(t, []string{"-ldl"}, cfg.Target.Ldflags)
	})
}

func TestParseConfigStringExpressions(t *testing.T) {
	cfg, err := ParseConfig(strings.NewReader(`
[package]
name = "app-{{ target_os }}"

[target]
cflags = ["-DARCH={{ target_arch }}"]
`), testEnv("linux"))
	require.NoError(t, err)

	assert.Equal(t, "app-linux", cfg.Package.Name)
	assert.Equal(t, []string{"-DARCH=amd64"}, cfg.Target.Cflags)
}

func TestParseConfigBadExpression(t *testing.T) {
	_, err := ParseConfig(strings.NewReader(`
[package]
name = "{{ nonsense( }}"
`), testEnv("linux"))
	require.Error(t, err)
}

func TestParseConfigBadToml(t *testing.T) {
	_, err := ParseConfig(strings.NewReader(`[package
name = "app"`), testEnv("linux"))
	require.Error(t, err)
}
