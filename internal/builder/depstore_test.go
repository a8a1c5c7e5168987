package builder

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadRecordAbsent(t *testing.T) {
	rec, err := loadRecord(filepath.Join(t.TempDir(), "never-compiled.o"))
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestSaveLoadRecord(t *testing.T) {
	obj := filepath.Join(t.TempDir(), "main.c.o")

	want := &Record{
		Includes:   []string{"/some/where/foo.h", "/some/where/bar.h"},
		Cflags:     []string{"-O2", "-Iinclude"},
		ProducedAt: time.Now().Truncate(time.Millisecond),
	}
	require.NoError(t, saveRecord(obj, want))

	got, err := loadRecord(obj)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, want.Includes, got.Includes)
	assert.Equal(t, want.Cflags, got.Cflags)
	assert.True(t, want.ProducedAt.Equal(got.ProducedAt))
}

func TestSaveRecordOverwrites(t *testing.T) {
	obj := filepath.Join(t.TempDir(), "main.c.o")

	require.NoError(t, saveRecord(obj, &Record{Includes: []string{"old.h"}, ProducedAt: time.Now()}))
	require.NoError(t, saveRecord(obj, &Record{Includes: []string{"new.h"}, ProducedAt: time.Now()}))

	got, err := loadRecord(obj)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []string{"new.h"}, got.Includes)
}

func TestLoadRecordTornWrite(t *testing.T) {
	obj := filepath.Join(t.TempDir(), "main.c.o")

	// a crash mid-write must read back as absent, never as an error
	require.NoError(t, os.WriteFile(recordPath(obj), []byte(`{"includes": ["foo.h"`), 0644))

	rec, err := loadRecord(obj)
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestSaveRecordLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	obj := filepath.Join(dir, "main.c.o")
	require.NoError(t, saveRecord(obj, &Record{ProducedAt: time.Now()}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, filepath.Base(recordPath(obj)), entries[0].Name())
}

func TestRemoveRecord(t *testing.T) {
	obj := filepath.Join(t.TempDir(), "main.c.o")
	require.NoError(t, saveRecord(obj, &Record{ProducedAt: time.Now()}))

	require.NoError(t, removeRecord(obj))
	rec, err := loadRecord(obj)
	require.NoError(t, err)
	assert.Nil(t, rec)

	// removing an absent record is not an error
	require.NoError(t, removeRecord(obj))
}
