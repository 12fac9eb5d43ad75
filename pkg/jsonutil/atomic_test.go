package jsonutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestWriteAtomic_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")

	in := payload{Name: "x", Count: 3}
	require.NoError(t, WriteAtomic(path, in))

	var out payload
	require.NoError(t, ReadFile(path, &out))
	assert.Equal(t, in, out)
}

func TestWriteAtomic_CreatesParentDirs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deeper", "data.json")

	require.NoError(t, WriteAtomic(path, payload{}))

	_, err := os.Stat(path)
	assert.NoError(t, err)
}

func TestWriteAtomic_ReplacesExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")

	require.NoError(t, WriteAtomic(path, payload{Name: "old"}))
	require.NoError(t, WriteAtomic(path, payload{Name: "new"}))

	var out payload
	require.NoError(t, ReadFile(path, &out))
	assert.Equal(t, "new", out.Name)
}

func TestWriteAtomic_LeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, WriteAtomic(filepath.Join(dir, "data.json"), payload{}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "data.json", entries[0].Name())
}

func TestReadFile_Missing(t *testing.T) {
	var out payload
	err := ReadFile(filepath.Join(t.TempDir(), "absent.json"), &out)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestReadFile_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	var out payload
	assert.Error(t, ReadFile(path, &out))
}
