package artifact

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateName(t *testing.T) {
	tests := []struct {
		name  string
		input string
		valid bool
	}{
		{"artifact", "WHC_TORONTO_5051_201001_201002_daily.csv", true},
		{"empty", "", false},
		{"dot", ".", false},
		{"dotdot", "..", false},
		{"traversal", "../etc/passwd", false},
		{"nested", "a/b.csv", false},
		{"backslash", `a\b.csv`, false},
		{"hidden", ".tmp-123", false},
		{"nul", "a\x00.csv", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.input)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidName)
			}
		})
	}
}

func TestStore_PathAndExists(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "staging")
	store, err := NewStore(dir)
	require.NoError(t, err)

	path, err := store.Path("a.csv")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "a.csv"), path)

	ok, err := store.Exists("a.csv")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	ok, err = store.Exists("a.csv")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))
	ok, err = store.Exists("sub")
	require.NoError(t, err)
	assert.False(t, ok, "directories are not artifacts")

	_, err = store.Exists("../a.csv")
	assert.ErrorIs(t, err, ErrInvalidName)
}

func TestStore_Sweep(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)

	old := filepath.Join(dir, "old.csv")
	fresh := filepath.Join(dir, "fresh.csv")
	require.NoError(t, os.WriteFile(old, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(fresh, []byte("x"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "keep"), 0o755))

	past := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(old, past, past))

	removed, err := store.Sweep(24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	assert.NoFileExists(t, old)
	assert.FileExists(t, fresh)
	assert.DirExists(t, filepath.Join(dir, "keep"))
}

func TestNewStore_RequiresDir(t *testing.T) {
	_, err := NewStore("")
	assert.Error(t, err)
}
