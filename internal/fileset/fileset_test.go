package fileset

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTree(t *testing.T, files ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, f := range files {
		path := filepath.Join(dir, f)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	}
	return dir
}

func TestResolveIn_DeduplicatesAndKeepsOrder(t *testing.T) {
	dir := writeTree(t, "spec/a_spec.rb", "spec/b_spec.rb", "spec/models/c_spec.rb")

	files, err := ResolveIn(dir, []string{"spec/b_spec.rb", "spec/**/*_spec.rb"})
	require.NoError(t, err)

	assert.Equal(t, []string{"spec/b_spec.rb", "spec/a_spec.rb", "spec/models/c_spec.rb"}, files)
}

func TestResolveIn_NoMatches(t *testing.T) {
	dir := writeTree(t, "lib/a.rb")

	files, err := ResolveIn(dir, []string{"spec/**/*_spec.rb"})
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestResolveIn_SkipsDirectories(t *testing.T) {
	dir := writeTree(t, "spec/a.rb", "spec/nested/b.rb")

	files, err := ResolveIn(dir, []string{"spec/*"})
	require.NoError(t, err)
	assert.Equal(t, []string{"spec/a.rb"}, files)
}

func TestResolveIn_MatchesEverythingThePatternsMatch(t *testing.T) {
	dir := writeTree(t, "a.rb", "b.rb", "tmp/c.rb")

	files, err := ResolveIn(dir, []string{"**/*.rb"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.rb", "b.rb", "tmp/c.rb"}, files)
}

func TestUnsynced(t *testing.T) {
	files := []string{"spec/a_spec.rb", "spec/tmp/b_spec.rb", "vendor/spec/c_spec.rb"}

	assert.Equal(t, []string{"spec/tmp/b_spec.rb", "vendor/spec/c_spec.rb"},
		Unsynced(files, []string{"tmp/", "vendor"}))
	assert.Nil(t, Unsynced(files, nil))
	assert.Empty(t, Unsynced(files, []string{"log"}))
}

func TestResolveIn_InvalidPattern(t *testing.T) {
	_, err := ResolveIn(t.TempDir(), []string{"spec/[a-"})
	assert.Error(t, err)
}
