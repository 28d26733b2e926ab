package source

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRevision_ReturnsHeadCommit(t *testing.T) {
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "spec"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "spec", "a_spec.rb"), []byte("describe 'a'\n"), 0o644))

	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add("spec/a_spec.rb")
	require.NoError(t, err)
	hash, err := wt.Commit("initial", &git.CommitOptions{
		Author: &object.Signature{Name: "ci", Email: "ci@example.com", When: time.Now()},
	})
	require.NoError(t, err)

	rev, err := Revision(filepath.Join(dir, "spec"))
	require.NoError(t, err)
	assert.Equal(t, hash.String(), rev)
}

func TestRevision_NotARepository(t *testing.T) {
	_, err := Revision(t.TempDir())
	assert.Error(t, err)
}
