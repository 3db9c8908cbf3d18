package git

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
}

func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cmd := exec.Command("git", "init")
	cmd.Dir = dir
	require.NoError(t, cmd.Run())
	return dir
}

func TestRoot(t *testing.T) {
	requireGit(t)
	dir := initRepo(t)

	root, err := Root(context.Background(), dir)
	require.NoError(t, err)

	// Resolve symlinks on both sides; macOS tempdirs live behind /private
	wantResolved, _ := filepath.EvalSymlinks(dir)
	gotResolved, _ := filepath.EvalSymlinks(root)
	assert.Equal(t, wantResolved, gotResolved)
}

func TestRoot_NotARepo(t *testing.T) {
	requireGit(t)

	_, err := Root(context.Background(), t.TempDir())
	assert.Error(t, err)
}

func TestValidateContext(t *testing.T) {
	requireGit(t)
	dir := initRepo(t)

	resolved, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	assert.NoError(t, ValidateContext(context.Background(), resolved))
}

func TestValidateContext_Subdirectory(t *testing.T) {
	requireGit(t)
	dir := initRepo(t)

	sub := filepath.Join(dir, "internal")
	require.NoError(t, os.MkdirAll(sub, 0755))

	err := ValidateContext(context.Background(), sub)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "repository root")
}

func TestConflicts_CleanRepo(t *testing.T) {
	requireGit(t)
	cli := NewCLI(initRepo(t))

	conflicts, err := cli.Conflicts(context.Background())
	require.NoError(t, err)
	assert.Empty(t, conflicts)
}

func TestCommit_NothingStaged(t *testing.T) {
	requireGit(t)
	cli := NewCLI(initRepo(t))

	committed, err := cli.Commit(context.Background(), "empty")
	require.NoError(t, err)
	assert.False(t, committed)
}
